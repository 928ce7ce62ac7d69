// Package router wires up the PostVault routes and applies the middleware
// chain (RequestID → AccessLog → Metrics → CORS).
package router

import (
	"net/http"
	"time"

	"github.com/postvault/postvault/internal/export"
	"github.com/postvault/postvault/internal/gateway/handler"
	"github.com/postvault/postvault/pkg/health"
	"github.com/postvault/postvault/pkg/metrics"
	"github.com/postvault/postvault/pkg/middleware"
)

// Options tunes the router.
type Options struct {
	// IngestTimeout bounds the two ingestion routes. Zero disables it.
	IngestTimeout time.Duration
	CORS          middleware.CORSConfig
}

// New builds the full HTTP handler.
//
// Route table:
//
//	GET    /                      → search form
//	POST   /search                → form submission
//	GET    /posts                 → stored posts (HTML)
//	POST   /api/v1/ingest         → ingest (JSON)
//	GET    /api/v1/posts          → stored posts (JSON)
//	GET    /api/v1/export.csv     → tweets.csv download
//	GET    /api/v1/export.json    → tweets.json download
//	GET    /health/live           → liveness
//	GET    /health/ready          → readiness
//
// m may be nil, in which case no HTTP metrics are recorded.
func New(h *handler.Handler, checker *health.Checker, m *metrics.Metrics, opts Options) http.Handler {
	mux := http.NewServeMux()
	ingestTimeout := middleware.Timeout(opts.IngestTimeout)

	// Health
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	// Web form
	mux.HandleFunc("GET /{$}", h.Index)
	mux.Handle("POST /search", ingestTimeout(http.HandlerFunc(h.SearchForm)))
	mux.HandleFunc("GET /posts", h.ListPostsPage)

	// JSON API
	mux.Handle("POST /api/v1/ingest", ingestTimeout(http.HandlerFunc(h.Ingest)))
	mux.HandleFunc("GET /api/v1/posts", h.ListPosts)
	mux.HandleFunc("GET /api/v1/export.csv", h.Export(export.FormatCSV))
	mux.HandleFunc("GET /api/v1/export.json", h.Export(export.FormatJSON))

	// Applied inside-out. Metrics must receive the same *http.Request the
	// mux does so it can read the matched pattern.
	var chain http.Handler = mux
	chain = middleware.CORS(opts.CORS)(chain)
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	chain = middleware.AccessLog(chain)
	chain = middleware.RequestID(chain)
	return chain
}
