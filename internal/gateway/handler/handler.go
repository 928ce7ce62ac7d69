// Package handler implements the web form, the JSON API, and the export
// downloads on top of the ingestion pipeline and the post store.
package handler

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/postvault/postvault/internal/export"
	"github.com/postvault/postvault/internal/ingestion"
	"github.com/postvault/postvault/internal/ingestion/validator"
	apperrors "github.com/postvault/postvault/pkg/errors"
	"github.com/postvault/postvault/pkg/logger"
)

//go:embed templates/*.html
var templateFS embed.FS

const dateLayout = "2006-01-02"

// Ingester runs one ingestion call.
type Ingester interface {
	Ingest(ctx context.Context, req ingestion.QueryRequest) (ingestion.IngestResult, error)
}

// Config holds the form limits shown to users.
type Config struct {
	Bounds         validator.Bounds
	DefaultResults int
}

// Handler serves every PostVault HTTP endpoint except health and metrics.
type Handler struct {
	ingester Ingester
	store    ingestion.PostStore
	cfg      Config
	tmpl     *template.Template
	logger   *slog.Logger
}

// New creates a Handler.
func New(cfg Config, ingester Ingester, store ingestion.PostStore) *Handler {
	return &Handler{
		ingester: ingester,
		store:    store,
		cfg:      cfg,
		tmpl:     template.Must(template.ParseFS(templateFS, "templates/*.html")),
		logger:   logger.WithComponent("http-handler"),
	}
}

// flash is the one summary message shown after a form submission.
type flash struct {
	Level string
	Text  string
}

type formValues struct {
	Keyword   string
	Count     int
	StartDate string
	EndDate   string
}

type indexPage struct {
	Title    string
	Flash    *flash
	Form     formValues
	Min, Max int
	Stored   int
}

type postsPage struct {
	Title string
	Posts []ingestion.Post
}

// ---------- HTML ----------

// Index renders the search form.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	h.renderIndex(w, r, http.StatusOK, formValues{Count: h.cfg.DefaultResults}, nil)
}

// SearchForm handles a form submission and re-renders the form with the
// outcome.
func (h *Handler) SearchForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderIndex(w, r, http.StatusBadRequest, formValues{Count: h.cfg.DefaultResults}, &flash{Level: "error", Text: "Could not read the form."})
		return
	}
	form := formValues{
		Keyword:   r.PostForm.Get("keyword"),
		StartDate: r.PostForm.Get("start_date"),
		EndDate:   r.PostForm.Get("end_date"),
	}
	req, err := h.queryRequest(form.Keyword, r.PostForm.Get("count"), form.StartDate, form.EndDate)
	form.Count = req.ResultBound
	if err != nil {
		h.renderIndex(w, r, apperrors.HTTPStatusCode(err), form, summarize(ingestion.IngestResult{}, err))
		return
	}

	res, err := h.ingester.Ingest(r.Context(), req)
	status := http.StatusOK
	if err != nil {
		status = apperrors.HTTPStatusCode(err)
	}
	h.renderIndex(w, r, status, form, summarize(res, err))
}

// ListPostsPage renders every stored post, newest first.
func (h *Handler) ListPostsPage(w http.ResponseWriter, r *http.Request) {
	posts, err := h.store.ListAll(r.Context())
	if err != nil {
		h.logger.Error("failed to list posts", "error", err)
		http.Error(w, "failed to load posts", http.StatusInternalServerError)
		return
	}
	h.render(w, r, http.StatusOK, "posts", postsPage{Title: "Stored posts", Posts: posts})
}

func (h *Handler) renderIndex(w http.ResponseWriter, r *http.Request, status int, form formValues, f *flash) {
	stored, err := h.store.Count(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Warn("failed to count posts", "error", err)
	}
	h.render(w, r, status, "index", indexPage{
		Title:  "Search",
		Flash:  f,
		Form:   form,
		Min:    h.cfg.Bounds.Min,
		Max:    h.cfg.Bounds.Max,
		Stored: stored,
	})
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.tmpl.ExecuteTemplate(w, name, data); err != nil {
		logger.FromContext(r.Context()).Error("failed to render template", "template", name, "error", err)
	}
}

// summarize turns an ingestion outcome into the single message shown to the
// user.
func summarize(res ingestion.IngestResult, err error) *flash {
	var verr *validator.ValidationError
	switch {
	case err == nil && res.Found == 0:
		return &flash{Level: "warning", Text: res.Message()}
	case err == nil:
		return &flash{Level: "success", Text: res.Message()}
	case errors.As(err, &verr):
		return &flash{Level: "warning", Text: strings.Join(verr.Messages(), " ")}
	case errors.Is(err, apperrors.ErrStorage):
		return &flash{Level: "error", Text: fmt.Sprintf("Error occurred: %s (%d new posts were saved before the failure.)",
			apperrors.UserMessage(err), res.Inserted)}
	default:
		return &flash{Level: "error", Text: "Error occurred: " + apperrors.UserMessage(err)}
	}
}

// ---------- JSON API ----------

type ingestRequest struct {
	Keyword    string `json:"keyword"`
	MaxResults int    `json:"max_results"`
	StartDate  string `json:"start_date,omitempty"`
	EndDate    string `json:"end_date,omitempty"`
}

type ingestResponse struct {
	Inserted int    `json:"inserted"`
	Found    int    `json:"found"`
	Message  string `json:"message"`
}

// Ingest is the JSON form of SearchForm.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var body ingestRequest
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	count := ""
	if body.MaxResults != 0 {
		count = strconv.Itoa(body.MaxResults)
	}
	req, err := h.queryRequest(body.Keyword, count, body.StartDate, body.EndDate)
	if err != nil {
		h.writeIngestError(w, ingestion.IngestResult{}, err)
		return
	}

	res, err := h.ingester.Ingest(r.Context(), req)
	if err != nil {
		h.writeIngestError(w, res, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ingestResponse{Inserted: res.Inserted, Found: res.Found, Message: res.Message()})
}

func (h *Handler) writeIngestError(w http.ResponseWriter, res ingestion.IngestResult, err error) {
	payload := map[string]any{"error": apperrors.UserMessage(err)}
	var verr *validator.ValidationError
	if errors.As(err, &verr) {
		payload["error"] = "validation failed"
		payload["fields"] = verr.Fields
	}
	if errors.Is(err, apperrors.ErrStorage) {
		payload["inserted"] = res.Inserted
		payload["found"] = res.Found
	}
	h.writeJSON(w, apperrors.HTTPStatusCode(err), payload)
}

// ListPosts returns every stored post as JSON, newest first.
func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.store.ListAll(r.Context())
	if err != nil {
		h.logger.Error("failed to list posts", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list posts")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"posts": posts,
		"count": len(posts),
	})
}

// Export returns a handler that streams the store as an attachment in f.
func (h *Handler) Export(f export.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", f.ContentType())
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.Filename()))
		if err := export.Write(r.Context(), w, h.store, f); err != nil {
			// Headers are already sent; all that is left is to log.
			logger.FromContext(r.Context()).Error("export failed", "format", f, "error", err)
		}
	}
}

// ---------- Helpers ----------

// queryRequest parses raw form values. A blank count falls back to the
// default; blank dates leave that side of the range open.
func (h *Handler) queryRequest(keyword, count, start, end string) (ingestion.QueryRequest, error) {
	req := ingestion.QueryRequest{Keyword: keyword, ResultBound: h.cfg.DefaultResults}
	fields := make(map[string]string)

	if count = strings.TrimSpace(count); count != "" {
		n, err := strconv.Atoi(count)
		if err != nil {
			fields["result_bound"] = "number of posts must be a whole number"
		} else {
			req.ResultBound = n
		}
	}
	var err error
	if req.DateRange.Start, err = parseDate(start); err != nil {
		fields["date_range"] = "start date must look like 2024-01-31"
	}
	if req.DateRange.End, err = parseDate(end); err != nil {
		fields["date_range"] = "end date must look like 2024-01-31"
	}
	if len(fields) > 0 {
		return req, &validator.ValidationError{Fields: fields}
	}
	return req, nil
}

func parseDate(s string) (time.Time, error) {
	if s = strings.TrimSpace(s); s == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, s)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
