// Package pipeline runs one keyword search and stores the returned posts,
// skipping ids that are already present.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/postvault/postvault/internal/ingestion"
	"github.com/postvault/postvault/internal/ingestion/validator"
	apperrors "github.com/postvault/postvault/pkg/errors"
	"github.com/postvault/postvault/pkg/logger"
	"github.com/postvault/postvault/pkg/metrics"
)

const (
	outcomeOK         = "ok"
	outcomeNoResults  = "no_results"
	outcomeValidation = "validation_error"
	outcomeSearch     = "search_error"
	outcomeStorage    = "storage_error"
	outcomeBusy       = "cancelled"
)

// Pipeline coordinates the search call and per-row persistence. Only one
// ingestion runs at a time.
type Pipeline struct {
	search   ingestion.SearchClient
	store    ingestion.PostStore
	notifier ingestion.Notifier
	metrics  *metrics.Metrics
	bounds   validator.Bounds
	gate     *semaphore.Weighted
	logger   *slog.Logger
}

// New creates a Pipeline. notifier and m may be nil.
func New(search ingestion.SearchClient, store ingestion.PostStore, notifier ingestion.Notifier, m *metrics.Metrics, bounds validator.Bounds) *Pipeline {
	return &Pipeline{
		search:   search,
		store:    store,
		notifier: notifier,
		metrics:  m,
		bounds:   bounds,
		gate:     semaphore.NewWeighted(1),
		logger:   logger.WithComponent("ingestion-pipeline"),
	}
}

// Bounds returns the accepted result-count range.
func (p *Pipeline) Bounds() validator.Bounds {
	return p.bounds
}

// Ingest validates req, performs one search, and inserts every returned post
// in the order the search API returned them.
//
// A post whose id is already stored is skipped. Any other storage failure
// stops the loop; rows written before it stay written and the partial result
// is returned together with the error.
func (p *Pipeline) Ingest(ctx context.Context, req ingestion.QueryRequest) (ingestion.IngestResult, error) {
	log := logger.FromContext(ctx).With("component", "ingestion-pipeline")
	if err := validator.ValidateQueryRequest(req, p.bounds); err != nil {
		p.recordRun(outcomeValidation)
		return ingestion.IngestResult{}, err
	}

	if err := p.gate.Acquire(ctx, 1); err != nil {
		p.recordRun(outcomeBusy)
		return ingestion.IngestResult{}, apperrors.Wrap(apperrors.ErrTimeout, http.StatusServiceUnavailable, err)
	}
	defer p.gate.Release(1)

	keyword := strings.TrimSpace(req.Keyword)
	if !req.DateRange.IsZero() {
		log.Debug("date range is advisory and not sent to the search api",
			"start", req.DateRange.Start,
			"end", req.DateRange.End,
		)
	}

	start := time.Now()
	batch, err := p.search.Search(ctx, ingestion.SearchQuery{Query: keyword, MaxResults: req.ResultBound})
	p.observeSearch(time.Since(start), err, len(batch.Posts))
	if err != nil {
		if !errors.Is(err, apperrors.ErrSearchUnavailable) {
			err = apperrors.SearchUnavailable(err)
		}
		p.recordRun(outcomeSearch)
		log.Warn("search failed", "keyword", keyword, "error", err)
		return ingestion.IngestResult{}, err
	}

	result := ingestion.IngestResult{Found: len(batch.Posts)}
	if result.Found == 0 {
		p.recordRun(outcomeNoResults)
		log.Info("no posts found", "keyword", keyword)
		return result, nil
	}

	written := make([]ingestion.Post, 0, len(batch.Posts))
	duplicates := 0
	for _, sp := range batch.Posts {
		post := ingestion.Post{
			ID:        sp.ID,
			Timestamp: sp.CreatedAt,
			Author:    batch.ResolveAuthor(sp.AuthorID),
			Content:   sp.Text,
		}
		outcome, err := p.store.Insert(ctx, post)
		switch outcome {
		case ingestion.Inserted:
			result.Inserted++
			written = append(written, post)
		case ingestion.AlreadyExists:
			duplicates++
		default:
			if err == nil {
				err = errors.New("insert failed without a reason")
			}
			if !errors.Is(err, apperrors.ErrStorage) {
				err = apperrors.Storage(err)
			}
			p.recordRows(result.Inserted, duplicates)
			p.recordRun(outcomeStorage)
			log.Error("storage failure aborted ingestion",
				"keyword", keyword,
				"post_id", post.ID,
				"inserted_before_failure", result.Inserted,
				"error", err,
			)
			p.notify(ctx, keyword, written)
			return result, err
		}
	}

	p.recordRows(result.Inserted, duplicates)
	p.recordRun(outcomeOK)
	log.Info("ingestion complete",
		"keyword", keyword,
		"found", result.Found,
		"inserted", result.Inserted,
		"duplicates", duplicates,
	)
	p.notify(ctx, keyword, written)
	return result, nil
}

// notify hands newly written posts to the notifier. A notifier failure is
// logged; the rows are already committed.
func (p *Pipeline) notify(ctx context.Context, keyword string, posts []ingestion.Post) {
	if p.notifier == nil || len(posts) == 0 {
		return
	}
	if err := p.notifier.PostsIngested(ctx, keyword, posts); err != nil {
		p.logger.Error("failed to publish ingested posts", "keyword", keyword, "count", len(posts), "error", err)
	}
}

func (p *Pipeline) recordRun(outcome string) {
	if p.metrics == nil {
		return
	}
	p.metrics.IngestRunsTotal.WithLabelValues(outcome).Inc()
}

func (p *Pipeline) recordRows(inserted, duplicates int) {
	if p.metrics == nil {
		return
	}
	p.metrics.PostsInsertedTotal.Add(float64(inserted))
	p.metrics.PostsDuplicateTotal.Add(float64(duplicates))
}

func (p *Pipeline) observeSearch(d time.Duration, err error, n int) {
	if p.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	} else {
		p.metrics.SearchResultsCount.Observe(float64(n))
	}
	p.metrics.SearchLatency.WithLabelValues(status).Observe(d.Seconds())
}
