// Package searchapi is an HTTP client for the recent-search endpoint of the
// X API v2. It implements ingestion.SearchClient.
package searchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/postvault/postvault/internal/ingestion"
	"github.com/postvault/postvault/pkg/config"
	apperrors "github.com/postvault/postvault/pkg/errors"
	"github.com/postvault/postvault/pkg/logger"
	"github.com/postvault/postvault/pkg/metrics"
	"github.com/postvault/postvault/pkg/resilience"
)

const recentSearchPath = "/2/tweets/search/recent"

// maxErrorBody caps how much of a failed response is read for the message.
const maxErrorBody = 64 << 10

var _ ingestion.SearchClient = (*Client)(nil)

// ErrNoToken is returned when no bearer token is configured.
var ErrNoToken = errors.New("search api bearer token is not configured")

// APIError is a non-2xx response from the search API. Its message carries
// the upstream title and detail verbatim.
type APIError struct {
	StatusCode int
	Title      string
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Title, e.Detail)
}

// Retryable reports whether the failure is on the upstream side rather than
// in the request.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client performs recent-search calls.
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *http.Client
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

// New creates a Client from cfg. m may be nil.
func New(cfg config.SearchConfig, m *metrics.Metrics) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.BearerToken,
		timeout: cfg.Timeout,
		http: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 5 * time.Second,
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger.WithComponent("search-client"),
	}

	cbCfg := resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		ResetTimeout:     cfg.CircuitBreaker.ResetTimeout,
		IsFailure:        countsAsOutage,
	}
	if m != nil {
		cbCfg.OnStateChange = func(name string, _, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
		m.CircuitBreakerState.WithLabelValues("search-api").Set(float64(resilience.StateClosed))
	}
	c.breaker = resilience.NewCircuitBreaker("search-api", cbCfg)
	return c
}

// countsAsOutage keeps request-side rejections such as a bad token from
// opening the circuit.
func countsAsOutage(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}

// BreakerState returns the state of the client's circuit breaker.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

type searchResponse struct {
	Data []struct {
		ID        string `json:"id"`
		Text      string `json:"text"`
		AuthorID  string `json:"author_id"`
		CreatedAt string `json:"created_at"`
	} `json:"data"`
	Includes struct {
		Users []struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Username string `json:"username"`
		} `json:"users"`
	} `json:"includes"`
	Meta struct {
		ResultCount int `json:"result_count"`
	} `json:"meta"`
	Errors []problem `json:"errors"`
}

type problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Status int    `json:"status"`
}

// Search runs one recent-search call for q. Every failure is returned as a
// search-unavailable error carrying the upstream message.
func (c *Client) Search(ctx context.Context, q ingestion.SearchQuery) (ingestion.SearchBatch, error) {
	if c.token == "" {
		return ingestion.SearchBatch{}, apperrors.SearchUnavailable(ErrNoToken)
	}

	var batch ingestion.SearchBatch
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		b, err := resilience.CallWithTimeout(ctx, c.timeout, "search api", func(ctx context.Context) (ingestion.SearchBatch, error) {
			return c.do(ctx, q)
		})
		if err != nil {
			return err
		}
		batch = b
		return nil
	})
	if err != nil {
		c.logger.Warn("search call failed", "query", q.Query, "error", err)
		return ingestion.SearchBatch{}, apperrors.SearchUnavailable(err)
	}
	c.logger.Debug("search call complete", "query", q.Query, "results", len(batch.Posts))
	return batch, nil
}

func (c *Client) do(ctx context.Context, q ingestion.SearchQuery) (ingestion.SearchBatch, error) {
	params := url.Values{}
	params.Set("query", q.Query)
	params.Set("max_results", strconv.Itoa(q.MaxResults))
	params.Set("tweet.fields", "created_at")
	params.Set("expansions", "author_id")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+recentSearchPath+"?"+params.Encode(), nil)
	if err != nil {
		return ingestion.SearchBatch{}, fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return ingestion.SearchBatch{}, fmt.Errorf("calling search api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ingestion.SearchBatch{}, decodeAPIError(resp)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ingestion.SearchBatch{}, fmt.Errorf("decoding search response: %w", err)
	}
	if len(body.Data) == 0 && len(body.Errors) > 0 {
		p := body.Errors[0]
		return ingestion.SearchBatch{}, &APIError{StatusCode: resp.StatusCode, Title: p.Title, Detail: p.Detail}
	}

	batch := ingestion.SearchBatch{
		Posts:   make([]ingestion.SearchPost, 0, len(body.Data)),
		Authors: make(map[string]string, len(body.Includes.Users)),
	}
	for _, u := range body.Includes.Users {
		batch.Authors[u.ID] = u.Username
	}
	for _, d := range body.Data {
		batch.Posts = append(batch.Posts, ingestion.SearchPost{
			ID:        d.ID,
			Text:      d.Text,
			AuthorID:  d.AuthorID,
			CreatedAt: d.CreatedAt,
		})
	}
	return batch, nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode, Title: http.StatusText(resp.StatusCode)}

	var p problem
	if err := json.Unmarshal(raw, &p); err == nil && (p.Title != "" || p.Detail != "") {
		if p.Title != "" {
			apiErr.Title = p.Title
		}
		apiErr.Detail = p.Detail
		return apiErr
	}
	apiErr.Detail = strings.TrimSpace(string(raw))
	return apiErr
}
