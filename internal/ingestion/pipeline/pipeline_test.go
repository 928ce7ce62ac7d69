package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/postvault/postvault/internal/ingestion"
	"github.com/postvault/postvault/internal/ingestion/validator"
	"github.com/postvault/postvault/internal/store"
	"github.com/postvault/postvault/pkg/config"
	apperrors "github.com/postvault/postvault/pkg/errors"
	"github.com/postvault/postvault/pkg/metrics"
	"github.com/postvault/postvault/pkg/sqlite"
)

var testBounds = validator.Bounds{Min: 10, Max: 100}

type fakeSearch struct {
	mu      sync.Mutex
	batch   ingestion.SearchBatch
	err     error
	queries []ingestion.SearchQuery
}

func (f *fakeSearch) Search(_ context.Context, q ingestion.SearchQuery) (ingestion.SearchBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.batch, f.err
}

func (f *fakeSearch) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type recordingNotifier struct {
	keyword string
	posts   []ingestion.Post
	calls   int
}

func (n *recordingNotifier) PostsIngested(_ context.Context, keyword string, posts []ingestion.Post) error {
	n.calls++
	n.keyword = keyword
	n.posts = append(n.posts, posts...)
	return nil
}

// failingStore wraps a store and fails the insert of one id.
type failingStore struct {
	ingestion.PostStore
	failID string
}

func (s *failingStore) Insert(ctx context.Context, p ingestion.Post) (ingestion.InsertOutcome, error) {
	if p.ID == s.failID {
		return ingestion.InsertFailed, apperrors.Storage(errors.New("disk full"))
	}
	return s.PostStore.Insert(ctx, p)
}

func newStore(t *testing.T) *store.SQLStore {
	t.Helper()
	client, err := sqlite.New(config.SQLiteConfig{Path: sqlite.MemoryPath})
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	s, err := store.NewSQLite(context.Background(), client)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	return s
}

func batchOf(ids ...string) ingestion.SearchBatch {
	b := ingestion.SearchBatch{Authors: map[string]string{"u1": "alice"}}
	for i, id := range ids {
		b.Posts = append(b.Posts, ingestion.SearchPost{
			ID:        id,
			Text:      "post " + id,
			AuthorID:  "u1",
			CreatedAt: fmt.Sprintf("2024-01-%02dT00:00:00.000Z", i+1),
		})
	}
	return b
}

func count(t *testing.T, s ingestion.PostStore) int {
	t.Helper()
	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	return n
}

func request(keyword string) ingestion.QueryRequest {
	return ingestion.QueryRequest{Keyword: keyword, ResultBound: 20}
}

func TestIngestInsertsAll(t *testing.T) {
	s := newStore(t)
	search := &fakeSearch{batch: batchOf("1", "2", "3")}
	p := New(search, s, nil, nil, testBounds)

	res, err := p.Ingest(context.Background(), request("golang"))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.Inserted != 3 || res.Found != 3 {
		t.Errorf("result = %+v, want 3/3", res)
	}
	if got := res.Message(); got != "3 new posts inserted into database." {
		t.Errorf("Message() = %q", got)
	}
	if search.queries[0].Query != "golang" || search.queries[0].MaxResults != 20 {
		t.Errorf("query = %+v", search.queries[0])
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	s := newStore(t)
	search := &fakeSearch{batch: batchOf("1", "2", "3")}
	p := New(search, s, nil, nil, testBounds)
	ctx := context.Background()

	if _, err := p.Ingest(ctx, request("golang")); err != nil {
		t.Fatalf("first Ingest() error = %v", err)
	}
	res, err := p.Ingest(ctx, request("golang"))
	if err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}
	if res.Inserted != 0 || res.Found != 3 {
		t.Errorf("second result = %+v, want 0/3", res)
	}
	if got := res.Message(); got != "0 new posts inserted into database." {
		t.Errorf("Message() = %q", got)
	}
	if n := count(t, s); n != 3 {
		t.Errorf("Count() = %d, want 3", n)
	}
}

func TestIngestSkipsStoredPosts(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for _, id := range []string{"2", "4"} {
		if _, err := s.Insert(ctx, ingestion.Post{ID: id, Timestamp: "2023-12-31"}); err != nil {
			t.Fatalf("seeding: %v", err)
		}
	}
	notifier := &recordingNotifier{}
	p := New(&fakeSearch{batch: batchOf("1", "2", "3", "4", "5")}, s, notifier, nil, testBounds)

	res, err := p.Ingest(ctx, request("golang"))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.Inserted != 3 || res.Found != 5 || res.Skipped() != 2 {
		t.Errorf("result = %+v, want inserted 3 of 5", res)
	}
	if n := count(t, s); n != 5 {
		t.Errorf("Count() = %d, want 5", n)
	}

	var ids []string
	for _, post := range notifier.posts {
		ids = append(ids, post.ID)
	}
	if fmt.Sprint(ids) != "[1 3 5]" {
		t.Errorf("notified ids = %v, want [1 3 5] in search order", ids)
	}
}

func TestIngestRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		req  ingestion.QueryRequest
	}{
		{"empty keyword", request("")},
		{"blank keyword", request("  \t ")},
		{"bound too small", ingestion.QueryRequest{Keyword: "go", ResultBound: 5}},
		{"bound too large", ingestion.QueryRequest{Keyword: "go", ResultBound: 500}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			search := &fakeSearch{batch: batchOf("1")}
			p := New(search, s, nil, nil, testBounds)

			res, err := p.Ingest(context.Background(), tt.req)
			if !errors.Is(err, apperrors.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if res != (ingestion.IngestResult{}) {
				t.Errorf("result = %+v, want zero", res)
			}
			if search.calls() != 0 {
				t.Error("search was called for invalid input")
			}
			if n := count(t, s); n != 0 {
				t.Errorf("Count() = %d, want 0", n)
			}
		})
	}
}

func TestIngestSearchFailureWritesNothing(t *testing.T) {
	s := newStore(t)
	p := New(&fakeSearch{err: errors.New("401 Unauthorized: Unauthorized")}, s, nil, nil, testBounds)

	_, err := p.Ingest(context.Background(), request("golang"))
	if !errors.Is(err, apperrors.ErrSearchUnavailable) {
		t.Fatalf("expected ErrSearchUnavailable, got %v", err)
	}
	if msg := apperrors.UserMessage(err); msg != "401 Unauthorized: Unauthorized" {
		t.Errorf("UserMessage() = %q", msg)
	}
	if n := count(t, s); n != 0 {
		t.Errorf("Count() = %d, want 0", n)
	}
}

func TestIngestNoResults(t *testing.T) {
	s := newStore(t)
	p := New(&fakeSearch{}, s, nil, nil, testBounds)

	res, err := p.Ingest(context.Background(), request("nothing"))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.Found != 0 || res.Inserted != 0 {
		t.Errorf("result = %+v", res)
	}
	if res.Message() != "No posts found." {
		t.Errorf("Message() = %q", res.Message())
	}
}

func TestIngestStorageFailureReturnsPartialResult(t *testing.T) {
	s := &failingStore{PostStore: newStore(t), failID: "3"}
	notifier := &recordingNotifier{}
	p := New(&fakeSearch{batch: batchOf("1", "2", "3", "4")}, s, notifier, nil, testBounds)

	res, err := p.Ingest(context.Background(), request("golang"))
	if !errors.Is(err, apperrors.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if res.Inserted != 2 || res.Found != 4 {
		t.Errorf("partial result = %+v, want 2 of 4", res)
	}
	if n := count(t, s); n != 2 {
		t.Errorf("Count() = %d, want the 2 rows before the failure", n)
	}
	if len(notifier.posts) != 2 {
		t.Errorf("notified %d posts, want 2", len(notifier.posts))
	}
}

func TestIngestUnknownAuthor(t *testing.T) {
	s := newStore(t)
	batch := ingestion.SearchBatch{
		Posts: []ingestion.SearchPost{
			{ID: "1", Text: "known", AuthorID: "u1", CreatedAt: "2024-01-01"},
			{ID: "2", Text: "orphan", AuthorID: "ghost", CreatedAt: "2024-01-02"},
		},
		Authors: map[string]string{"u1": "alice"},
	}
	p := New(&fakeSearch{batch: batch}, s, nil, nil, testBounds)

	if _, err := p.Ingest(context.Background(), request("golang")); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	posts, err := s.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	authors := map[string]ingestion.Author{}
	for _, post := range posts {
		authors[post.ID] = post.Author
	}
	if authors["1"] != "alice" || authors["2"] != ingestion.AuthorUnknown {
		t.Errorf("authors = %v", authors)
	}
}

func TestIngestTrimsKeywordAndStoresFields(t *testing.T) {
	s := newStore(t)
	search := &fakeSearch{batch: batchOf("42")}
	p := New(search, s, nil, nil, testBounds)

	if _, err := p.Ingest(context.Background(), request("  golang  ")); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if search.queries[0].Query != "golang" {
		t.Errorf("query = %q, want trimmed keyword", search.queries[0].Query)
	}
	posts, _ := s.ListAll(context.Background())
	want := ingestion.Post{ID: "42", Timestamp: "2024-01-01T00:00:00.000Z", Author: "alice", Content: "post 42"}
	if len(posts) != 1 || posts[0] != want {
		t.Errorf("stored = %+v, want %+v", posts, want)
	}
}

func TestIngestRecordsMetrics(t *testing.T) {
	s := newStore(t)
	m := metrics.New(prometheus.NewRegistry())
	p := New(&fakeSearch{batch: batchOf("1", "2")}, s, nil, m, testBounds)
	ctx := context.Background()

	p.Ingest(ctx, request("golang"))
	p.Ingest(ctx, request("golang"))
	p.Ingest(ctx, request(""))

	if got := testutil.ToFloat64(m.PostsInsertedTotal); got != 2 {
		t.Errorf("posts_inserted_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.PostsDuplicateTotal); got != 2 {
		t.Errorf("posts_duplicate_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.IngestRunsTotal.WithLabelValues(outcomeOK)); got != 2 {
		t.Errorf("ok runs = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.IngestRunsTotal.WithLabelValues(outcomeValidation)); got != 1 {
		t.Errorf("validation runs = %v, want 1", got)
	}
}

func TestIngestCancelledWhileBusy(t *testing.T) {
	s := newStore(t)
	p := New(&fakeSearch{batch: batchOf("1")}, s, nil, nil, testBounds)
	if !p.gate.TryAcquire(1) {
		t.Fatal("gate already held")
	}
	defer p.gate.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Ingest(ctx, request("golang"))
	if !errors.Is(err, apperrors.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}
