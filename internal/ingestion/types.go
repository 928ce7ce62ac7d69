// Package ingestion defines the post model, the ports the pipeline depends
// on, and the ingestion result summary.
package ingestion

import (
	"context"
	"fmt"
	"time"
)

// Author is the handle stored with a post.
type Author string

// AuthorUnknown is stored when the search response's user directory has no
// entry for a post's author id.
const AuthorUnknown Author = "unknown"

// Known reports whether the author was resolved from the user directory.
func (a Author) Known() bool {
	return a != AuthorUnknown
}

// Post is one stored social-media message. Timestamp is kept exactly as the
// source formatted it.
type Post struct {
	ID        string `json:"id"`
	Timestamp string `json:"date"`
	Author    Author `json:"username"`
	Content   string `json:"content"`
}

// QueryRequest is what a user submits on the search form.
type QueryRequest struct {
	Keyword     string
	ResultBound int
	// DateRange is recorded with the request but the recent-search endpoint
	// only ever returns recent posts, so it is never sent upstream.
	DateRange DateRange
}

// DateRange is an optional, advisory [Start, End] window.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether no bound was supplied.
func (d DateRange) IsZero() bool {
	return d.Start.IsZero() && d.End.IsZero()
}

// IngestResult summarises one ingestion call.
type IngestResult struct {
	Inserted int `json:"inserted"`
	Found    int `json:"found"`
}

// Skipped is the number of returned posts that were already stored, or that
// were never attempted because the call aborted.
func (r IngestResult) Skipped() int {
	return r.Found - r.Inserted
}

// Message is the one-line summary shown to the user after a successful call.
func (r IngestResult) Message() string {
	if r.Found == 0 {
		return "No posts found."
	}
	return fmt.Sprintf("%d new posts inserted into database.", r.Inserted)
}

// InsertOutcome is the result of storing one post.
type InsertOutcome int

const (
	Inserted InsertOutcome = iota
	AlreadyExists
	InsertFailed
)

func (o InsertOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case AlreadyExists:
		return "already_exists"
	case InsertFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PostStore persists posts keyed by id.
//
// Insert returns AlreadyExists with a nil error when a post with the same id
// is stored, and InsertFailed with a storage error for any other fault. The
// existence check and the write are one atomic step.
type PostStore interface {
	Insert(ctx context.Context, post Post) (InsertOutcome, error)
	// ListAll returns every stored post, newest timestamp first.
	ListAll(ctx context.Context) ([]Post, error)
	// Each streams posts in ListAll order, stopping at the first error fn
	// returns. fn must not call back into the store.
	Each(ctx context.Context, fn func(Post) error) error
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

// SearchQuery is the single outbound request made per ingestion.
type SearchQuery struct {
	Query      string
	MaxResults int
}

// SearchPost is one post as returned by the search API.
type SearchPost struct {
	ID        string
	Text      string
	AuthorID  string
	CreatedAt string
}

// SearchBatch is a search response: the posts plus the user directory
// returned by the author expansion.
type SearchBatch struct {
	Posts   []SearchPost
	Authors map[string]string
}

// ResolveAuthor looks up authorID in the batch's user directory.
func (b SearchBatch) ResolveAuthor(authorID string) Author {
	if name, ok := b.Authors[authorID]; ok && name != "" {
		return Author(name)
	}
	return AuthorUnknown
}

// SearchClient fetches a bounded batch of recent posts.
type SearchClient interface {
	Search(ctx context.Context, q SearchQuery) (SearchBatch, error)
}

// Notifier is told about posts that were newly written.
type Notifier interface {
	PostsIngested(ctx context.Context, keyword string, posts []Post) error
}
