// Package publisher announces newly stored posts on Kafka so downstream
// consumers can react without polling the post store.
package publisher

import (
	"context"
	"log/slog"
	"time"

	"github.com/postvault/postvault/internal/ingestion"
	"github.com/postvault/postvault/pkg/kafka"
	"github.com/postvault/postvault/pkg/logger"
)

var _ ingestion.Notifier = (*Publisher)(nil)

// PostIngestedEvent is the payload written for every newly stored post.
type PostIngestedEvent struct {
	PostID     string    `json:"post_id"`
	Keyword    string    `json:"keyword"`
	Username   string    `json:"username"`
	Date       string    `json:"date"`
	Content    string    `json:"content"`
	IngestedAt time.Time `json:"ingested_at"`
}

// BatchPublisher writes a batch of events atomically from the caller's view.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Publisher implements ingestion.Notifier on a Kafka producer.
type Publisher struct {
	producer BatchPublisher
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a Publisher over producer.
func New(producer BatchPublisher) *Publisher {
	return &Publisher{
		producer: producer,
		now:      time.Now,
		logger:   logger.WithComponent("publisher"),
	}
}

// PostsIngested publishes one event per post, keyed by post id so every event
// for a post lands on the same partition.
func (p *Publisher) PostsIngested(ctx context.Context, keyword string, posts []ingestion.Post) error {
	if len(posts) == 0 {
		return nil
	}
	at := p.now().UTC()
	events := make([]kafka.Event, 0, len(posts))
	for _, post := range posts {
		events = append(events, kafka.Event{
			Key: post.ID,
			Value: PostIngestedEvent{
				PostID:     post.ID,
				Keyword:    keyword,
				Username:   string(post.Author),
				Date:       post.Timestamp,
				Content:    post.Content,
				IngestedAt: at,
			},
		})
	}
	if err := p.producer.PublishBatch(ctx, events); err != nil {
		return err
	}
	p.logger.Info("ingest events published", "keyword", keyword, "count", len(events))
	return nil
}
