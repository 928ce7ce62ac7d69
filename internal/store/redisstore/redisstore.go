// Package redisstore implements ingestion.PostStore on Redis.
//
// Posts live in a hash keyed by id. A companion sorted set holds one member
// per post, "<date>\x00<id>", all at score zero, so a reverse lexical range
// walks posts newest first.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/postvault/postvault/internal/ingestion"
	apperrors "github.com/postvault/postvault/pkg/errors"
	"github.com/postvault/postvault/pkg/logger"
	"github.com/postvault/postvault/pkg/redis"
)

var _ ingestion.PostStore = (*Store)(nil)

const pageSize = 256

// insertScript writes the post only if its id is absent and indexes it in the
// same step. Returns 1 when written, 0 when the id already existed.
var insertScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
	return 0
end
redis.call('ZADD', KEYS[2], 0, ARGV[3])
return 1
`)

// Store keeps posts under prefix:posts and prefix:posts:by_date.
type Store struct {
	client   *redis.Client
	postsKey string
	indexKey string
	logger   *slog.Logger
}

// New returns a Store namespaced by prefix.
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "postvault"
	}
	return &Store{
		client:   client,
		postsKey: prefix + ":posts",
		indexKey: prefix + ":posts:by_date",
		logger:   logger.WithComponent("post-store").With("driver", "redis"),
	}
}

func indexMember(p ingestion.Post) string {
	return p.Timestamp + "\x00" + p.ID
}

func (s *Store) Insert(ctx context.Context, post ingestion.Post) (ingestion.InsertOutcome, error) {
	if post.ID == "" {
		return ingestion.InsertFailed, apperrors.Storage(errors.New("post id is required"))
	}
	body, err := json.Marshal(post)
	if err != nil {
		return ingestion.InsertFailed, apperrors.Storage(fmt.Errorf("encoding post %s: %w", post.ID, err))
	}
	n, err := s.client.Run(ctx, insertScript, []string{s.postsKey, s.indexKey}, post.ID, body, indexMember(post))
	if err != nil {
		return ingestion.InsertFailed, apperrors.Storage(fmt.Errorf("inserting post %s: %w", post.ID, err))
	}
	if n == 0 {
		s.logger.Debug("duplicate post skipped", "post_id", post.ID)
		return ingestion.AlreadyExists, nil
	}
	return ingestion.Inserted, nil
}

func (s *Store) ListAll(ctx context.Context) ([]ingestion.Post, error) {
	posts := make([]ingestion.Post, 0)
	err := s.Each(ctx, func(p ingestion.Post) error {
		posts = append(posts, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return posts, nil
}

// Each pages through the date index with an exclusive lexical cursor, so
// posts inserted mid-walk never cause a row to be yielded twice.
func (s *Store) Each(ctx context.Context, fn func(ingestion.Post) error) error {
	cursor := "+"
	for {
		members, err := s.client.ZRevRangeByLex(ctx, s.indexKey, cursor, pageSize)
		if err != nil {
			return apperrors.Storage(fmt.Errorf("reading post index: %w", err))
		}
		if len(members) == 0 {
			return nil
		}

		ids := make([]string, len(members))
		for i, m := range members {
			_, id, _ := strings.Cut(m, "\x00")
			ids[i] = id
		}
		vals, found, err := s.client.HMGet(ctx, s.postsKey, ids...)
		if err != nil {
			return apperrors.Storage(fmt.Errorf("loading posts: %w", err))
		}
		for i, v := range vals {
			if !found[i] {
				s.logger.Warn("index entry without post", "post_id", ids[i])
				continue
			}
			var p ingestion.Post
			if err := json.Unmarshal([]byte(v), &p); err != nil {
				return apperrors.Storage(fmt.Errorf("decoding post %s: %w", ids[i], err))
			}
			if err := fn(p); err != nil {
				return err
			}
		}

		if len(members) < pageSize {
			return nil
		}
		cursor = "(" + members[len(members)-1]
	}
}

func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.client.HLen(ctx, s.postsKey)
	if err != nil {
		return 0, apperrors.Storage(fmt.Errorf("counting posts: %w", err))
	}
	return int(n), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}
