// Package store implements ingestion.PostStore on SQL databases. SQLite and
// PostgreSQL share the schema and differ only in placeholder syntax and
// ordering collation.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/postvault/postvault/internal/ingestion"
	apperrors "github.com/postvault/postvault/pkg/errors"
	"github.com/postvault/postvault/pkg/logger"
	"github.com/postvault/postvault/pkg/postgres"
	"github.com/postvault/postvault/pkg/sqlite"
)

// Ensure SQLStore implements the ingestion.PostStore interface.
var _ ingestion.PostStore = (*SQLStore)(nil)

type dialect struct {
	name   string
	schema []string
	insert string
	list   string
	count  string
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS posts (
			id TEXT PRIMARY KEY,
			date TEXT,
			username TEXT,
			content TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_date ON posts(date DESC)`,
	},
	insert: `INSERT INTO posts (id, date, username, content) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
	list:  `SELECT id, date, username, content FROM posts ORDER BY date DESC, id DESC`,
	count: `SELECT COUNT(*) FROM posts`,
}

var postgresDialect = dialect{
	name: "postgres",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS posts (
			id TEXT PRIMARY KEY,
			date TEXT,
			username TEXT,
			content TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_date ON posts(date DESC)`,
	},
	insert: `INSERT INTO posts (id, date, username, content) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
	list:  `SELECT id, date, username, content FROM posts ORDER BY date COLLATE "C" DESC, id COLLATE "C" DESC`,
	count: `SELECT COUNT(*) FROM posts`,
}

// SQLStore persists posts in a `posts` table.
type SQLStore struct {
	db     *sql.DB
	d      dialect
	logger *slog.Logger
}

// NewSQLite creates the schema on c if needed and returns a store over it.
func NewSQLite(ctx context.Context, c *sqlite.Client) (*SQLStore, error) {
	s := newSQLStore(c.DB, sqliteDialect)
	for _, stmt := range s.d.schema {
		if _, err := c.DB.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("creating sqlite schema: %w", err)
		}
	}
	return s, nil
}

// NewPostgres creates the schema on c in one transaction and returns a store
// over it.
func NewPostgres(ctx context.Context, c *postgres.Client) (*SQLStore, error) {
	s := newSQLStore(c.DB, postgresDialect)
	err := c.InTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range s.d.schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating postgres schema: %w", err)
	}
	return s, nil
}

func newSQLStore(db *sql.DB, d dialect) *SQLStore {
	return &SQLStore{
		db:     db,
		d:      d,
		logger: logger.WithComponent("post-store").With("driver", d.name),
	}
}

// Insert writes post unless its id is already stored. Only a conflict on the
// primary key is reported as AlreadyExists.
func (s *SQLStore) Insert(ctx context.Context, post ingestion.Post) (ingestion.InsertOutcome, error) {
	if post.ID == "" {
		return ingestion.InsertFailed, apperrors.Storage(errors.New("post id is required"))
	}
	res, err := s.db.ExecContext(ctx, s.d.insert, post.ID, post.Timestamp, string(post.Author), post.Content)
	if err != nil {
		return ingestion.InsertFailed, apperrors.Storage(fmt.Errorf("inserting post %s: %w", post.ID, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ingestion.InsertFailed, apperrors.Storage(fmt.Errorf("reading rows affected for post %s: %w", post.ID, err))
	}
	if n == 0 {
		s.logger.Debug("duplicate post skipped", "post_id", post.ID)
		return ingestion.AlreadyExists, nil
	}
	return ingestion.Inserted, nil
}

func (s *SQLStore) ListAll(ctx context.Context) ([]ingestion.Post, error) {
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

func (s *SQLStore) Each(ctx context.Context, fn func(ingestion.Post) error) error {
	rows, err := s.db.QueryContext(ctx, s.d.list)
	if err != nil {
		return apperrors.Storage(fmt.Errorf("listing posts: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var p ingestion.Post
		var date, username, content sql.NullString
		if err := rows.Scan(&p.ID, &date, &username, &content); err != nil {
			return apperrors.Storage(fmt.Errorf("scanning post row: %w", err))
		}
		p.Timestamp = date.String
		p.Author = ingestion.Author(username.String)
		p.Content = content.String
		if err := fn(p); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return apperrors.Storage(fmt.Errorf("iterating posts: %w", err))
	}
	return nil
}

func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.d.count).Scan(&n); err != nil {
		return 0, apperrors.Storage(fmt.Errorf("counting posts: %w", err))
	}
	return n, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
