// Package store persists personalized page variants in Postgres and
// coordinates concurrent runs through Redis claims.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/contentops/tailor/config"
	"github.com/contentops/tailor/models"
)

// Store is the Postgres-backed page cache. A (page_id, segment) pair holds at
// most one variant; Put replaces any previous one atomically.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

func NewStore(cfg config.PostgresConfig) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return NewStoreWithDB(db), nil
}

// NewStoreWithDB wraps an existing handle; tests use it with sqlmock.
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db, logger: log.New(log.Writer(), "[STORE] ", log.LstdFlags)}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

// Put stores a variant, replacing any existing row for the same
// (page_id, segment). The swap is atomic: readers see either the old variant
// or the new one, never a partial write.
func (s *Store) Put(ctx context.Context, page models.PersonalizedPage) error {
	payload, err := json.Marshal(page.Content)
	if err != nil {
		return fmt.Errorf("encoding page content: %w", err)
	}
	createdAt := page.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO personalized_pages (page_id, segment, content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (page_id, segment)
		DO UPDATE SET content = EXCLUDED.content, updated_at = EXCLUDED.updated_at`,
		page.PageID, string(page.Segment), payload, createdAt)
	if err != nil {
		return fmt.Errorf("%w: storing %s/%s: %v", models.ErrStoreUnavailable, page.PageID, page.Segment, err)
	}
	return nil
}

// Get returns the stored variant for a (page_id, segment) pair, or
// models.ErrNotFound when no variant has been produced yet.
func (s *Store) Get(ctx context.Context, pageID string, segment models.Segment) (models.PersonalizedPage, error) {
	var (
		payload   []byte
		createdAt time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT content, created_at FROM personalized_pages
		WHERE page_id = $1 AND segment = $2`,
		pageID, string(segment)).Scan(&payload, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PersonalizedPage{}, fmt.Errorf("%w: %s/%s", models.ErrNotFound, pageID, segment)
	}
	if err != nil {
		return models.PersonalizedPage{}, fmt.Errorf("%w: reading %s/%s: %v", models.ErrStoreUnavailable, pageID, segment, err)
	}

	var content models.PageContent
	if err := json.Unmarshal(payload, &content); err != nil {
		return models.PersonalizedPage{}, fmt.Errorf("decoding stored content for %s/%s: %w", pageID, segment, err)
	}
	return models.PersonalizedPage{
		PageID:    pageID,
		Segment:   segment,
		Content:   content,
		CreatedAt: createdAt,
	}, nil
}

// Segments lists the segments a page has variants for, newest first.
func (s *Store) Segments(ctx context.Context, pageID string) ([]models.Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT segment FROM personalized_pages
		WHERE page_id = $1 ORDER BY updated_at DESC`, pageID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing segments for %s: %v", models.ErrStoreUnavailable, pageID, err)
	}
	defer rows.Close()

	var segments []models.Segment
	for rows.Next() {
		var seg string
		if err := rows.Scan(&seg); err != nil {
			return nil, err
		}
		segments = append(segments, models.Segment(seg))
	}
	return segments, rows.Err()
}
