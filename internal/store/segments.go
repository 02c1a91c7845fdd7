// Package store provides the Data Access Layer for segments and
// experiments. It handles all direct interactions with PostgreSQL via the
// pgx driver and ships mutex-guarded in-memory implementations for unit
// tests.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seglab/cohort/internal/domainerr"
	"github.com/seglab/cohort/internal/rules"
)

// Compile-time check to verify that PostgresSegmentStore implements
// SegmentRepository.
var _ SegmentRepository = (*PostgresSegmentStore)(nil)

// Segment is a named, rule-defined subset of users. The estimated size is a
// cache refreshed by the membership resolver, never written by anything
// else.
type Segment struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Tags        []string     `json:"tags"`
	Active      bool         `json:"active"`
	Rules       []rules.Rule `json:"rules"`

	EstimatedSize  int        `json:"estimated_size"`
	LastSizeUpdate *time.Time `json:"last_size_update,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SegmentRepository defines segment persistence operations.
type SegmentRepository interface {
	// CreateSegment inserts a segment and populates ID and timestamps.
	CreateSegment(ctx context.Context, s *Segment) error

	// GetSegment fetches a segment by name. Returns a domainerr.NotFound
	// error when the name is unknown.
	GetSegment(ctx context.Context, name string) (*Segment, error)

	// ListSegments returns segments ordered by name. When onlyActive is
	// true, deactivated segments are excluded.
	ListSegments(ctx context.Context, onlyActive bool) ([]*Segment, error)

	// UpdateSegment persists description, tags, active flag and rules.
	UpdateSegment(ctx context.Context, s *Segment) error

	// UpdateSegmentSize stores a fresh estimated size and its timestamp.
	UpdateSegmentSize(ctx context.Context, name string, size int, at time.Time) error

	// DeleteSegment removes the segment unconditionally.
	DeleteSegment(ctx context.Context, name string) error
}

// PostgresSegmentStore is the SegmentRepository backed by PostgreSQL.
// Rules are stored as a JSONB document; they are validated and compiled
// before they ever reach this layer.
type PostgresSegmentStore struct {
	db *pgxpool.Pool
}

// NewPostgresSegmentStore creates a repository instance with the given pool.
func NewPostgresSegmentStore(db *pgxpool.Pool) *PostgresSegmentStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &PostgresSegmentStore{db: db}
}

func (s *PostgresSegmentStore) CreateSegment(ctx context.Context, seg *Segment) error {
	rulesJSON, err := json.Marshal(seg.Rules)
	if err != nil {
		return fmt.Errorf("failed to encode rules: %w", err)
	}

	query := `
		INSERT INTO segments (name, description, tags, active, rules)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	err = s.db.QueryRow(ctx, query,
		seg.Name,
		seg.Description,
		seg.Tags,
		seg.Active,
		rulesJSON,
	).Scan(&seg.ID, &seg.CreatedAt, &seg.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domainerr.Validation("segment %q already exists", seg.Name)
		}
		return fmt.Errorf("failed to insert segment: %w", err)
	}

	return nil
}

func (s *PostgresSegmentStore) GetSegment(ctx context.Context, name string) (*Segment, error) {
	query := `
		SELECT id, name, description, tags, active, rules,
		       estimated_size, last_size_update, created_at, updated_at
		FROM segments
		WHERE name = $1
	`

	seg, err := scanSegment(s.db.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainerr.NotFound("segment %q not found", name)
		}
		return nil, fmt.Errorf("failed to fetch segment %q: %w", name, err)
	}
	return seg, nil
}

func (s *PostgresSegmentStore) ListSegments(ctx context.Context, onlyActive bool) ([]*Segment, error) {
	query := `
		SELECT id, name, description, tags, active, rules,
		       estimated_size, last_size_update, created_at, updated_at
		FROM segments
	`
	if onlyActive {
		query += " WHERE active"
	}
	query += " ORDER BY name"

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	defer rows.Close()

	segments := make([]*Segment, 0)
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan segment row: %w", err)
		}
		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return segments, nil
}

func (s *PostgresSegmentStore) UpdateSegment(ctx context.Context, seg *Segment) error {
	rulesJSON, err := json.Marshal(seg.Rules)
	if err != nil {
		return fmt.Errorf("failed to encode rules: %w", err)
	}

	query := `
		UPDATE segments
		SET description = $2, tags = $3, active = $4, rules = $5, updated_at = now()
		WHERE name = $1
		RETURNING updated_at
	`

	err = s.db.QueryRow(ctx, query,
		seg.Name,
		seg.Description,
		seg.Tags,
		seg.Active,
		rulesJSON,
	).Scan(&seg.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domainerr.NotFound("segment %q not found", seg.Name)
		}
		return fmt.Errorf("failed to update segment %q: %w", seg.Name, err)
	}

	return nil
}

func (s *PostgresSegmentStore) UpdateSegmentSize(ctx context.Context, name string, size int, at time.Time) error {
	query := `
		UPDATE segments
		SET estimated_size = $2, last_size_update = $3
		WHERE name = $1
	`

	tag, err := s.db.Exec(ctx, query, name, size, at)
	if err != nil {
		return fmt.Errorf("failed to update size of segment %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return domainerr.NotFound("segment %q not found", name)
	}
	return nil
}

func (s *PostgresSegmentStore) DeleteSegment(ctx context.Context, name string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM segments WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete segment %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return domainerr.NotFound("segment %q not found", name)
	}
	return nil
}

// scanSegment maps one row onto a Segment. It accepts both QueryRow results
// and iterated rows through the pgx.Row interface.
func scanSegment(row pgx.Row) (*Segment, error) {
	var (
		seg       Segment
		rulesJSON []byte
	)
	err := row.Scan(
		&seg.ID,
		&seg.Name,
		&seg.Description,
		&seg.Tags,
		&seg.Active,
		&rulesJSON,
		&seg.EstimatedSize,
		&seg.LastSizeUpdate,
		&seg.CreatedAt,
		&seg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rulesJSON, &seg.Rules); err != nil {
		return nil, fmt.Errorf("failed to decode rules for segment %q: %w", seg.Name, err)
	}
	return &seg, nil
}
