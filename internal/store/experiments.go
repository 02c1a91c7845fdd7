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
)

// Compile-time check to verify that PostgresExperimentStore implements
// ExperimentRepository.
var _ ExperimentRepository = (*PostgresExperimentStore)(nil)

// Status is the experiment lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Metric names one per-variant engagement counter.
type Metric string

const (
	MetricImpressions Metric = "impressions"
	MetricOpens       Metric = "opens"
	MetricClicks      Metric = "clicks"
	MetricConversions Metric = "conversions"
)

// metricColumns whitelists the counter columns reachable from
// IncrementMetric. Anything outside this map is rejected before it gets
// near a query string.
var metricColumns = map[Metric]string{
	MetricImpressions: "impressions",
	MetricOpens:       "opens",
	MetricClicks:      "clicks",
	MetricConversions: "conversions",
}

// ValidMetric reports whether m names a known counter.
func ValidMetric(m Metric) bool {
	_, ok := metricColumns[m]
	return ok
}

// VariantMetrics holds the monotonically increasing engagement counters of
// one variant.
type VariantMetrics struct {
	Impressions int64 `json:"impressions"`
	Opens       int64 `json:"opens"`
	Clicks      int64 `json:"clicks"`
	Conversions int64 `json:"conversions"`
}

// Value returns the counter named by m.
func (vm VariantMetrics) Value(m Metric) int64 {
	switch m {
	case MetricImpressions:
		return vm.Impressions
	case MetricOpens:
		return vm.Opens
	case MetricClicks:
		return vm.Clicks
	case MetricConversions:
		return vm.Conversions
	default:
		return 0
	}
}

// Variant is one treatment arm of an experiment. Data is an opaque payload
// merged into every notification delivered for this variant.
type Variant struct {
	Name    string         `json:"name"`
	Title   string         `json:"title"`
	Body    string         `json:"body"`
	Weight  int            `json:"weight"`
	Data    map[string]any `json:"data,omitempty"`
	Metrics VariantMetrics `json:"metrics"`
}

// Experiment is an A/B test targeting one segment with weighted variants.
// The variant list is owned exclusively by the experiment; the segment is
// referenced by name and may be shared across experiments.
type Experiment struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SegmentName string `json:"segment"`

	Variants []Variant `json:"variants"`

	Status              Status     `json:"status"`
	StartDate           *time.Time `json:"start_date,omitempty"`
	EndDate             *time.Time `json:"end_date,omitempty"`
	DurationDays        int        `json:"duration_days"`
	PrimaryMetric       Metric     `json:"primary_metric"`
	ConfidenceThreshold int        `json:"confidence_threshold"`
	Winner              *string    `json:"winner,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Variant returns the named variant, or nil.
func (e *Experiment) Variant(name string) *Variant {
	for i := range e.Variants {
		if e.Variants[i].Name == name {
			return &e.Variants[i]
		}
	}
	return nil
}

// ExperimentRepository defines experiment persistence operations.
type ExperimentRepository interface {
	// CreateExperiment inserts the experiment and its variants.
	CreateExperiment(ctx context.Context, e *Experiment) error

	// GetExperiment fetches an experiment with its variants in creation
	// order. Returns domainerr.NotFound for an unknown name.
	GetExperiment(ctx context.Context, name string) (*Experiment, error)

	// ListExperiments returns all experiments ordered by name.
	ListExperiments(ctx context.Context) ([]*Experiment, error)

	// UpdateExperiment persists the mutable definition fields and the
	// variant list. Counters of variants that keep their name survive the
	// update.
	UpdateExperiment(ctx context.Context, e *Experiment) error

	// UpdateExperimentState persists a lifecycle transition: status, the
	// date window and, on completion, the winner.
	UpdateExperimentState(ctx context.Context, e *Experiment) error

	// DeleteExperiment removes the experiment and its variants.
	DeleteExperiment(ctx context.Context, name string) error

	// IncrementMetric atomically adds delta to one counter of one variant.
	// Concurrent calls never lose an increment. Returns domainerr.NotFound
	// when the experiment or variant is unknown.
	IncrementMetric(ctx context.Context, experiment, variant string, metric Metric, delta int64) error
}

// PostgresExperimentStore is the ExperimentRepository backed by PostgreSQL.
// Variants live in a child table so metric increments are single-statement
// atomic updates.
type PostgresExperimentStore struct {
	db *pgxpool.Pool
}

// NewPostgresExperimentStore creates a repository instance with the given
// pool.
func NewPostgresExperimentStore(db *pgxpool.Pool) *PostgresExperimentStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &PostgresExperimentStore{db: db}
}

func (s *PostgresExperimentStore) CreateExperiment(ctx context.Context, e *Experiment) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO experiments
			(name, description, segment_name, status, start_date, end_date,
			 duration_days, primary_metric, confidence_threshold)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`

	err = tx.QueryRow(ctx, query,
		e.Name,
		e.Description,
		e.SegmentName,
		e.Status,
		e.StartDate,
		e.EndDate,
		e.DurationDays,
		e.PrimaryMetric,
		e.ConfidenceThreshold,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domainerr.Validation("experiment %q already exists", e.Name)
		}
		return fmt.Errorf("failed to insert experiment: %w", err)
	}

	if err := insertVariants(ctx, tx, e.ID, e.Variants); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit experiment insert: %w", err)
	}
	return nil
}

func (s *PostgresExperimentStore) GetExperiment(ctx context.Context, name string) (*Experiment, error) {
	query := `
		SELECT id, name, description, segment_name, status, start_date,
		       end_date, duration_days, primary_metric, confidence_threshold,
		       winner, created_at, updated_at
		FROM experiments
		WHERE name = $1
	`

	var e Experiment
	err := s.db.QueryRow(ctx, query, name).Scan(
		&e.ID, &e.Name, &e.Description, &e.SegmentName, &e.Status,
		&e.StartDate, &e.EndDate, &e.DurationDays, &e.PrimaryMetric,
		&e.ConfidenceThreshold, &e.Winner, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainerr.NotFound("experiment %q not found", name)
		}
		return nil, fmt.Errorf("failed to fetch experiment %q: %w", name, err)
	}

	if e.Variants, err = s.loadVariants(ctx, e.ID); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresExperimentStore) ListExperiments(ctx context.Context) ([]*Experiment, error) {
	query := `
		SELECT id, name, description, segment_name, status, start_date,
		       end_date, duration_days, primary_metric, confidence_threshold,
		       winner, created_at, updated_at
		FROM experiments
		ORDER BY name
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	experiments := make([]*Experiment, 0)
	for rows.Next() {
		var e Experiment
		if err := rows.Scan(
			&e.ID, &e.Name, &e.Description, &e.SegmentName, &e.Status,
			&e.StartDate, &e.EndDate, &e.DurationDays, &e.PrimaryMetric,
			&e.ConfidenceThreshold, &e.Winner, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan experiment row: %w", err)
		}
		experiments = append(experiments, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	for _, e := range experiments {
		if e.Variants, err = s.loadVariants(ctx, e.ID); err != nil {
			return nil, err
		}
	}
	return experiments, nil
}

func (s *PostgresExperimentStore) UpdateExperiment(ctx context.Context, e *Experiment) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE experiments
		SET description = $2, segment_name = $3, start_date = $4,
		    duration_days = $5, primary_metric = $6,
		    confidence_threshold = $7, updated_at = now()
		WHERE name = $1
		RETURNING id, updated_at
	`

	err = tx.QueryRow(ctx, query,
		e.Name,
		e.Description,
		e.SegmentName,
		e.StartDate,
		e.DurationDays,
		e.PrimaryMetric,
		e.ConfidenceThreshold,
	).Scan(&e.ID, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domainerr.NotFound("experiment %q not found", e.Name)
		}
		return fmt.Errorf("failed to update experiment %q: %w", e.Name, err)
	}

	// Replace the variant list but keep the counters of variants whose name
	// survives the edit.
	if _, err := tx.Exec(ctx,
		`DELETE FROM experiment_variants WHERE experiment_id = $1 AND NOT (name = ANY($2))`,
		e.ID, variantNames(e.Variants),
	); err != nil {
		return fmt.Errorf("failed to prune variants of %q: %w", e.Name, err)
	}

	for i, v := range e.Variants {
		data, err := json.Marshal(v.Data)
		if err != nil {
			return fmt.Errorf("failed to encode variant data: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO experiment_variants
				(experiment_id, position, name, title, body, weight, data)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (experiment_id, name) DO UPDATE
			SET position = EXCLUDED.position, title = EXCLUDED.title,
			    body = EXCLUDED.body, weight = EXCLUDED.weight,
			    data = EXCLUDED.data
		`, e.ID, i, v.Name, v.Title, v.Body, v.Weight, data)
		if err != nil {
			return fmt.Errorf("failed to upsert variant %q: %w", v.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit experiment update: %w", err)
	}
	return nil
}

func (s *PostgresExperimentStore) UpdateExperimentState(ctx context.Context, e *Experiment) error {
	query := `
		UPDATE experiments
		SET status = $2, start_date = $3, end_date = $4, winner = $5,
		    updated_at = now()
		WHERE name = $1
		RETURNING updated_at
	`

	err := s.db.QueryRow(ctx, query,
		e.Name, e.Status, e.StartDate, e.EndDate, e.Winner,
	).Scan(&e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domainerr.NotFound("experiment %q not found", e.Name)
		}
		return fmt.Errorf("failed to update state of experiment %q: %w", e.Name, err)
	}
	return nil
}

func (s *PostgresExperimentStore) DeleteExperiment(ctx context.Context, name string) error {
	// Variants go with the experiment via ON DELETE CASCADE.
	tag, err := s.db.Exec(ctx, `DELETE FROM experiments WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete experiment %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return domainerr.NotFound("experiment %q not found", name)
	}
	return nil
}

func (s *PostgresExperimentStore) IncrementMetric(ctx context.Context, experiment, variant string, metric Metric, delta int64) error {
	column, ok := metricColumns[metric]
	if !ok {
		return domainerr.Validation("unknown metric %q", metric)
	}

	// A single UPDATE keeps the read-modify-write inside the database, so
	// concurrent increments on the same counter serialize without loss.
	query := fmt.Sprintf(`
		UPDATE experiment_variants v
		SET %s = v.%s + $1
		FROM experiments e
		WHERE e.id = v.experiment_id AND e.name = $2 AND v.name = $3
	`, column, column)

	tag, err := s.db.Exec(ctx, query, delta, experiment, variant)
	if err != nil {
		return fmt.Errorf("failed to increment %s on %s/%s: %w", metric, experiment, variant, err)
	}
	if tag.RowsAffected() == 0 {
		return domainerr.NotFound("experiment %q has no variant %q", experiment, variant)
	}
	return nil
}

// loadVariants fetches an experiment's variants in list order.
func (s *PostgresExperimentStore) loadVariants(ctx context.Context, experimentID int64) ([]Variant, error) {
	query := `
		SELECT name, title, body, weight, data,
		       impressions, opens, clicks, conversions
		FROM experiment_variants
		WHERE experiment_id = $1
		ORDER BY position
	`

	rows, err := s.db.Query(ctx, query, experimentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load variants: %w", err)
	}
	defer rows.Close()

	variants := make([]Variant, 0, 2)
	for rows.Next() {
		var (
			v    Variant
			data []byte
		)
		if err := rows.Scan(
			&v.Name, &v.Title, &v.Body, &v.Weight, &data,
			&v.Metrics.Impressions, &v.Metrics.Opens,
			&v.Metrics.Clicks, &v.Metrics.Conversions,
		); err != nil {
			return nil, fmt.Errorf("failed to scan variant row: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &v.Data); err != nil {
				return nil, fmt.Errorf("failed to decode variant data: %w", err)
			}
		}
		variants = append(variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return variants, nil
}

func insertVariants(ctx context.Context, tx pgx.Tx, experimentID int64, variants []Variant) error {
	for i, v := range variants {
		data, err := json.Marshal(v.Data)
		if err != nil {
			return fmt.Errorf("failed to encode variant data: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO experiment_variants
				(experiment_id, position, name, title, body, weight, data)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, experimentID, i, v.Name, v.Title, v.Body, v.Weight, data)
		if err != nil {
			return fmt.Errorf("failed to insert variant %q: %w", v.Name, err)
		}
	}
	return nil
}

func variantNames(variants []Variant) []string {
	names := make([]string, len(variants))
	for i, v := range variants {
		names[i] = v.Name
	}
	return names
}
