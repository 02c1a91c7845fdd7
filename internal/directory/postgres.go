package directory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seglab/cohort/internal/rules"
)

// Compile-time check to verify that PostgresDirectory implements Directory.
var _ Directory = (*PostgresDirectory)(nil)

// PostgresDirectory reads user records from the 'users' table, where the
// nested attribute document lives in a JSONB column.
type PostgresDirectory struct {
	db *pgxpool.Pool
}

// NewPostgresDirectory creates a directory backed by the given pool.
func NewPostgresDirectory(db *pgxpool.Pool) *PostgresDirectory {
	if db == nil {
		panic("directory: database pool cannot be nil")
	}
	return &PostgresDirectory{db: db}
}

// FindMatching resolves the predicate against the users table. The
// translatable part of the predicate is pushed down as a JSONB WHERE clause
// so the database narrows the scan; the full predicate is then re-applied
// to every returned row, which keeps the result identical to a plain
// in-process scan regardless of how much was pushed down.
func (d *PostgresDirectory) FindMatching(ctx context.Context, pred *rules.Predicate) ([]User, error) {
	query := `SELECT id, attributes, device_tokens FROM users`

	clause, args, _ := pred.Prefilter("attributes", 1)
	if clause != "" {
		query += " WHERE " + clause
	}
	query += " ORDER BY id"

	rows, err := d.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	matched := make([]User, 0)
	for rows.Next() {
		var (
			u        User
			rawAttrs []byte
		)
		if err := rows.Scan(&u.ID, &rawAttrs, &u.DeviceTokens); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		if err := json.Unmarshal(rawAttrs, &u.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode attributes for user %s: %w", u.ID, err)
		}
		if pred.Match(u) {
			matched = append(matched, u)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return matched, nil
}
