// Package testsupport holds integration-test scaffolding: ephemeral
// Postgres/Redis containers, synthetic user fixtures and prometheus metric
// readers.
package testsupport

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/seglab/cohort/internal/config"
	"github.com/seglab/cohort/internal/database"
)

// PostgresContainer bundles a running Postgres container with a pool wired
// through the production pool factory.
type PostgresContainer struct {
	Container        testcontainers.Container
	DB               *pgxpool.Pool
	ConnectionString string
}

// Terminate closes the pool and removes the container.
func (c *PostgresContainer) Terminate(ctx context.Context) error {
	c.DB.Close()
	return c.Container.Terminate(ctx)
}

// StartPostgresContainer launches postgres:15-alpine and applies every .sql
// file under migrationsDir as an init script, in filename order, so the test
// database carries the real schema.
func StartPostgresContainer(ctx context.Context, migrationsDir string) (*PostgresContainer, error) {
	migrations, err := listMigrations(migrationsDir)
	if err != nil {
		return nil, err
	}

	pgc, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("cohort_test"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpassword"),
		postgres.WithInitScripts(migrations...),
		testcontainers.WithWaitStrategy(
			// The image restarts once during init, hence occurrence 2.
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(10*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("starting postgres container: %w", err)
	}

	connStr, err := pgc.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, fmt.Errorf("reading container connection string: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, &config.DatabaseConfig{
		URL:             connStr,
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to test database: %w", err)
	}

	return &PostgresContainer{
		Container:        pgc,
		DB:               pool,
		ConnectionString: connStr,
	}, nil
}

// listMigrations resolves the .sql files in dir. Glob output is lexically
// sorted, which matches the 001_, 002_ naming scheme.
func listMigrations(dir string) ([]string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving migrations path: %w", err)
	}
	files, err := filepath.Glob(filepath.Join(abs, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("scanning migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no migration files found in %s", abs)
	}
	return files, nil
}
