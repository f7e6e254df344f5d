package ledger

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresLedger implements Ledger backed by a PostgreSQL table with a
// composite primary key on (event_id, consumer_name). The unique-constraint
// insert is what makes Record atomic under concurrent deliveries.
type PostgresLedger struct {
	db *sql.DB
}

var _ Ledger = (*PostgresLedger)(nil)

// NewPostgres opens a connection to the database at the given URL, configures
// the pool, and runs any pending migrations.
func NewPostgres(databaseURL string) (*PostgresLedger, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresLedger{db: db}, nil
}

// NewPostgresWithDB wraps an existing connection without running migrations.
// Used by tests that manage their own schema or mocks.
func NewPostgresWithDB(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (l *PostgresLedger) Close() error {
	return l.db.Close()
}

func (l *PostgresLedger) Seen(ctx context.Context, eventID, consumerName string) (bool, error) {
	var exists bool
	err := l.db.QueryRowContext(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM processed_events
			WHERE event_id = $1 AND consumer_name = $2
		)`,
		eventID, consumerName,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query processed event: %w", err)
	}
	return exists, nil
}

// Record inserts the processed marker. ON CONFLICT DO NOTHING keeps the
// insert race-free: the losing delivery observes inserted == false.
func (l *PostgresLedger) Record(ctx context.Context, eventID, consumerName string) (bool, error) {
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO processed_events (event_id, consumer_name, processed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (event_id, consumer_name) DO NOTHING`,
		eventID, consumerName,
	)
	if err != nil {
		return false, fmt.Errorf("record processed event: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record processed event: rows affected: %w", err)
	}
	return rows == 1, nil
}

// Prune deletes records older than the retention window. The broker only
// redelivers unacknowledged messages, so markers older than the broker's
// retention are dead weight.
func (l *PostgresLedger) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM processed_events WHERE processed_at < NOW() - $1::interval`,
		fmt.Sprintf("%d seconds", int64(olderThan.Seconds())),
	)
	if err != nil {
		return 0, fmt.Errorf("prune processed events: %w", err)
	}
	return res.RowsAffected()
}
