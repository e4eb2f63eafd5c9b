// Package sql is a SQL-backed diagnostics.Store, grounded on the teacher's
// store/postgres.Store and pkg/orchestrator's
// SQLProtocolPersistence/SQLWorkerPersistence adapters (schema-qualified
// table names, fmt.Sprintf query construction, upsert-on-conflict writes).
// Unlike the teacher, which only shipped a postgres backend despite
// go.mod listing mysql and sqlite3 drivers too, this package registers and
// exercises all three: it is constructed with a Dialect that supplies the
// right placeholder syntax and upsert clause for whichever one backs the
// *sql.DB the caller opened.
package sql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	coordinator "github.com/flowmod/coordinator"
	"github.com/flowmod/coordinator/diagnostics"
)

// Dialect abstracts the SQL differences between postgres, mysql, and
// sqlite3 that this store needs to paper over.
type Dialect interface {
	// Name identifies the dialect for logging ("postgres", "mysql", "sqlite").
	Name() string
	// Placeholder returns the bind-parameter marker for the n-th
	// (1-indexed) parameter in a query: "$1" for postgres, "?" for mysql
	// and sqlite.
	Placeholder(n int) string
	// UpsertModificationsClause returns the driver-specific "on conflict
	// do update" tail for the modifications upsert statement.
	UpsertModificationsClause() string
}

// PostgresDialect is the Dialect for github.com/lib/pq.
type PostgresDialect struct{}

func (PostgresDialect) Name() string                { return "postgres" }
func (PostgresDialect) Placeholder(n int) string     { return fmt.Sprintf("$%d", n) }
func (PostgresDialect) UpsertModificationsClause() string {
	return "ON CONFLICT (mod_id) DO UPDATE SET terminal_state = EXCLUDED.terminal_state, recorded_at = EXCLUDED.recorded_at, duration_ns = EXCLUDED.duration_ns"
}

// MySQLDialect is the Dialect for github.com/go-sql-driver/mysql.
type MySQLDialect struct{}

func (MySQLDialect) Name() string            { return "mysql" }
func (MySQLDialect) Placeholder(int) string  { return "?" }
func (MySQLDialect) UpsertModificationsClause() string {
	return "ON DUPLICATE KEY UPDATE terminal_state = VALUES(terminal_state), recorded_at = VALUES(recorded_at), duration_ns = VALUES(duration_ns)"
}

// SQLiteDialect is the Dialect for github.com/mattn/go-sqlite3.
type SQLiteDialect struct{}

func (SQLiteDialect) Name() string           { return "sqlite" }
func (SQLiteDialect) Placeholder(int) string { return "?" }
func (SQLiteDialect) UpsertModificationsClause() string {
	return "ON CONFLICT (mod_id) DO UPDATE SET terminal_state = excluded.terminal_state, recorded_at = excluded.recorded_at, duration_ns = excluded.duration_ns"
}

// Config configures the SQL diagnostics store.
type Config struct {
	DB      *sql.DB
	Dialect Dialect
	// TableName defaults to "coordinator_modifications".
	TableName string
}

// Store is a SQL-backed diagnostics.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	table   string
}

// New creates a Store. Requires DB and Dialect.
func New(cfg Config) (*Store, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if cfg.Dialect == nil {
		return nil, fmt.Errorf("dialect is required")
	}
	table := cfg.TableName
	if table == "" {
		table = "coordinator_modifications"
	}
	return &Store{db: cfg.DB, dialect: cfg.Dialect, table: table}, nil
}

func (s *Store) upsert(ctx context.Context, rec diagnostics.Record) error {
	rec.RecordedAt = time.Now()
	query := fmt.Sprintf(
		`INSERT INTO %s (mod_id, job_id, description, action, terminal_state, created_at, recorded_at, duration_ns)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s)
		 %s`,
		s.table,
		s.dialect.Placeholder(1), s.dialect.Placeholder(2), s.dialect.Placeholder(3),
		s.dialect.Placeholder(4), s.dialect.Placeholder(5), s.dialect.Placeholder(6),
		s.dialect.Placeholder(7), s.dialect.Placeholder(8),
		s.dialect.UpsertModificationsClause(),
	)

	_, err := s.db.ExecContext(ctx, query,
		int64(rec.ModID), rec.JobID.String(), rec.Description, string(rec.Action),
		rec.TerminalState, rec.CreatedAt, rec.RecordedAt, rec.Duration.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert modification %d: %w", rec.ModID, err)
	}
	return nil
}

// RecordCompleted implements diagnostics.Store.
func (s *Store) RecordCompleted(ctx context.Context, rec diagnostics.Record) error {
	return s.upsert(ctx, rec)
}

// RecordFailed implements diagnostics.Store.
func (s *Store) RecordFailed(ctx context.Context, rec diagnostics.Record) error {
	return s.upsert(ctx, rec)
}

// Get implements diagnostics.Store.
func (s *Store) Get(ctx context.Context, modID coordinator.ModificationID) (diagnostics.Record, error) {
	query := fmt.Sprintf(
		`SELECT mod_id, job_id, description, action, terminal_state, created_at, recorded_at, duration_ns
		 FROM %s WHERE mod_id = %s`,
		s.table, s.dialect.Placeholder(1),
	)

	var (
		rec       diagnostics.Record
		modID64   int64
		jobIDStr  string
		durNs     int64
	)
	row := s.db.QueryRowContext(ctx, query, int64(modID))
	if err := row.Scan(&modID64, &jobIDStr, &rec.Description, &rec.Action, &rec.TerminalState, &rec.CreatedAt, &rec.RecordedAt, &durNs); err != nil {
		if err == sql.ErrNoRows {
			return diagnostics.Record{}, diagnostics.ErrNotFound
		}
		return diagnostics.Record{}, fmt.Errorf("failed to get modification %d: %w", modID, err)
	}
	rec.ModID = coordinator.ModificationID(modID64)
	rec.Duration = time.Duration(durNs)
	if parsed, err := uuid.Parse(jobIDStr); err == nil {
		rec.JobID = coordinator.JobID(parsed)
	}
	return rec, nil
}

// RecordLeakedSlots implements diagnostics.Store.
func (s *Store) RecordLeakedSlots(ctx context.Context, modID coordinator.ModificationID, slotCount int) error {
	query := fmt.Sprintf(
		`UPDATE %s SET leaked_slots = leaked_slots + %s WHERE mod_id = %s`,
		s.table, s.dialect.Placeholder(1), s.dialect.Placeholder(2),
	)
	_, err := s.db.ExecContext(ctx, query, slotCount, int64(modID))
	if err != nil {
		return fmt.Errorf("failed to record leaked slots for %d: %w", modID, err)
	}
	return nil
}
