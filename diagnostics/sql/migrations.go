package sql

import (
	"context"
	"fmt"
)

// schemaStatements returns the DDL for the diagnostics table, grounded on
// the teacher's store/postgres/migrations.go (a flat slice of idempotent
// CREATE TABLE IF NOT EXISTS statements run once at startup, no migration
// framework). The column types are kept portable across postgres, mysql,
// and sqlite rather than using driver-specific types.
func schemaStatements(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			mod_id BIGINT PRIMARY KEY,
			job_id VARCHAR(64) NOT NULL,
			description VARCHAR(512) NOT NULL DEFAULT '',
			action VARCHAR(32) NOT NULL,
			terminal_state VARCHAR(32) NOT NULL,
			created_at TIMESTAMP NOT NULL,
			recorded_at TIMESTAMP NOT NULL,
			duration_ns BIGINT NOT NULL DEFAULT 0,
			leaked_slots INT NOT NULL DEFAULT 0
		)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_job_id ON %s (job_id)`, table, table),
	}
}

// Migrate creates the diagnostics table and its index if they do not
// already exist. Safe to call on every process start.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.table) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("diagnostics: migration failed: %w", err)
		}
	}
	return nil
}
