package postgres

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS registered_environments (
		environment_id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		digest TEXT NOT NULL,
		descriptor JSONB NOT NULL,
		registered_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (name, version)
	)`,
	`CREATE TABLE IF NOT EXISTS submitted_jobs (
		job_name TEXT PRIMARY KEY,
		experiment TEXT NOT NULL,
		pipeline_name TEXT NOT NULL,
		request_hash TEXT NOT NULL,
		monitor_url TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		submitted_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS submitted_jobs_submitted_at_idx ON submitted_jobs (submitted_at DESC)`,
}

// EnsureSchema creates the ledger tables when they are missing.
func EnsureSchema(ctx context.Context, db DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
