package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatements holds the DDL for every table the service owns. Each
// statement is idempotent so EnsureSchema can run on every boot and in the
// test harness without tracking migration state.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		email text NOT NULL UNIQUE,
		full_name text NOT NULL,
		password_hash text NOT NULL,
		filing_state text NOT NULL DEFAULT '',
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS refund_records (
		id uuid PRIMARY KEY,
		user_id uuid NOT NULL REFERENCES users(id),
		tax_year int NOT NULL,
		status text NOT NULL,
		expected_amount numeric(12,2) NOT NULL DEFAULT 0,
		tracking_id text NOT NULL DEFAULT '',
		last_updated_at timestamptz NOT NULL DEFAULT now(),
		available_at_estimated timestamptz,
		UNIQUE (user_id, tax_year)
	)`,

	`CREATE TABLE IF NOT EXISTS refund_status_events (
		id bigserial PRIMARY KEY,
		user_id uuid NOT NULL,
		tax_year int NOT NULL,
		filing_state text NOT NULL DEFAULT '',
		old_status text NOT NULL,
		new_status text NOT NULL,
		expected_amount numeric(12,2) NOT NULL DEFAULT 0,
		tracking_id text NOT NULL DEFAULT '',
		source text NOT NULL,
		occurred_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS ix_refund_events_user_time
		ON refund_status_events (user_id, occurred_at)`,

	`CREATE TABLE IF NOT EXISTS outbox_messages (
		id uuid PRIMARY KEY,
		event_type text NOT NULL,
		aggregate_key text NOT NULL,
		payload jsonb NOT NULL,
		created_at timestamptz NOT NULL DEFAULT now(),
		processed_at timestamptz,
		attempts int NOT NULL DEFAULT 0,
		last_error text
	)`,
	`CREATE INDEX IF NOT EXISTS ix_outbox_unprocessed
		ON outbox_messages (created_at) WHERE processed_at IS NULL`,

	`CREATE TABLE IF NOT EXISTS refund_access_audit (
		id bigserial PRIMARY KEY,
		user_id uuid NOT NULL,
		endpoint text NOT NULL,
		success boolean NOT NULL,
		occurred_at timestamptz NOT NULL DEFAULT now(),
		correlation_id text NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS ix_refund_audit_user_time
		ON refund_access_audit (user_id, occurred_at)`,
	`CREATE INDEX IF NOT EXISTS ix_refund_audit_time
		ON refund_access_audit (occurred_at)`,

	`CREATE TABLE IF NOT EXISTS eta_predictions (
		id bigserial PRIMARY KEY,
		user_id uuid NOT NULL,
		tax_year int NOT NULL,
		status text NOT NULL,
		eta_days int NOT NULL,
		model_name text NOT NULL DEFAULT '',
		model_version text NOT NULL DEFAULT '',
		predicted_available_at timestamptz NOT NULL,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS ix_eta_predictions_key_time
		ON eta_predictions (user_id, tax_year, status, created_at DESC)`,
}

// EnsureSchema applies the service schema against the pool.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("db: apply schema: %w", err)
		}
	}
	return nil
}
