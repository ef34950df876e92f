package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RunMigrations creates the database schema. Statements are idempotent so the
// list can grow append-only.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS companies (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS approval_rules (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			company_id TEXT NOT NULL REFERENCES companies(id),
			name TEXT NOT NULL,
			description TEXT,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			priority INT NOT NULL DEFAULT 100,
			amount_threshold NUMERIC(14, 2),
			categories TEXT[] NOT NULL DEFAULT '{}',
			vendors TEXT[] NOT NULL DEFAULT '{}',
			time_window_minutes INT,
			user_roles TEXT[] NOT NULL DEFAULT '{}',
			requires_approval BOOLEAN NOT NULL DEFAULT TRUE,
			auto_approve BOOLEAN NOT NULL DEFAULT FALSE,
			approvers TEXT[] NOT NULL DEFAULT '{}',
			escalation_chain TEXT[] NOT NULL DEFAULT '{}',
			notifications JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_approval_rules_company
			ON approval_rules(company_id, is_active, priority)`,

		`CREATE TABLE IF NOT EXISTS approval_requests (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			receipt_id TEXT NOT NULL,
			submitter_id TEXT NOT NULL,
			company_id TEXT NOT NULL REFERENCES companies(id),
			rule_id UUID NOT NULL REFERENCES approval_rules(id),
			amount NUMERIC(14, 2) NOT NULL,
			category TEXT NOT NULL,
			vendor TEXT,
			reason TEXT,
			status TEXT NOT NULL DEFAULT 'pending'
				CHECK (status IN ('pending', 'approved', 'rejected', 'escalated')),
			approver_id TEXT,
			comments TEXT,
			escalation_tier INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			decided_at TIMESTAMPTZ,
			escalated_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// At most one live (pending/escalated) request per receipt. Concurrent
		// inserts race on this index; the loser surfaces as a conflict.
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_approval_requests_live_receipt
			ON approval_requests(receipt_id)
			WHERE status IN ('pending', 'escalated')`,

		`CREATE INDEX IF NOT EXISTS idx_approval_requests_company_status
			ON approval_requests(company_id, status, created_at)`,

		`CREATE TABLE IF NOT EXISTS approval_delegations (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			delegator_id TEXT NOT NULL,
			delegate_to_id TEXT NOT NULL,
			company_id TEXT NOT NULL REFERENCES companies(id),
			start_date TIMESTAMPTZ NOT NULL,
			end_date TIMESTAMPTZ NOT NULL,
			max_amount NUMERIC(14, 2),
			categories TEXT[] NOT NULL DEFAULT '{}',
			reason TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CHECK (start_date <= end_date)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_approval_delegations_delegator
			ON approval_delegations(company_id, delegator_id, start_date, end_date)`,

		`CREATE INDEX IF NOT EXISTS idx_approval_delegations_delegate
			ON approval_delegations(company_id, delegate_to_id, start_date, end_date)`,

		`CREATE TABLE IF NOT EXISTS approval_audit_log (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			company_id TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			action TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			details JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_approval_audit_log_resource
			ON approval_audit_log(resource_type, resource_id, created_at)`,
	}

	for i, migration := range migrations {
		if _, err := pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	return nil
}
