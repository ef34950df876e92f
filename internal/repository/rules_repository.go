package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/receiptly/be-approvals/internal/apperrors"
	"github.com/receiptly/be-approvals/internal/database"
)

// ApprovalRulesRepository handles CRUD for approval_rules.
type ApprovalRulesRepository struct {
	db database.PGXDB
}

// NewApprovalRulesRepository creates a new ApprovalRulesRepository.
func NewApprovalRulesRepository(db database.PGXDB) *ApprovalRulesRepository {
	return &ApprovalRulesRepository{db: db}
}

const ruleColumns = `
	id, company_id, name, description, is_active, priority,
	amount_threshold, categories, vendors, time_window_minutes, user_roles,
	requires_approval, auto_approve, approvers, escalation_chain,
	notifications, created_at, updated_at
`

// Create inserts a new approval rule.
func (r *ApprovalRulesRepository) Create(ctx context.Context, rule *ApprovalRule) error {
	notificationsJSON, err := json.Marshal(rule.Notifications)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal notification config")
	}

	query := `
		INSERT INTO approval_rules
		    (company_id, name, description, is_active, priority,
		     amount_threshold, categories, vendors, time_window_minutes, user_roles,
		     requires_approval, auto_approve, approvers, escalation_chain,
		     notifications)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8, $9, $10,
		        $11, $12, $13, $14,
		        $15)
		RETURNING id, created_at, updated_at
	`

	return r.db.QueryRow(ctx, query,
		rule.CompanyID,
		rule.Name,
		rule.Description,
		rule.IsActive,
		rule.Priority,
		rule.AmountThreshold,
		rule.Categories,
		rule.Vendors,
		rule.TimeWindowMinutes,
		rule.UserRoles,
		rule.RequiresApproval,
		rule.AutoApprove,
		rule.Approvers,
		rule.EscalationChain,
		notificationsJSON,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
}

// GetByID retrieves a rule by primary key.
func (r *ApprovalRulesRepository) GetByID(ctx context.Context, id string) (*ApprovalRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM approval_rules WHERE id = $1`

	rule, err := r.scanRule(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("approval_rule", id)
	}
	return rule, err
}

// List returns all rules for a company, optionally filtered to active only,
// ordered by priority ascending.
func (r *ApprovalRulesRepository) List(ctx context.Context, companyID string, activeOnly bool) ([]*ApprovalRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM approval_rules WHERE company_id = $1`
	if activeOnly {
		query += " AND is_active = TRUE"
	}
	query += " ORDER BY priority ASC, created_at ASC"

	rows, err := r.db.Query(ctx, query, companyID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list approval rules")
	}
	defer rows.Close()

	var rules []*ApprovalRule
	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan approval rule")
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// ListActiveRules returns a company's active rules in evaluation order.
// Fails with a not-found error when the company itself does not exist, so the
// engine can distinguish "unknown company" from "no rules configured".
func (r *ApprovalRulesRepository) ListActiveRules(ctx context.Context, companyID string) ([]*ApprovalRule, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM companies WHERE id = $1)`, companyID,
	).Scan(&exists)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to check company")
	}
	if !exists {
		return nil, apperrors.NotFound("company", companyID)
	}

	return r.List(ctx, companyID, true)
}

// Update persists changes to an existing rule.
func (r *ApprovalRulesRepository) Update(ctx context.Context, rule *ApprovalRule) error {
	notificationsJSON, err := json.Marshal(rule.Notifications)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal notification config")
	}

	query := `
		UPDATE approval_rules
		SET name                = $3,
		    description         = $4,
		    is_active           = $5,
		    priority            = $6,
		    amount_threshold    = $7,
		    categories          = $8,
		    vendors             = $9,
		    time_window_minutes = $10,
		    user_roles          = $11,
		    requires_approval   = $12,
		    auto_approve        = $13,
		    approvers           = $14,
		    escalation_chain    = $15,
		    notifications       = $16,
		    updated_at          = NOW()
		WHERE id = $1 AND company_id = $2
		RETURNING updated_at
	`

	err = r.db.QueryRow(ctx, query,
		rule.ID,
		rule.CompanyID,
		rule.Name,
		rule.Description,
		rule.IsActive,
		rule.Priority,
		rule.AmountThreshold,
		rule.Categories,
		rule.Vendors,
		rule.TimeWindowMinutes,
		rule.UserRoles,
		rule.RequiresApproval,
		rule.AutoApprove,
		rule.Approvers,
		rule.EscalationChain,
		notificationsJSON,
	).Scan(&rule.UpdatedAt)

	if err == pgx.ErrNoRows {
		return apperrors.NotFound("approval_rule", rule.ID)
	}
	return err
}

// Deactivate soft-deletes a rule. Rules are never hard-deleted while existing
// requests reference them, so deactivation is the only removal path.
func (r *ApprovalRulesRepository) Deactivate(ctx context.Context, id, companyID string) error {
	query := `
		UPDATE approval_rules
		SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND company_id = $2
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, companyID).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperrors.NotFound("approval_rule", id)
	}
	return err
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type ruleScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalRulesRepository) scanRule(row ruleScanner) (*ApprovalRule, error) {
	rule := &ApprovalRule{}
	var notificationsJSON []byte

	err := row.Scan(
		&rule.ID,
		&rule.CompanyID,
		&rule.Name,
		&rule.Description,
		&rule.IsActive,
		&rule.Priority,
		&rule.AmountThreshold,
		&rule.Categories,
		&rule.Vendors,
		&rule.TimeWindowMinutes,
		&rule.UserRoles,
		&rule.RequiresApproval,
		&rule.AutoApprove,
		&rule.Approvers,
		&rule.EscalationChain,
		&notificationsJSON,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(notificationsJSON) > 0 {
		if err := json.Unmarshal(notificationsJSON, &rule.Notifications); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to unmarshal notification config")
		}
	}
	return rule, nil
}
