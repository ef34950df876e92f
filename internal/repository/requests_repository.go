package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/receiptly/be-approvals/internal/apperrors"
	"github.com/receiptly/be-approvals/internal/database"
)

// pgUniqueViolation is the SQLSTATE raised when the partial unique index on
// live requests rejects a second insert for the same receipt.
const pgUniqueViolation = "23505"

// ApprovalRequestsRepository manages approval request records. Status changes
// go through CompareAndSwapStatus so concurrent actors cannot both win.
type ApprovalRequestsRepository struct {
	db database.PGXDB
}

// NewApprovalRequestsRepository creates a new ApprovalRequestsRepository.
func NewApprovalRequestsRepository(db database.PGXDB) *ApprovalRequestsRepository {
	return &ApprovalRequestsRepository{db: db}
}

const requestColumns = `
	id, receipt_id, submitter_id, company_id, rule_id,
	amount, category, vendor, reason,
	status, approver_id, comments, escalation_tier,
	created_at, decided_at, escalated_at, updated_at
`

// Insert creates a new approval request. The partial unique index on live
// requests turns a concurrent duplicate into a conflict error.
func (r *ApprovalRequestsRepository) Insert(ctx context.Context, req *ApprovalRequest) error {
	query := `
		INSERT INTO approval_requests
		    (receipt_id, submitter_id, company_id, rule_id,
		     amount, category, vendor, reason,
		     status, escalation_tier)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7, $8,
		        $9, $10)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		req.ReceiptID,
		req.SubmitterID,
		req.CompanyID,
		req.RuleID,
		req.Amount,
		req.Category,
		req.Vendor,
		req.Reason,
		req.Status,
		req.EscalationTier,
	).Scan(&req.ID, &req.CreatedAt, &req.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return apperrors.New(apperrors.ErrCodeConflict,
			"an active approval request already exists for this receipt")
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to insert approval request")
	}
	return nil
}

// GetByID retrieves a request by primary key.
func (r *ApprovalRequestsRepository) GetByID(ctx context.Context, id string) (*ApprovalRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE id = $1`

	req, err := r.scanRequest(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("approval_request", id)
	}
	return req, err
}

// FindNonTerminalByReceipt returns the live (pending or escalated) request
// for a receipt, or nil when none exists.
func (r *ApprovalRequestsRepository) FindNonTerminalByReceipt(ctx context.Context, receiptID string) (*ApprovalRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM approval_requests
		WHERE receipt_id = $1
		  AND status IN ('pending', 'escalated')
		LIMIT 1
	`

	req, err := r.scanRequest(r.db.QueryRow(ctx, query, receiptID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return req, err
}

// RequestUpdate carries the fields written by a status transition. Comments,
// escalation tier and timestamps keep their stored value when nil; the
// approver is always overwritten (nil clears it, as escalation requires).
type RequestUpdate struct {
	Status         string
	ApproverID     *string
	Comments       *string
	EscalationTier *int
	DecidedAt      *time.Time
	EscalatedAt    *time.Time
}

// CompareAndSwapStatus transitions a request only when its stored status still
// equals expectedStatus. A lost race surfaces as a conflict error, never as a
// second successful transition.
func (r *ApprovalRequestsRepository) CompareAndSwapStatus(
	ctx context.Context,
	id, expectedStatus string,
	update RequestUpdate,
) (*ApprovalRequest, error) {
	query := `
		UPDATE approval_requests
		SET status          = $3,
		    approver_id     = $4,
		    comments        = COALESCE($5, comments),
		    escalation_tier = COALESCE($6, escalation_tier),
		    decided_at      = COALESCE($7, decided_at),
		    escalated_at    = COALESCE($8, escalated_at),
		    updated_at      = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + requestColumns

	req, err := r.scanRequest(r.db.QueryRow(ctx, query,
		id,
		expectedStatus,
		update.Status,
		update.ApproverID,
		update.Comments,
		update.EscalationTier,
		update.DecidedAt,
		update.EscalatedAt,
	))
	if err == pgx.ErrNoRows {
		// Distinguish a missing request from a lost race.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, apperrors.New(apperrors.ErrCodeConflict,
			"approval request status changed concurrently")
	}
	return req, err
}

// ListPendingForApprover returns all live requests whose current approver tier
// includes the given user, oldest first. Tier 0 reads the rule's approvers
// array; tier k >= 1 reads escalation_chain[k] (Postgres arrays are 1-based).
func (r *ApprovalRequestsRepository) ListPendingForApprover(ctx context.Context, companyID, userID string) ([]*ApprovalRequest, error) {
	query := `
		SELECT req.id, req.receipt_id, req.submitter_id, req.company_id, req.rule_id,
		       req.amount, req.category, req.vendor, req.reason,
		       req.status, req.approver_id, req.comments, req.escalation_tier,
		       req.created_at, req.decided_at, req.escalated_at, req.updated_at
		FROM approval_requests req
		JOIN approval_rules rule ON rule.id = req.rule_id
		WHERE req.company_id = $1
		  AND req.status IN ('pending', 'escalated')
		  AND (
		        (req.escalation_tier = 0 AND $2 = ANY(rule.approvers))
		     OR (req.escalation_tier > 0 AND rule.escalation_chain[req.escalation_tier] = $2)
		  )
		ORDER BY req.created_at ASC
	`

	rows, err := r.db.Query(ctx, query, companyID, userID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list pending approvals")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type requestScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalRequestsRepository) scanRequest(row requestScanner) (*ApprovalRequest, error) {
	req := &ApprovalRequest{}
	err := row.Scan(
		&req.ID,
		&req.ReceiptID,
		&req.SubmitterID,
		&req.CompanyID,
		&req.RuleID,
		&req.Amount,
		&req.Category,
		&req.Vendor,
		&req.Reason,
		&req.Status,
		&req.ApproverID,
		&req.Comments,
		&req.EscalationTier,
		&req.CreatedAt,
		&req.DecidedAt,
		&req.EscalatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (r *ApprovalRequestsRepository) scanRows(rows pgx.Rows) ([]*ApprovalRequest, error) {
	var requests []*ApprovalRequest
	for rows.Next() {
		req, err := r.scanRequest(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan approval request")
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}
