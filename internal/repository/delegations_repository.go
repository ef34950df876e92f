package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/receiptly/be-approvals/internal/apperrors"
	"github.com/receiptly/be-approvals/internal/database"
)

// ApprovalDelegationsRepository manages time-boxed delegations of approval
// authority. Delegations are never deleted; they expire with their window and
// stay queryable as history.
type ApprovalDelegationsRepository struct {
	db database.PGXDB
}

// NewApprovalDelegationsRepository creates a new ApprovalDelegationsRepository.
func NewApprovalDelegationsRepository(db database.PGXDB) *ApprovalDelegationsRepository {
	return &ApprovalDelegationsRepository{db: db}
}

const delegationColumns = `
	id, delegator_id, delegate_to_id, company_id,
	start_date, end_date, max_amount, categories, reason, created_at
`

// Create inserts a new delegation.
func (r *ApprovalDelegationsRepository) Create(ctx context.Context, d *ApprovalDelegation) error {
	query := `
		INSERT INTO approval_delegations
		    (delegator_id, delegate_to_id, company_id,
		     start_date, end_date, max_amount, categories, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query,
		d.DelegatorID,
		d.DelegateToID,
		d.CompanyID,
		d.StartDate,
		d.EndDate,
		d.MaxAmount,
		d.Categories,
		d.Reason,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create delegation")
	}
	return nil
}

// ListActiveDelegations returns delegations granted BY the given user that are
// active at the given instant, most recently created first. The ordering is
// load-bearing: overlapping delegations resolve last-created-wins.
func (r *ApprovalDelegationsRepository) ListActiveDelegations(
	ctx context.Context,
	delegatorID, companyID string,
	at time.Time,
) ([]*ApprovalDelegation, error) {
	query := `
		SELECT ` + delegationColumns + `
		FROM approval_delegations
		WHERE delegator_id = $1
		  AND company_id = $2
		  AND start_date <= $3
		  AND end_date >= $3
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, delegatorID, companyID, at)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list delegations")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ListActiveForDelegate returns delegations granted TO the given user that are
// active at the given instant. Used to fan a delegate's pending-approvals view
// out to their delegators' queues.
func (r *ApprovalDelegationsRepository) ListActiveForDelegate(
	ctx context.Context,
	delegateID, companyID string,
	at time.Time,
) ([]*ApprovalDelegation, error) {
	query := `
		SELECT ` + delegationColumns + `
		FROM approval_delegations
		WHERE delegate_to_id = $1
		  AND company_id = $2
		  AND start_date <= $3
		  AND end_date >= $3
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, delegateID, companyID, at)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list delegations for delegate")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ListHistory returns all delegations ever granted by a user, newest first.
func (r *ApprovalDelegationsRepository) ListHistory(ctx context.Context, delegatorID, companyID string) ([]*ApprovalDelegation, error) {
	query := `
		SELECT ` + delegationColumns + `
		FROM approval_delegations
		WHERE delegator_id = $1 AND company_id = $2
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, delegatorID, companyID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list delegation history")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ─────────────────────────────────────────────────────────────

func (r *ApprovalDelegationsRepository) scanRows(rows pgx.Rows) ([]*ApprovalDelegation, error) {
	var delegations []*ApprovalDelegation
	for rows.Next() {
		d := &ApprovalDelegation{}
		err := rows.Scan(
			&d.ID,
			&d.DelegatorID,
			&d.DelegateToID,
			&d.CompanyID,
			&d.StartDate,
			&d.EndDate,
			&d.MaxAmount,
			&d.Categories,
			&d.Reason,
			&d.CreatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan delegation")
		}
		delegations = append(delegations, d)
	}
	return delegations, rows.Err()
}
