package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/receiptly/be-approvals/internal/apperrors"
	"github.com/receiptly/be-approvals/internal/database"
)

// AuditRepository appends and reads immutable approval audit log entries.
// Append is the only mutation exposed.
type AuditRepository struct {
	db database.PGXDB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db database.PGXDB) *AuditRepository {
	return &AuditRepository{db: db}
}

// LogAction inserts one audit entry.
func (r *AuditRepository) LogAction(ctx context.Context, entry *AuditEntry) error {
	var detailsJSON []byte
	if entry.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(entry.Details)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal audit details")
		}
	}

	query := `
		INSERT INTO approval_audit_log
		    (company_id, actor_id, action, resource_type, resource_id, details)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query,
		entry.CompanyID,
		entry.ActorID,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		detailsJSON,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to append audit entry")
	}
	return nil
}

// ListByResource returns the audit trail for one resource, oldest first.
func (r *AuditRepository) ListByResource(ctx context.Context, resourceType, resourceID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, company_id, actor_id, action, resource_type, resource_id,
		       details, created_at
		FROM approval_audit_log
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, resourceType, resourceID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list audit entries")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ─────────────────────────────────────────────────────────────

func (r *AuditRepository) scanRows(rows pgx.Rows) ([]*AuditEntry, error) {
	var entries []*AuditEntry
	for rows.Next() {
		entry := &AuditEntry{}
		var detailsJSON []byte

		err := rows.Scan(
			&entry.ID,
			&entry.CompanyID,
			&entry.ActorID,
			&entry.Action,
			&entry.ResourceType,
			&entry.ResourceID,
			&detailsJSON,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan audit entry")
		}
		if detailsJSON != nil {
			if err := json.Unmarshal(detailsJSON, &entry.Details); err != nil {
				return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to unmarshal audit details")
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
