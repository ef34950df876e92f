package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/receiptly/be-approvals/internal/apperrors"
	"github.com/receiptly/be-approvals/internal/repository"
)

// DelegationService manages a user's delegations of approval authority.
// A user can only delegate their own authority.
type DelegationService struct {
	delegations DelegationAdminStore
	notifier    NotificationSink
	audit       AuditSink
	log         zerolog.Logger
}

// NewDelegationService creates a new DelegationService.
func NewDelegationService(
	delegations DelegationAdminStore,
	notifier NotificationSink,
	audit AuditSink,
	log zerolog.Logger,
) *DelegationService {
	return &DelegationService{
		delegations: delegations,
		notifier:    notifier,
		audit:       audit,
		log:         log,
	}
}

// CreateDelegationInput carries the fields of a new delegation. The delegator
// is always the acting principal.
type CreateDelegationInput struct {
	DelegateToID string
	StartDate    time.Time
	EndDate      time.Time
	MaxAmount    *decimal.Decimal
	Categories   []string
	Reason       string
}

// CreateDelegation grants the actor's approval authority to another user for
// a bounded window and optional amount/category scope.
func (s *DelegationService) CreateDelegation(ctx context.Context, actor Principal, in CreateDelegationInput) (*repository.ApprovalDelegation, error) {
	if in.DelegateToID == "" {
		return nil, apperrors.InvalidInput("delegate_to_id", "delegate is required")
	}
	if in.DelegateToID == actor.ID {
		return nil, apperrors.InvalidInput("delegate_to_id", "cannot delegate to yourself")
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return nil, apperrors.InvalidInput("start_date", "start and end dates are required")
	}
	if in.EndDate.Before(in.StartDate) {
		return nil, apperrors.InvalidInput("end_date", "end date cannot be before start date")
	}
	if in.MaxAmount != nil && !in.MaxAmount.IsPositive() {
		return nil, apperrors.InvalidInput("max_amount", "max amount must be positive")
	}
	if in.Reason == "" {
		return nil, apperrors.InvalidInput("reason", "delegation reason is required")
	}

	d := &repository.ApprovalDelegation{
		DelegatorID:  actor.ID,
		DelegateToID: in.DelegateToID,
		CompanyID:    actor.CompanyID,
		StartDate:    in.StartDate,
		EndDate:      in.EndDate,
		MaxAmount:    in.MaxAmount,
		Categories:   in.Categories,
		Reason:       in.Reason,
	}

	if err := s.delegations.Create(ctx, d); err != nil {
		return nil, err
	}

	if s.audit != nil {
		err := s.audit.LogAction(ctx, &repository.AuditEntry{
			CompanyID:    actor.CompanyID,
			ActorID:      actor.ID,
			Action:       "delegated",
			ResourceType: "approval_delegation",
			ResourceID:   d.ID,
			Details: map[string]interface{}{
				"delegate_to_id": d.DelegateToID,
				"start_date":     d.StartDate,
				"end_date":       d.EndDate,
			},
		})
		if err != nil {
			s.log.Warn().Err(err).Str("delegation_id", d.ID).Msg("Failed to audit delegation")
		}
	}
	s.notifier.NotifyDelegation(ctx, d)

	s.log.Info().
		Str("delegation_id", d.ID).
		Str("delegator_id", d.DelegatorID).
		Str("delegate_to_id", d.DelegateToID).
		Time("start_date", d.StartDate).
		Time("end_date", d.EndDate).
		Msg("Delegation created")

	return d, nil
}

// ListActiveDelegations returns the actor's currently active delegations.
func (s *DelegationService) ListActiveDelegations(ctx context.Context, actor Principal) ([]*repository.ApprovalDelegation, error) {
	return s.delegations.ListActiveDelegations(ctx, actor.ID, actor.CompanyID, time.Now())
}

// ListDelegationHistory returns every delegation the actor has granted.
func (s *DelegationService) ListDelegationHistory(ctx context.Context, actor Principal) ([]*repository.ApprovalDelegation, error) {
	return s.delegations.ListHistory(ctx, actor.ID, actor.CompanyID)
}
