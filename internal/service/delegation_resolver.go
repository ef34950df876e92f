package service

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/receiptly/be-approvals/internal/repository"
)

// DelegationResolver resolves the effective approver identity when a
// delegation window covers the evaluation instant.
type DelegationResolver struct {
	delegations DelegationStore
	log         zerolog.Logger
}

// NewDelegationResolver creates a new DelegationResolver.
func NewDelegationResolver(delegations DelegationStore, log zerolog.Logger) *DelegationResolver {
	return &DelegationResolver{delegations: delegations, log: log}
}

// ResolveEffectiveApprover returns the user who currently holds
// nominalApproverID's approval authority for the given amount and category.
// With no active in-scope delegation the nominal approver is returned
// unchanged; a missing delegation is never an error. When several overlapping
// delegations exist, the most recently created one wins.
func (r *DelegationResolver) ResolveEffectiveApprover(
	ctx context.Context,
	nominalApproverID, companyID string,
	amount decimal.Decimal,
	category string,
	at time.Time,
) (string, error) {
	delegations, err := r.delegations.ListActiveDelegations(ctx, nominalApproverID, companyID, at)
	if err != nil {
		return "", err
	}

	sort.SliceStable(delegations, func(i, j int) bool {
		return delegations[i].CreatedAt.After(delegations[j].CreatedAt)
	})

	for _, d := range delegations {
		if !d.ActiveAt(at) {
			continue
		}
		if !d.Covers(amount, category) {
			continue
		}
		r.log.Debug().
			Str("delegator_id", nominalApproverID).
			Str("delegate_id", d.DelegateToID).
			Str("delegation_id", d.ID).
			Msg("Approval authority resolved through delegation")
		return d.DelegateToID, nil
	}

	return nominalApproverID, nil
}

// DelegationsTo returns the active delegations granted to the given user at
// the evaluation instant. Used to widen a delegate's pending-approvals view.
func (r *DelegationResolver) DelegationsTo(
	ctx context.Context,
	delegateID, companyID string,
	at time.Time,
) ([]*repository.ApprovalDelegation, error) {
	return r.delegations.ListActiveForDelegate(ctx, delegateID, companyID, at)
}
