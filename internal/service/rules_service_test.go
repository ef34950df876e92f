package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/receiptly/be-approvals/internal/apperrors"
	"github.com/receiptly/be-approvals/internal/repository"
)

func newRuleServiceFixture(t *testing.T) (*RuleService, *fakeRuleStore, *fakeAudit) {
	t.Helper()
	store := newFakeRuleStore(testCompany)
	audit := &fakeAudit{}
	return NewRuleService(store, audit, zerolog.Nop()), store, audit
}

func validRuleInput() RuleInput {
	return RuleInput{
		Name:             "over 500",
		IsActive:         true,
		Priority:         1,
		AmountThreshold:  decPtr("500"),
		RequiresApproval: true,
		Approvers:        []string{"mgr-1"},
	}
}

func TestRuleService_CreateRule(t *testing.T) {
	ctx := context.Background()
	admin := Principal{ID: "admin-1", CompanyID: testCompany, Role: "admin"}

	t.Run("creates and audits", func(t *testing.T) {
		svc, _, audit := newRuleServiceFixture(t)

		rule, err := svc.CreateRule(ctx, admin, validRuleInput())
		require.NoError(t, err)
		require.NotEmpty(t, rule.ID)
		require.Equal(t, testCompany, rule.CompanyID)
		require.Equal(t, []string{"rule_created"}, audit.actions())
	})

	t.Run("validation", func(t *testing.T) {
		svc, _, _ := newRuleServiceFixture(t)

		cases := []struct {
			name   string
			mutate func(*RuleInput)
		}{
			{"missing name", func(in *RuleInput) { in.Name = "" }},
			{"negative priority", func(in *RuleInput) { in.Priority = -1 }},
			{"non-positive threshold", func(in *RuleInput) { in.AmountThreshold = decPtr("0") }},
			{"auto approve without requires approval", func(in *RuleInput) {
				in.AutoApprove = true
				in.RequiresApproval = false
			}},
			{"approval rule without approvers", func(in *RuleInput) { in.Approvers = nil }},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				in := validRuleInput()
				tc.mutate(&in)
				_, err := svc.CreateRule(ctx, admin, in)
				require.Error(t, err)
				require.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.CodeOf(err))
			})
		}
	})

	t.Run("auto approve rule needs no approvers", func(t *testing.T) {
		svc, _, _ := newRuleServiceFixture(t)

		in := validRuleInput()
		in.AutoApprove = true
		in.Approvers = nil
		_, err := svc.CreateRule(ctx, admin, in)
		require.NoError(t, err)
	})
}

func TestRuleService_UpdateRule(t *testing.T) {
	ctx := context.Background()
	admin := Principal{ID: "admin-1", CompanyID: testCompany, Role: "admin"}

	t.Run("replaces configurable fields", func(t *testing.T) {
		svc, _, audit := newRuleServiceFixture(t)
		rule, err := svc.CreateRule(ctx, admin, validRuleInput())
		require.NoError(t, err)

		in := validRuleInput()
		in.Name = "over 1000"
		in.AmountThreshold = decPtr("1000")
		in.Priority = 3

		updated, err := svc.UpdateRule(ctx, admin, rule.ID, in)
		require.NoError(t, err)
		require.Equal(t, "over 1000", updated.Name)
		require.Equal(t, 3, updated.Priority)
		require.True(t, updated.AmountThreshold.Equal(dec("1000")))
		require.Contains(t, audit.actions(), "rule_updated")
	})

	t.Run("cannot touch another company's rule", func(t *testing.T) {
		svc, store, _ := newRuleServiceFixture(t)
		foreign := mustCreateRule(t, store, &repository.ApprovalRule{
			CompanyID:        "comp-other",
			Name:             "foreign",
			IsActive:         true,
			RequiresApproval: true,
			Approvers:        []string{"mgr-9"},
		})

		_, err := svc.UpdateRule(ctx, admin, foreign.ID, validRuleInput())
		require.Equal(t, apperrors.ErrCodeNotFound, apperrors.CodeOf(err))

		_, err = svc.GetRule(ctx, admin, foreign.ID)
		require.Equal(t, apperrors.ErrCodeNotFound, apperrors.CodeOf(err))
	})
}

func TestRuleService_DeactivateRule(t *testing.T) {
	ctx := context.Background()
	admin := Principal{ID: "admin-1", CompanyID: testCompany, Role: "admin"}
	svc, _, audit := newRuleServiceFixture(t)

	rule, err := svc.CreateRule(ctx, admin, validRuleInput())
	require.NoError(t, err)

	require.NoError(t, svc.DeactivateRule(ctx, admin, rule.ID))
	require.Contains(t, audit.actions(), "rule_deactivated")

	// Deactivation is soft: the rule stays readable but drops out of the
	// active listing.
	got, err := svc.GetRule(ctx, admin, rule.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)

	active, err := svc.ListRules(ctx, admin, true)
	require.NoError(t, err)
	require.Empty(t, active)

	all, err := svc.ListRules(ctx, admin, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
}
