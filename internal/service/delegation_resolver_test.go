package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/receiptly/be-approvals/internal/repository"
)

func TestDelegationResolver_ResolveEffectiveApprover(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("no delegation returns nominal approver", func(t *testing.T) {
		resolver := NewDelegationResolver(&fakeDelegationStore{}, zerolog.Nop())
		effective, err := resolver.ResolveEffectiveApprover(ctx, "mgr-1", testCompany, dec("100"), "travel", now)
		require.NoError(t, err)
		require.Equal(t, "mgr-1", effective)
	})

	t.Run("active window substitutes the delegate", func(t *testing.T) {
		store := &fakeDelegationStore{}
		require.NoError(t, store.Create(ctx, &repository.ApprovalDelegation{
			DelegatorID:  "mgr-1",
			DelegateToID: "deputy-1",
			CompanyID:    testCompany,
			StartDate:    now.AddDate(0, 0, -1),
			EndDate:      now.AddDate(0, 0, 5),
			Reason:       "vacation",
		}))
		resolver := NewDelegationResolver(store, zerolog.Nop())

		effective, err := resolver.ResolveEffectiveApprover(ctx, "mgr-1", testCompany, dec("100"), "travel", now)
		require.NoError(t, err)
		require.Equal(t, "deputy-1", effective)
	})

	t.Run("window boundaries are inclusive", func(t *testing.T) {
		store := &fakeDelegationStore{}
		require.NoError(t, store.Create(ctx, &repository.ApprovalDelegation{
			DelegatorID:  "mgr-1",
			DelegateToID: "deputy-1",
			CompanyID:    testCompany,
			StartDate:    now,
			EndDate:      now.AddDate(0, 0, 5),
			Reason:       "vacation",
		}))
		resolver := NewDelegationResolver(store, zerolog.Nop())

		effective, err := resolver.ResolveEffectiveApprover(ctx, "mgr-1", testCompany, dec("100"), "travel", now)
		require.NoError(t, err)
		require.Equal(t, "deputy-1", effective)

		effective, err = resolver.ResolveEffectiveApprover(ctx, "mgr-1", testCompany, dec("100"), "travel", now.AddDate(0, 0, 5))
		require.NoError(t, err)
		require.Equal(t, "deputy-1", effective)
	})

	t.Run("expired window keeps nominal approver", func(t *testing.T) {
		store := &fakeDelegationStore{}
		require.NoError(t, store.Create(ctx, &repository.ApprovalDelegation{
			DelegatorID:  "mgr-1",
			DelegateToID: "deputy-1",
			CompanyID:    testCompany,
			StartDate:    now.AddDate(0, 0, -10),
			EndDate:      now.AddDate(0, 0, -3),
			Reason:       "vacation",
		}))
		resolver := NewDelegationResolver(store, zerolog.Nop())

		effective, err := resolver.ResolveEffectiveApprover(ctx, "mgr-1", testCompany, dec("100"), "travel", now)
		require.NoError(t, err)
		require.Equal(t, "mgr-1", effective)
	})

	t.Run("max amount bounds the delegation", func(t *testing.T) {
		store := &fakeDelegationStore{}
		require.NoError(t, store.Create(ctx, &repository.ApprovalDelegation{
			DelegatorID:  "mgr-1",
			DelegateToID: "deputy-1",
			CompanyID:    testCompany,
			StartDate:    now.AddDate(0, 0, -1),
			EndDate:      now.AddDate(0, 0, 5),
			MaxAmount:    decPtr("500"),
			Reason:       "vacation",
		}))
		resolver := NewDelegationResolver(store, zerolog.Nop())

		effective, err := resolver.ResolveEffectiveApprover(ctx, "mgr-1", testCompany, dec("300"), "travel", now)
		require.NoError(t, err)
		require.Equal(t, "deputy-1", effective)

		effective, err = resolver.ResolveEffectiveApprover(ctx, "mgr-1", testCompany, dec("800"), "travel", now)
		require.NoError(t, err)
		require.Equal(t, "mgr-1", effective)

		effective, err = resolver.ResolveEffectiveApprover(ctx, "mgr-1", testCompany, dec("500"), "travel", now)
		require.NoError(t, err)
		require.Equal(t, "deputy-1", effective, "max amount is inclusive")
	})

	t.Run("category scope bounds the delegation", func(t *testing.T) {
		store := &fakeDelegationStore{}
		require.NoError(t, store.Create(ctx, &repository.ApprovalDelegation{
			DelegatorID:  "mgr-1",
			DelegateToID: "deputy-1",
			CompanyID:    testCompany,
			StartDate:    now.AddDate(0, 0, -1),
			EndDate:      now.AddDate(0, 0, 5),
			Categories:   []string{"travel", "meals"},
			Reason:       "vacation",
		}))
		resolver := NewDelegationResolver(store, zerolog.Nop())

		effective, err := resolver.ResolveEffectiveApprover(ctx, "mgr-1", testCompany, dec("100"), "meals", now)
		require.NoError(t, err)
		require.Equal(t, "deputy-1", effective)

		effective, err = resolver.ResolveEffectiveApprover(ctx, "mgr-1", testCompany, dec("100"), "equipment", now)
		require.NoError(t, err)
		require.Equal(t, "mgr-1", effective)
	})

	t.Run("most recently created delegation wins", func(t *testing.T) {
		store := &fakeDelegationStore{}
		require.NoError(t, store.Create(ctx, &repository.ApprovalDelegation{
			DelegatorID:  "mgr-1",
			DelegateToID: "deputy-old",
			CompanyID:    testCompany,
			StartDate:    now.AddDate(0, 0, -5),
			EndDate:      now.AddDate(0, 0, 5),
			Reason:       "vacation",
			CreatedAt:    now.AddDate(0, 0, -5),
		}))
		require.NoError(t, store.Create(ctx, &repository.ApprovalDelegation{
			DelegatorID:  "mgr-1",
			DelegateToID: "deputy-new",
			CompanyID:    testCompany,
			StartDate:    now.AddDate(0, 0, -1),
			EndDate:      now.AddDate(0, 0, 5),
			Reason:       "handover",
			CreatedAt:    now.AddDate(0, 0, -1),
		}))
		resolver := NewDelegationResolver(store, zerolog.Nop())

		effective, err := resolver.ResolveEffectiveApprover(ctx, "mgr-1", testCompany, dec("100"), "travel", now)
		require.NoError(t, err)
		require.Equal(t, "deputy-new", effective)
	})

	t.Run("newer out-of-scope delegation falls back to older one", func(t *testing.T) {
		store := &fakeDelegationStore{}
		require.NoError(t, store.Create(ctx, &repository.ApprovalDelegation{
			DelegatorID:  "mgr-1",
			DelegateToID: "deputy-old",
			CompanyID:    testCompany,
			StartDate:    now.AddDate(0, 0, -5),
			EndDate:      now.AddDate(0, 0, 5),
			Reason:       "vacation",
			CreatedAt:    now.AddDate(0, 0, -5),
		}))
		require.NoError(t, store.Create(ctx, &repository.ApprovalDelegation{
			DelegatorID:  "mgr-1",
			DelegateToID: "deputy-new",
			CompanyID:    testCompany,
			StartDate:    now.AddDate(0, 0, -1),
			EndDate:      now.AddDate(0, 0, 5),
			MaxAmount:    decPtr("50"),
			Reason:       "small spends only",
			CreatedAt:    now.AddDate(0, 0, -1),
		}))
		resolver := NewDelegationResolver(store, zerolog.Nop())

		effective, err := resolver.ResolveEffectiveApprover(ctx, "mgr-1", testCompany, dec("200"), "travel", now)
		require.NoError(t, err)
		require.Equal(t, "deputy-old", effective)
	})
}
