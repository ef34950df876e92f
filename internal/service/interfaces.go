package service

import (
	"context"
	"time"

	"github.com/receiptly/be-approvals/internal/repository"
)

// Principal identifies the authenticated caller of a core operation. It is
// always passed explicitly; services never reconstruct identity ad hoc.
type Principal struct {
	ID        string
	CompanyID string
	Role      string
}

// RuleStore provides read access to approval rules.
type RuleStore interface {
	// ListActiveRules returns a company's active rules in priority order and
	// fails with a not-found error for an unknown company.
	ListActiveRules(ctx context.Context, companyID string) ([]*repository.ApprovalRule, error)
	GetByID(ctx context.Context, id string) (*repository.ApprovalRule, error)
}

// RequestStore persists approval requests. Status transitions go through
// CompareAndSwapStatus, which must fail with a conflict when the stored
// status no longer matches the expected one.
type RequestStore interface {
	FindNonTerminalByReceipt(ctx context.Context, receiptID string) (*repository.ApprovalRequest, error)
	GetByID(ctx context.Context, id string) (*repository.ApprovalRequest, error)
	Insert(ctx context.Context, req *repository.ApprovalRequest) error
	CompareAndSwapStatus(ctx context.Context, id, expectedStatus string, update repository.RequestUpdate) (*repository.ApprovalRequest, error)
	ListPendingForApprover(ctx context.Context, companyID, userID string) ([]*repository.ApprovalRequest, error)
}

// DelegationStore provides read access to approval delegations.
type DelegationStore interface {
	ListActiveDelegations(ctx context.Context, delegatorID, companyID string, at time.Time) ([]*repository.ApprovalDelegation, error)
	ListActiveForDelegate(ctx context.Context, delegateID, companyID string, at time.Time) ([]*repository.ApprovalDelegation, error)
}

// DelegationAdminStore extends DelegationStore with the write surface used by
// delegation management.
type DelegationAdminStore interface {
	DelegationStore
	Create(ctx context.Context, d *repository.ApprovalDelegation) error
	ListHistory(ctx context.Context, delegatorID, companyID string) ([]*repository.ApprovalDelegation, error)
}

// RuleAdminStore extends RuleStore with the write surface used by rule
// management.
type RuleAdminStore interface {
	RuleStore
	Create(ctx context.Context, rule *repository.ApprovalRule) error
	List(ctx context.Context, companyID string, activeOnly bool) ([]*repository.ApprovalRule, error)
	Update(ctx context.Context, rule *repository.ApprovalRule) error
	Deactivate(ctx context.Context, id, companyID string) error
}

// NotificationSink delivers workflow events. Implementations are
// fire-and-forget: failures are logged, never propagated, so a dead
// notification transport cannot roll back an approval decision.
type NotificationSink interface {
	NotifySubmitter(ctx context.Context, req *repository.ApprovalRequest, action string, comments *string)
	NotifyApprovers(ctx context.Context, req *repository.ApprovalRequest, approverIDs []string)
	NotifyDelegation(ctx context.Context, d *repository.ApprovalDelegation)
}

// AuditSink records workflow actions. Callers swallow and log its errors;
// audit failures never fail the primary operation.
type AuditSink interface {
	LogAction(ctx context.Context, entry *repository.AuditEntry) error
}

// Compile-time wiring checks against the postgres implementations.
var (
	_ RuleAdminStore       = (*repository.ApprovalRulesRepository)(nil)
	_ RequestStore         = (*repository.ApprovalRequestsRepository)(nil)
	_ DelegationAdminStore = (*repository.ApprovalDelegationsRepository)(nil)
	_ AuditSink            = (*repository.AuditRepository)(nil)
)
