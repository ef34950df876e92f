package service

import "github.com/receiptly/be-approvals/internal/apperrors"

// Sentinel errors for the workflow's business failure modes. Validation
// failures and not-found conditions use apperrors constructors directly; the
// sentinels below cover the cases callers need to tell apart by identity.
var (
	// ErrDuplicateApprovalRequest: a live request already exists for the receipt.
	ErrDuplicateApprovalRequest = apperrors.New(apperrors.ErrCodeConflict,
		"an active approval request already exists for this receipt")

	// ErrInvalidStateTransition: the request is terminal or changed concurrently.
	ErrInvalidStateTransition = apperrors.New(apperrors.ErrCodeConflict,
		"approval request is not in an actionable state")

	// ErrInsufficientApprovalAuthority: the actor is neither a current-tier
	// approver nor an effective delegate of one.
	ErrInsufficientApprovalAuthority = apperrors.New(apperrors.ErrCodeForbidden,
		"user is not authorized to act on this approval request")

	// ErrNoEscalationPath: the rule's escalation chain is absent or exhausted.
	ErrNoEscalationPath = apperrors.New(apperrors.ErrCodeInvalidInput,
		"approval rule has no remaining escalation path")
)
