package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// ── Domain types for the approval workflow ───────────────────────────────────

// Approval request statuses. pending and escalated are the live states; a
// receipt can hold at most one live request at a time.
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusEscalated = "escalated"
)

// SystemActorID is recorded as the approver on auto-approved requests.
const SystemActorID = "system"

// NotificationConfig controls event fan-out for a rule.
type NotificationConfig struct {
	OnSubmission            bool `json:"on_submission"`
	OnApproval              bool `json:"on_approval"`
	OnRejection             bool `json:"on_rejection"`
	ReminderIntervalMinutes *int `json:"reminder_interval_minutes,omitempty"`
}

// ApprovalRule is one company-configured policy mapping submission conditions
// to an approval action. Rules are evaluated in ascending priority order;
// empty condition sets match anything.
type ApprovalRule struct {
	ID                string
	CompanyID         string
	Name              string
	Description       *string
	IsActive          bool
	Priority          int
	AmountThreshold   *decimal.Decimal
	Categories        []string
	Vendors           []string
	TimeWindowMinutes *int
	UserRoles         []string
	RequiresApproval  bool
	AutoApprove       bool
	Approvers         []string
	EscalationChain   []string
	Notifications     NotificationConfig
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ApprovalRequest tracks one receipt's journey through the approval workflow.
// EscalationTier 0 means the rule's primary approvers; tier k >= 1 means
// EscalationChain[k-1].
type ApprovalRequest struct {
	ID             string
	ReceiptID      string
	SubmitterID    string
	CompanyID      string
	RuleID         string
	Amount         decimal.Decimal
	Category       string
	Vendor         *string
	Reason         *string
	Status         string
	ApproverID     *string
	Comments       *string
	EscalationTier int
	CreatedAt      time.Time
	DecidedAt      *time.Time
	EscalatedAt    *time.Time
	UpdatedAt      time.Time
}

// IsTerminal reports whether the request can no longer be acted upon.
func (r *ApprovalRequest) IsTerminal() bool {
	return r.Status == StatusApproved || r.Status == StatusRejected
}

// ApprovalDelegation is a time-boxed, amount/category-scoped grant of one
// user's approval authority to another.
type ApprovalDelegation struct {
	ID           string
	DelegatorID  string
	DelegateToID string
	CompanyID    string
	StartDate    time.Time
	EndDate      time.Time
	MaxAmount    *decimal.Decimal
	Categories   []string
	Reason       string
	CreatedAt    time.Time
}

// ActiveAt reports whether the delegation window covers the given instant.
func (d *ApprovalDelegation) ActiveAt(at time.Time) bool {
	return !at.Before(d.StartDate) && !at.After(d.EndDate)
}

// Covers reports whether the delegation's scope admits the given amount and
// category. An unset max amount or empty category set places no bound.
func (d *ApprovalDelegation) Covers(amount decimal.Decimal, category string) bool {
	if d.MaxAmount != nil && amount.GreaterThan(*d.MaxAmount) {
		return false
	}
	if len(d.Categories) > 0 {
		found := false
		for _, c := range d.Categories {
			if c == category {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// AuditEntry is one immutable record in the approval audit log.
type AuditEntry struct {
	ID           string
	CompanyID    string
	ActorID      string
	Action       string // submitted | auto_approved | approved | rejected | request_info | escalated | delegated | approval_denied
	ResourceType string
	ResourceID   string
	Details      map[string]interface{}
	CreatedAt    time.Time
}
