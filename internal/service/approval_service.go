package service

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/receiptly/be-approvals/internal/apperrors"
	"github.com/receiptly/be-approvals/internal/metrics"
	"github.com/receiptly/be-approvals/internal/repository"
)

// Action is a decision an approver can take on a live request.
type Action string

const (
	ActionApprove     Action = "approve"
	ActionReject      Action = "reject"
	ActionRequestInfo Action = "request_info"
)

// ApprovalService drives approval requests through the
// pending -> approved/rejected/escalated state machine. All persistence goes
// through the injected stores; status transitions use compare-and-swap so
// concurrent actors cannot both win.
type ApprovalService struct {
	rules    RuleStore
	requests RequestStore
	resolver *DelegationResolver
	notifier NotificationSink
	audit    AuditSink
	log      zerolog.Logger
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(
	rules RuleStore,
	requests RequestStore,
	resolver *DelegationResolver,
	notifier NotificationSink,
	audit AuditSink,
	log zerolog.Logger,
) *ApprovalService {
	return &ApprovalService{
		rules:    rules,
		requests: requests,
		resolver: resolver,
		notifier: notifier,
		audit:    audit,
		log:      log,
	}
}

// CreateRequestInput carries the fields needed to open an approval request.
type CreateRequestInput struct {
	ReceiptID   string
	SubmitterID string
	CompanyID   string
	RuleID      string
	Amount      decimal.Decimal
	Category    string
	Vendor      *string
	Reason      *string
}

// ── Create ───────────────────────────────────────────────────────────────────

// CreateRequest opens a pending approval request for a receipt. A receipt can
// hold at most one live request; a second submission fails with a duplicate
// error. When the triggering rule auto-approves, the request is immediately
// transitioned to approved with the system recorded as approver, so the
// auto-approval is a logged decision rather than a bypass.
func (s *ApprovalService) CreateRequest(ctx context.Context, in CreateRequestInput) (*repository.ApprovalRequest, error) {
	if in.ReceiptID == "" {
		return nil, apperrors.InvalidInput("receipt_id", "receipt id is required")
	}
	if in.SubmitterID == "" {
		return nil, apperrors.InvalidInput("submitter_id", "submitter id is required")
	}
	if !in.Amount.IsPositive() {
		return nil, apperrors.InvalidInput("amount", "amount must be positive")
	}
	if in.Category == "" {
		return nil, apperrors.InvalidInput("category", "category is required")
	}

	rule, err := s.rules.GetByID(ctx, in.RuleID)
	if err != nil {
		return nil, err
	}
	if rule.CompanyID != in.CompanyID {
		return nil, apperrors.NotFound("approval_rule", in.RuleID)
	}
	if !rule.RequiresApproval {
		return nil, apperrors.InvalidInput("rule_id", "rule does not require approval")
	}

	if existing, err := s.requests.FindNonTerminalByReceipt(ctx, in.ReceiptID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrDuplicateApprovalRequest
	}

	req := &repository.ApprovalRequest{
		ReceiptID:   in.ReceiptID,
		SubmitterID: in.SubmitterID,
		CompanyID:   in.CompanyID,
		RuleID:      rule.ID,
		Amount:      in.Amount,
		Category:    in.Category,
		Vendor:      in.Vendor,
		Reason:      in.Reason,
		Status:      repository.StatusPending,
	}

	if err := s.requests.Insert(ctx, req); err != nil {
		// Two concurrent submissions race on the storage-level uniqueness
		// guarantee; exactly one insert wins.
		if apperrors.CodeOf(err) == apperrors.ErrCodeConflict {
			return nil, ErrDuplicateApprovalRequest
		}
		return nil, err
	}

	s.appendAudit(ctx, &repository.AuditEntry{
		CompanyID:    req.CompanyID,
		ActorID:      req.SubmitterID,
		Action:       "submitted",
		ResourceType: "approval_request",
		ResourceID:   req.ID,
		Details: map[string]interface{}{
			"receipt_id": req.ReceiptID,
			"rule_id":    req.RuleID,
			"amount":     req.Amount.String(),
		},
	})

	if rule.Notifications.OnSubmission {
		s.notifier.NotifyApprovers(ctx, req, rule.Approvers)
	}

	if rule.AutoApprove {
		return s.autoApprove(ctx, req)
	}

	s.log.Info().
		Str("request_id", req.ID).
		Str("receipt_id", req.ReceiptID).
		Str("rule_id", req.RuleID).
		Msg("Approval request created")

	return req, nil
}

// autoApprove records the system decision on a freshly created request.
// Auto-approved requests still emit the approval notification for visibility.
func (s *ApprovalService) autoApprove(ctx context.Context, req *repository.ApprovalRequest) (*repository.ApprovalRequest, error) {
	now := time.Now()
	approver := repository.SystemActorID

	updated, err := s.requests.CompareAndSwapStatus(ctx, req.ID, repository.StatusPending, repository.RequestUpdate{
		Status:     repository.StatusApproved,
		ApproverID: &approver,
		DecidedAt:  &now,
	})
	if err != nil {
		return nil, err
	}

	metrics.Decisions.WithLabelValues("auto_approve").Inc()

	s.appendAudit(ctx, &repository.AuditEntry{
		CompanyID:    updated.CompanyID,
		ActorID:      repository.SystemActorID,
		Action:       "auto_approved",
		ResourceType: "approval_request",
		ResourceID:   updated.ID,
		Details:      map[string]interface{}{"receipt_id": updated.ReceiptID},
	})
	s.notifier.NotifySubmitter(ctx, updated, "approved", nil)

	s.log.Info().
		Str("request_id", updated.ID).
		Str("receipt_id", updated.ReceiptID).
		Msg("Approval request auto-approved")

	return updated, nil
}

// ── Act ──────────────────────────────────────────────────────────────────────

// ProcessApprovalAction applies an approver's decision to a live request.
// The actor must be a current-tier approver or an effective delegate of one.
// approve and reject are terminal; request_info appends a comment and leaves
// the request live.
func (s *ApprovalService) ProcessApprovalAction(
	ctx context.Context,
	requestID string,
	actor Principal,
	action Action,
	comments *string,
) (*repository.ApprovalRequest, error) {
	switch action {
	case ActionApprove, ActionReject, ActionRequestInfo:
	default:
		return nil, apperrors.InvalidInput("action", "must be approve, reject or request_info")
	}

	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.CompanyID != actor.CompanyID {
		return nil, apperrors.NotFound("approval_request", requestID)
	}
	if req.IsTerminal() {
		return nil, ErrInvalidStateTransition
	}

	rule, err := s.rules.GetByID(ctx, req.RuleID)
	if err != nil {
		return nil, err
	}

	authorized, err := s.canAct(ctx, rule, req, actor.ID)
	if err != nil {
		return nil, err
	}
	if !authorized {
		// Denied attempts are always audited.
		s.appendAudit(ctx, &repository.AuditEntry{
			CompanyID:    req.CompanyID,
			ActorID:      actor.ID,
			Action:       "approval_denied",
			ResourceType: "approval_request",
			ResourceID:   req.ID,
			Details:      map[string]interface{}{"attempted_action": string(action)},
		})
		return nil, ErrInsufficientApprovalAuthority
	}

	switch action {
	case ActionApprove:
		return s.decide(ctx, req, rule, actor, repository.StatusApproved, comments)
	case ActionReject:
		return s.decide(ctx, req, rule, actor, repository.StatusRejected, comments)
	default:
		return s.requestInfo(ctx, req, actor, comments)
	}
}

// decide records a terminal approve/reject decision via compare-and-swap.
func (s *ApprovalService) decide(
	ctx context.Context,
	req *repository.ApprovalRequest,
	rule *repository.ApprovalRule,
	actor Principal,
	newStatus string,
	comments *string,
) (*repository.ApprovalRequest, error) {
	now := time.Now()

	updated, err := s.requests.CompareAndSwapStatus(ctx, req.ID, req.Status, repository.RequestUpdate{
		Status:     newStatus,
		ApproverID: &actor.ID,
		Comments:   comments,
		DecidedAt:  &now,
	})
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.ErrCodeConflict {
			return nil, ErrInvalidStateTransition
		}
		return nil, err
	}

	var auditAction, notifyAction string
	var fanOut bool
	if newStatus == repository.StatusApproved {
		auditAction, notifyAction = "approved", "approved"
		fanOut = rule.Notifications.OnApproval
	} else {
		auditAction, notifyAction = "rejected", "rejected"
		fanOut = rule.Notifications.OnRejection
	}
	metrics.Decisions.WithLabelValues(auditAction).Inc()

	s.appendAudit(ctx, &repository.AuditEntry{
		CompanyID:    updated.CompanyID,
		ActorID:      actor.ID,
		Action:       auditAction,
		ResourceType: "approval_request",
		ResourceID:   updated.ID,
		Details: map[string]interface{}{
			"receipt_id": updated.ReceiptID,
			"tier":       updated.EscalationTier,
		},
	})

	s.notifier.NotifySubmitter(ctx, updated, notifyAction, comments)
	if fanOut {
		s.notifier.NotifyApprovers(ctx, updated, tierApprovers(rule, updated.EscalationTier))
	}

	s.log.Info().
		Str("request_id", updated.ID).
		Str("receipt_id", updated.ReceiptID).
		Str("status", updated.Status).
		Str("approver_id", actor.ID).
		Msg("Approval request decided")

	return updated, nil
}

// requestInfo appends a comment without changing state. The request stays
// live; this is an informational side-channel, not a transition.
func (s *ApprovalService) requestInfo(
	ctx context.Context,
	req *repository.ApprovalRequest,
	actor Principal,
	comments *string,
) (*repository.ApprovalRequest, error) {
	if comments == nil || *comments == "" {
		return nil, apperrors.InvalidInput("comments", "comments are required for request_info")
	}

	appended := *comments
	if req.Comments != nil && *req.Comments != "" {
		appended = *req.Comments + "\n" + *comments
	}

	updated, err := s.requests.CompareAndSwapStatus(ctx, req.ID, req.Status, repository.RequestUpdate{
		Status:     req.Status,
		ApproverID: req.ApproverID,
		Comments:   &appended,
	})
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.ErrCodeConflict {
			return nil, ErrInvalidStateTransition
		}
		return nil, err
	}

	metrics.Decisions.WithLabelValues("request_info").Inc()

	s.appendAudit(ctx, &repository.AuditEntry{
		CompanyID:    updated.CompanyID,
		ActorID:      actor.ID,
		Action:       "request_info",
		ResourceType: "approval_request",
		ResourceID:   updated.ID,
	})
	s.notifier.NotifySubmitter(ctx, updated, "request_info", comments)

	return updated, nil
}

// ── Escalate ─────────────────────────────────────────────────────────────────

// EscalateApproval advances a live request to the next tier of its rule's
// escalation chain. The trigger is caller-determined (an SLA sweep or an ops
// action); the service does not self-schedule. Fails with NoEscalationPath
// when the chain is absent or exhausted.
func (s *ApprovalService) EscalateApproval(ctx context.Context, requestID string, actor Principal) (*repository.ApprovalRequest, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.CompanyID != actor.CompanyID {
		return nil, apperrors.NotFound("approval_request", requestID)
	}
	if req.IsTerminal() {
		return nil, ErrInvalidStateTransition
	}

	rule, err := s.rules.GetByID(ctx, req.RuleID)
	if err != nil {
		return nil, err
	}

	nextTier := req.EscalationTier + 1
	if len(rule.EscalationChain) == 0 || nextTier > len(rule.EscalationChain) {
		return nil, ErrNoEscalationPath
	}

	now := time.Now()
	updated, err := s.requests.CompareAndSwapStatus(ctx, req.ID, req.Status, repository.RequestUpdate{
		Status:         repository.StatusEscalated,
		ApproverID:     nil, // authority moves to the next tier
		EscalationTier: &nextTier,
		EscalatedAt:    &now,
	})
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.ErrCodeConflict {
			return nil, ErrInvalidStateTransition
		}
		return nil, err
	}

	metrics.Escalations.Inc()

	s.appendAudit(ctx, &repository.AuditEntry{
		CompanyID:    updated.CompanyID,
		ActorID:      actor.ID,
		Action:       "escalated",
		ResourceType: "approval_request",
		ResourceID:   updated.ID,
		Details: map[string]interface{}{
			"receipt_id": updated.ReceiptID,
			"tier":       nextTier,
		},
	})
	s.notifier.NotifyApprovers(ctx, updated, tierApprovers(rule, nextTier))

	s.log.Info().
		Str("request_id", updated.ID).
		Str("receipt_id", updated.ReceiptID).
		Int("tier", nextTier).
		Msg("Approval request escalated")

	return updated, nil
}

// ── Query ────────────────────────────────────────────────────────────────────

// GetPendingApprovalsForUser returns all live requests the user may act on:
// requests whose current tier lists them directly, plus requests of approvers
// who have actively delegated to them, oldest first.
func (s *ApprovalService) GetPendingApprovalsForUser(ctx context.Context, actor Principal) ([]*repository.ApprovalRequest, error) {
	direct, err := s.requests.ListPendingForApprover(ctx, actor.CompanyID, actor.ID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(direct))
	results := make([]*repository.ApprovalRequest, 0, len(direct))
	for _, req := range direct {
		seen[req.ID] = true
		results = append(results, req)
	}

	now := time.Now()
	delegations, err := s.resolver.DelegationsTo(ctx, actor.ID, actor.CompanyID, now)
	if err != nil {
		return nil, err
	}

	for _, d := range delegations {
		delegated, err := s.requests.ListPendingForApprover(ctx, actor.CompanyID, d.DelegatorID)
		if err != nil {
			return nil, err
		}
		for _, req := range delegated {
			if seen[req.ID] {
				continue
			}
			// The delegation must be in scope AND currently win the
			// delegator's resolution (a newer overlapping delegation to
			// someone else takes precedence).
			if !d.Covers(req.Amount, req.Category) {
				continue
			}
			effective, err := s.resolver.ResolveEffectiveApprover(ctx, d.DelegatorID, actor.CompanyID, req.Amount, req.Category, now)
			if err != nil {
				return nil, err
			}
			if effective != actor.ID {
				continue
			}
			seen[req.ID] = true
			results = append(results, req)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})

	return results, nil
}

// GetRequest returns one approval request within the actor's company.
func (s *ApprovalService) GetRequest(ctx context.Context, requestID string, actor Principal) (*repository.ApprovalRequest, error) {
	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.CompanyID != actor.CompanyID {
		return nil, apperrors.NotFound("approval_request", requestID)
	}
	return req, nil
}

// ── Authorization helpers ────────────────────────────────────────────────────

// canAct reports whether userID holds approval authority for the request's
// current tier, directly or through an active delegation.
func (s *ApprovalService) canAct(
	ctx context.Context,
	rule *repository.ApprovalRule,
	req *repository.ApprovalRequest,
	userID string,
) (bool, error) {
	now := time.Now()
	for _, approver := range tierApprovers(rule, req.EscalationTier) {
		if approver == userID {
			return true, nil
		}
		effective, err := s.resolver.ResolveEffectiveApprover(ctx, approver, req.CompanyID, req.Amount, req.Category, now)
		if err != nil {
			return false, err
		}
		if effective == userID {
			return true, nil
		}
	}
	return false, nil
}

// tierApprovers returns who may act at a given escalation tier: the rule's
// approvers at tier 0, the single chain entry at tier k >= 1.
func tierApprovers(rule *repository.ApprovalRule, tier int) []string {
	if tier == 0 {
		return rule.Approvers
	}
	if tier >= 1 && tier <= len(rule.EscalationChain) {
		return []string{rule.EscalationChain[tier-1]}
	}
	return nil
}

// appendAudit writes an audit entry, logging a warning on failure. Audit
// failures never fail the primary operation.
func (s *ApprovalService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogAction(ctx, entry); err != nil {
		metrics.SideEffectFailures.WithLabelValues("audit").Inc()
		s.log.Warn().Err(err).
			Str("resource_id", entry.ResourceID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}
