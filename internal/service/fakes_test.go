package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/receiptly/be-approvals/internal/apperrors"
	"github.com/receiptly/be-approvals/internal/repository"
)

// In-memory store fakes mirroring the postgres repositories' contracts.

type fakeRuleStore struct {
	companies map[string]bool
	rules     map[string]*repository.ApprovalRule
	seq       int
}

func newFakeRuleStore(companyIDs ...string) *fakeRuleStore {
	companies := make(map[string]bool, len(companyIDs))
	for _, id := range companyIDs {
		companies[id] = true
	}
	return &fakeRuleStore{
		companies: companies,
		rules:     make(map[string]*repository.ApprovalRule),
	}
}

func (s *fakeRuleStore) nextID() string {
	s.seq++
	return fmt.Sprintf("rule-%d", s.seq)
}

func (s *fakeRuleStore) Create(ctx context.Context, rule *repository.ApprovalRule) error {
	if rule.ID == "" {
		rule.ID = s.nextID()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}
	copied := *rule
	s.rules[rule.ID] = &copied
	return nil
}

func (s *fakeRuleStore) GetByID(ctx context.Context, id string) (*repository.ApprovalRule, error) {
	rule, ok := s.rules[id]
	if !ok {
		return nil, apperrors.NotFound("approval_rule", id)
	}
	copied := *rule
	return &copied, nil
}

func (s *fakeRuleStore) ListActiveRules(ctx context.Context, companyID string) ([]*repository.ApprovalRule, error) {
	if !s.companies[companyID] {
		return nil, apperrors.NotFound("company", companyID)
	}
	return s.list(companyID, true), nil
}

func (s *fakeRuleStore) List(ctx context.Context, companyID string, activeOnly bool) ([]*repository.ApprovalRule, error) {
	return s.list(companyID, activeOnly), nil
}

func (s *fakeRuleStore) list(companyID string, activeOnly bool) []*repository.ApprovalRule {
	var out []*repository.ApprovalRule
	for _, rule := range s.rules {
		if rule.CompanyID != companyID {
			continue
		}
		if activeOnly && !rule.IsActive {
			continue
		}
		copied := *rule
		out = append(out, &copied)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *fakeRuleStore) Update(ctx context.Context, rule *repository.ApprovalRule) error {
	if _, ok := s.rules[rule.ID]; !ok {
		return apperrors.NotFound("approval_rule", rule.ID)
	}
	copied := *rule
	s.rules[rule.ID] = &copied
	return nil
}

func (s *fakeRuleStore) Deactivate(ctx context.Context, id, companyID string) error {
	rule, ok := s.rules[id]
	if !ok || rule.CompanyID != companyID {
		return apperrors.NotFound("approval_rule", id)
	}
	rule.IsActive = false
	return nil
}

type fakeRequestStore struct {
	rules    *fakeRuleStore
	requests map[string]*repository.ApprovalRequest
	seq      int
	clock    time.Time
}

func newFakeRequestStore(rules *fakeRuleStore) *fakeRequestStore {
	return &fakeRequestStore{
		rules:    rules,
		requests: make(map[string]*repository.ApprovalRequest),
		clock:    time.Now(),
	}
}

func (s *fakeRequestStore) Insert(ctx context.Context, req *repository.ApprovalRequest) error {
	for _, existing := range s.requests {
		if existing.ReceiptID == req.ReceiptID && !existing.IsTerminal() {
			return apperrors.New(apperrors.ErrCodeConflict, "an active approval request already exists for this receipt")
		}
	}
	s.seq++
	req.ID = fmt.Sprintf("req-%d", s.seq)
	if req.CreatedAt.IsZero() {
		// Strictly increasing timestamps so ordering assertions are stable.
		s.clock = s.clock.Add(time.Millisecond)
		req.CreatedAt = s.clock
	}
	copied := *req
	s.requests[req.ID] = &copied
	return nil
}

func (s *fakeRequestStore) GetByID(ctx context.Context, id string) (*repository.ApprovalRequest, error) {
	req, ok := s.requests[id]
	if !ok {
		return nil, apperrors.NotFound("approval_request", id)
	}
	copied := *req
	return &copied, nil
}

func (s *fakeRequestStore) FindNonTerminalByReceipt(ctx context.Context, receiptID string) (*repository.ApprovalRequest, error) {
	for _, req := range s.requests {
		if req.ReceiptID == receiptID && !req.IsTerminal() {
			copied := *req
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *fakeRequestStore) CompareAndSwapStatus(ctx context.Context, id, expectedStatus string, update repository.RequestUpdate) (*repository.ApprovalRequest, error) {
	req, ok := s.requests[id]
	if !ok {
		return nil, apperrors.NotFound("approval_request", id)
	}
	if req.Status != expectedStatus {
		return nil, apperrors.New(apperrors.ErrCodeConflict, "approval request status changed concurrently")
	}
	req.Status = update.Status
	req.ApproverID = update.ApproverID
	if update.Comments != nil {
		req.Comments = update.Comments
	}
	if update.EscalationTier != nil {
		req.EscalationTier = *update.EscalationTier
	}
	if update.DecidedAt != nil {
		req.DecidedAt = update.DecidedAt
	}
	if update.EscalatedAt != nil {
		req.EscalatedAt = update.EscalatedAt
	}
	req.UpdatedAt = time.Now()
	copied := *req
	return &copied, nil
}

func (s *fakeRequestStore) ListPendingForApprover(ctx context.Context, companyID, userID string) ([]*repository.ApprovalRequest, error) {
	var out []*repository.ApprovalRequest
	for _, req := range s.requests {
		if req.CompanyID != companyID || req.IsTerminal() {
			continue
		}
		rule, ok := s.rules.rules[req.RuleID]
		if !ok {
			continue
		}
		for _, approver := range tierApprovers(rule, req.EscalationTier) {
			if approver == userID {
				copied := *req
				out = append(out, &copied)
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

type fakeDelegationStore struct {
	delegations []*repository.ApprovalDelegation
	seq         int
}

func (s *fakeDelegationStore) Create(ctx context.Context, d *repository.ApprovalDelegation) error {
	s.seq++
	d.ID = fmt.Sprintf("del-%d", s.seq)
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	copied := *d
	s.delegations = append(s.delegations, &copied)
	return nil
}

func (s *fakeDelegationStore) ListActiveDelegations(ctx context.Context, delegatorID, companyID string, at time.Time) ([]*repository.ApprovalDelegation, error) {
	var out []*repository.ApprovalDelegation
	for _, d := range s.delegations {
		if d.DelegatorID == delegatorID && d.CompanyID == companyID && d.ActiveAt(at) {
			copied := *d
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeDelegationStore) ListActiveForDelegate(ctx context.Context, delegateID, companyID string, at time.Time) ([]*repository.ApprovalDelegation, error) {
	var out []*repository.ApprovalDelegation
	for _, d := range s.delegations {
		if d.DelegateToID == delegateID && d.CompanyID == companyID && d.ActiveAt(at) {
			copied := *d
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeDelegationStore) ListHistory(ctx context.Context, delegatorID, companyID string) ([]*repository.ApprovalDelegation, error) {
	var out []*repository.ApprovalDelegation
	for _, d := range s.delegations {
		if d.DelegatorID == delegatorID && d.CompanyID == companyID {
			copied := *d
			out = append(out, &copied)
		}
	}
	return out, nil
}

type notifiedSubmitter struct {
	RequestID string
	Action    string
}

type notifiedApprovers struct {
	RequestID string
	Approvers []string
}

type fakeNotifier struct {
	submitter   []notifiedSubmitter
	approvers   []notifiedApprovers
	delegations []*repository.ApprovalDelegation
}

func (n *fakeNotifier) NotifySubmitter(ctx context.Context, req *repository.ApprovalRequest, action string, comments *string) {
	n.submitter = append(n.submitter, notifiedSubmitter{RequestID: req.ID, Action: action})
}

func (n *fakeNotifier) NotifyApprovers(ctx context.Context, req *repository.ApprovalRequest, approverIDs []string) {
	n.approvers = append(n.approvers, notifiedApprovers{RequestID: req.ID, Approvers: approverIDs})
}

func (n *fakeNotifier) NotifyDelegation(ctx context.Context, d *repository.ApprovalDelegation) {
	n.delegations = append(n.delegations, d)
}

type fakeAudit struct {
	entries []*repository.AuditEntry
	fail    bool
}

func (a *fakeAudit) LogAction(ctx context.Context, entry *repository.AuditEntry) error {
	if a.fail {
		return fmt.Errorf("audit store unavailable")
	}
	a.entries = append(a.entries, entry)
	return nil
}

func (a *fakeAudit) actions() []string {
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

var _ RuleAdminStore = (*fakeRuleStore)(nil)
var _ RequestStore = (*fakeRequestStore)(nil)
var _ DelegationAdminStore = (*fakeDelegationStore)(nil)
var _ NotificationSink = (*fakeNotifier)(nil)
var _ AuditSink = (*fakeAudit)(nil)
