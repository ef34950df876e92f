package service

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/receiptly/be-approvals/internal/apperrors"
	"github.com/receiptly/be-approvals/internal/repository"
)

// RuleService manages a company's approval rule configuration.
type RuleService struct {
	rules RuleAdminStore
	audit AuditSink
	log   zerolog.Logger
}

// NewRuleService creates a new RuleService.
func NewRuleService(rules RuleAdminStore, audit AuditSink, log zerolog.Logger) *RuleService {
	return &RuleService{rules: rules, audit: audit, log: log}
}

// RuleInput carries the configurable fields of an approval rule.
type RuleInput struct {
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
	Notifications     repository.NotificationConfig
}

func validateRuleInput(in RuleInput) error {
	if in.Name == "" {
		return apperrors.InvalidInput("name", "rule name is required")
	}
	if in.Priority < 0 {
		return apperrors.InvalidInput("priority", "priority cannot be negative")
	}
	if in.AmountThreshold != nil && !in.AmountThreshold.IsPositive() {
		return apperrors.InvalidInput("amount_threshold", "amount threshold must be positive")
	}
	// Auto-approval is a recorded approval outcome, not a bypass: it only
	// makes sense on a rule that requires approval in the first place.
	if in.AutoApprove && !in.RequiresApproval {
		return apperrors.InvalidInput("auto_approve", "auto_approve requires requires_approval")
	}
	if in.RequiresApproval && !in.AutoApprove && len(in.Approvers) == 0 {
		return apperrors.InvalidInput("approvers", "at least one approver is required")
	}
	return nil
}

// CreateRule creates an approval rule in the actor's company.
func (s *RuleService) CreateRule(ctx context.Context, actor Principal, in RuleInput) (*repository.ApprovalRule, error) {
	if err := validateRuleInput(in); err != nil {
		return nil, err
	}

	rule := &repository.ApprovalRule{
		CompanyID:         actor.CompanyID,
		Name:              in.Name,
		Description:       in.Description,
		IsActive:          in.IsActive,
		Priority:          in.Priority,
		AmountThreshold:   in.AmountThreshold,
		Categories:        in.Categories,
		Vendors:           in.Vendors,
		TimeWindowMinutes: in.TimeWindowMinutes,
		UserRoles:         in.UserRoles,
		RequiresApproval:  in.RequiresApproval,
		AutoApprove:       in.AutoApprove,
		Approvers:         in.Approvers,
		EscalationChain:   in.EscalationChain,
		Notifications:     in.Notifications,
	}

	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, err
	}

	s.auditRuleChange(ctx, actor, "rule_created", rule.ID)

	s.log.Info().
		Str("rule_id", rule.ID).
		Str("company_id", rule.CompanyID).
		Str("name", rule.Name).
		Int("priority", rule.Priority).
		Msg("Approval rule created")

	return rule, nil
}

// UpdateRule replaces the configurable fields of an existing rule.
func (s *RuleService) UpdateRule(ctx context.Context, actor Principal, ruleID string, in RuleInput) (*repository.ApprovalRule, error) {
	if err := validateRuleInput(in); err != nil {
		return nil, err
	}

	rule, err := s.rules.GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if rule.CompanyID != actor.CompanyID {
		return nil, apperrors.NotFound("approval_rule", ruleID)
	}

	rule.Name = in.Name
	rule.Description = in.Description
	rule.IsActive = in.IsActive
	rule.Priority = in.Priority
	rule.AmountThreshold = in.AmountThreshold
	rule.Categories = in.Categories
	rule.Vendors = in.Vendors
	rule.TimeWindowMinutes = in.TimeWindowMinutes
	rule.UserRoles = in.UserRoles
	rule.RequiresApproval = in.RequiresApproval
	rule.AutoApprove = in.AutoApprove
	rule.Approvers = in.Approvers
	rule.EscalationChain = in.EscalationChain
	rule.Notifications = in.Notifications

	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, err
	}

	s.auditRuleChange(ctx, actor, "rule_updated", rule.ID)
	return rule, nil
}

// GetRule returns one rule within the actor's company.
func (s *RuleService) GetRule(ctx context.Context, actor Principal, ruleID string) (*repository.ApprovalRule, error) {
	rule, err := s.rules.GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if rule.CompanyID != actor.CompanyID {
		return nil, apperrors.NotFound("approval_rule", ruleID)
	}
	return rule, nil
}

// ListRules returns the actor's company rules in evaluation order.
func (s *RuleService) ListRules(ctx context.Context, actor Principal, activeOnly bool) ([]*repository.ApprovalRule, error) {
	return s.rules.List(ctx, actor.CompanyID, activeOnly)
}

// DeactivateRule soft-deletes a rule. Existing requests keep referencing it;
// it simply stops matching new submissions.
func (s *RuleService) DeactivateRule(ctx context.Context, actor Principal, ruleID string) error {
	if err := s.rules.Deactivate(ctx, ruleID, actor.CompanyID); err != nil {
		return err
	}
	s.auditRuleChange(ctx, actor, "rule_deactivated", ruleID)
	return nil
}

func (s *RuleService) auditRuleChange(ctx context.Context, actor Principal, action, ruleID string) {
	if s.audit == nil {
		return
	}
	err := s.audit.LogAction(ctx, &repository.AuditEntry{
		CompanyID:    actor.CompanyID,
		ActorID:      actor.ID,
		Action:       action,
		ResourceType: "approval_rule",
		ResourceID:   ruleID,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("rule_id", ruleID).Msg("Failed to audit rule change")
	}
}
