package service

import (
	"context"
	"slices"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/receiptly/be-approvals/internal/apperrors"
	"github.com/receiptly/be-approvals/internal/metrics"
	"github.com/receiptly/be-approvals/internal/repository"
)

// Submission is a candidate receipt submission to evaluate against a
// company's rule set.
type Submission struct {
	Amount        decimal.Decimal
	Category      string
	Vendor        *string
	SubmitterRole string
}

// Requirement is the rule engine's decision for a submission. When
// RequiresApproval is true, Rule is the single governing rule.
type Requirement struct {
	RequiresApproval bool
	Rule             *repository.ApprovalRule
}

// RuleEngine evaluates submissions against a company's ordered rule set.
// It holds no state between calls; rules are fetched fresh on every
// evaluation so the result is a pure function of the stored rule set.
type RuleEngine struct {
	rules RuleStore
	log   zerolog.Logger
}

// NewRuleEngine creates a new RuleEngine.
func NewRuleEngine(rules RuleStore, log zerolog.Logger) *RuleEngine {
	return &RuleEngine{rules: rules, log: log}
}

// Evaluate decides whether the submission requires approval and, if so,
// selects the governing rule: active rules are checked in ascending priority
// order and the first full match wins. No match, or a match on a rule with
// requires_approval=false, means no approval is needed.
func (e *RuleEngine) Evaluate(ctx context.Context, companyID string, sub Submission) (*Requirement, error) {
	if companyID == "" {
		return nil, apperrors.InvalidInput("company_id", "company id is required")
	}
	if !sub.Amount.IsPositive() {
		return nil, apperrors.InvalidInput("amount", "amount must be positive")
	}
	if sub.Category == "" {
		return nil, apperrors.InvalidInput("category", "category is required")
	}

	rules, err := e.rules.ListActiveRules(ctx, companyID)
	if err != nil {
		return nil, err
	}

	// The store returns rules in priority order already; re-sorting keeps the
	// selection correct for any conforming store.
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})

	var matched *repository.ApprovalRule
	for _, rule := range rules {
		if ruleMatches(rule, sub) {
			matched = rule
			break
		}
	}

	if matched == nil || !matched.RequiresApproval {
		metrics.RuleEvaluations.WithLabelValues("no_match").Inc()
		return &Requirement{RequiresApproval: false}, nil
	}

	outcome := "requires_approval"
	if matched.AutoApprove {
		outcome = "auto_approve"
	}
	metrics.RuleEvaluations.WithLabelValues(outcome).Inc()

	e.log.Debug().
		Str("company_id", companyID).
		Str("rule_id", matched.ID).
		Str("rule_name", matched.Name).
		Int("priority", matched.Priority).
		Msg("Approval rule matched")

	return &Requirement{RequiresApproval: true, Rule: matched}, nil
}

// ruleMatches reports whether every configured condition on the rule admits
// the submission. Empty condition sets match anything; set conditions are
// AND-ed together.
func ruleMatches(rule *repository.ApprovalRule, sub Submission) bool {
	if rule.AmountThreshold != nil && sub.Amount.LessThan(*rule.AmountThreshold) {
		return false
	}
	if len(rule.Categories) > 0 && !slices.Contains(rule.Categories, sub.Category) {
		return false
	}
	if len(rule.Vendors) > 0 {
		if sub.Vendor == nil || !slices.Contains(rule.Vendors, *sub.Vendor) {
			return false
		}
	}
	if len(rule.UserRoles) > 0 && !slices.Contains(rule.UserRoles, sub.SubmitterRole) {
		return false
	}
	return true
}
