// Package metrics exposes Prometheus instrumentation for the approval workflow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RuleEvaluations counts rule engine evaluations by outcome
	// (no_match, auto_approve, requires_approval).
	RuleEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "approvals",
		Name:      "rule_evaluations_total",
		Help:      "Approval rule evaluations by outcome.",
	}, []string{"outcome"})

	// Decisions counts terminal and informational approval actions.
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "approvals",
		Name:      "decisions_total",
		Help:      "Approval request actions by type.",
	}, []string{"action"})

	// Escalations counts successful escalations.
	Escalations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "approvals",
		Name:      "escalations_total",
		Help:      "Approval requests escalated to the next tier.",
	})

	// SideEffectFailures counts swallowed notification/audit failures.
	SideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "approvals",
		Name:      "side_effect_failures_total",
		Help:      "Notification and audit side effects that failed (logged, not propagated).",
	}, []string{"sink"})

	// HTTPRequests counts handled HTTP requests by route and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "approvals",
		Name:      "http_requests_total",
		Help:      "HTTP requests by path and status.",
	}, []string{"path", "status"})
)
