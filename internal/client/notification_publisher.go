// Package client holds outbound adapters for external collaborators.
package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/receiptly/be-approvals/internal/metrics"
	"github.com/receiptly/be-approvals/internal/repository"
	"github.com/receiptly/be-approvals/internal/service"
)

// NotificationPublisher publishes approval workflow events to NATS for
// consumption by the notifications service.
//
// Subject convention: notifications.approvals.<event_type>
// Event types: approval_required, approval_approved, approval_rejected,
//              approval_request_info, delegation_created
//
// All publish operations are non-fatal: errors are logged but never
// propagated to the caller, so notification failures never interrupt
// approval operations. A nil connection disables publishing (log-only mode).
type NotificationPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

var _ service.NotificationSink = (*NotificationPublisher)(nil)

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string                 `json:"event_type"`
	CompanyID    string                 `json:"company_id"`
	ActorID      string                 `json:"actor_id,omitempty"`
	Recipients   []string               `json:"recipients"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// connection. conn may be nil to disable publishing.
func NewNotificationPublisher(conn *nats.Conn, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{conn: conn, log: log}
}

// NotifySubmitter informs a request's submitter about an action taken on it.
func (p *NotificationPublisher) NotifySubmitter(ctx context.Context, req *repository.ApprovalRequest, action string, comments *string) {
	payload := map[string]interface{}{
		"receipt_id": req.ReceiptID,
		"amount":     req.Amount.String(),
		"category":   req.Category,
	}
	if comments != nil {
		payload["comments"] = *comments
	}

	p.publish(&NotificationEvent{
		EventType:    "approval_" + action,
		CompanyID:    req.CompanyID,
		Recipients:   []string{req.SubmitterID},
		ResourceType: "approval_request",
		ResourceID:   req.ID,
		Payload:      payload,
	})
}

// NotifyApprovers informs the current approver tier that a request awaits them.
func (p *NotificationPublisher) NotifyApprovers(ctx context.Context, req *repository.ApprovalRequest, approverIDs []string) {
	p.publish(&NotificationEvent{
		EventType:    "approval_required",
		CompanyID:    req.CompanyID,
		ActorID:      req.SubmitterID,
		Recipients:   approverIDs,
		ResourceType: "approval_request",
		ResourceID:   req.ID,
		Payload: map[string]interface{}{
			"receipt_id": req.ReceiptID,
			"amount":     req.Amount.String(),
			"category":   req.Category,
			"tier":       req.EscalationTier,
		},
	})
}

// NotifyDelegation informs a delegate that approval authority was granted to them.
func (p *NotificationPublisher) NotifyDelegation(ctx context.Context, d *repository.ApprovalDelegation) {
	p.publish(&NotificationEvent{
		EventType:    "delegation_created",
		CompanyID:    d.CompanyID,
		ActorID:      d.DelegatorID,
		Recipients:   []string{d.DelegateToID},
		ResourceType: "approval_delegation",
		ResourceID:   d.ID,
		Payload: map[string]interface{}{
			"start_date": d.StartDate,
			"end_date":   d.EndDate,
			"reason":     d.Reason,
		},
	})
}

// publish marshals and sends one event. Failures are logged and counted.
func (p *NotificationPublisher) publish(event *NotificationEvent) {
	if p.conn == nil {
		p.log.Debug().Str("event_type", event.EventType).Msg("notification: NATS disabled, event dropped")
		return
	}
	if len(event.Recipients) == 0 {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		metrics.SideEffectFailures.WithLabelValues("notification").Inc()
		p.log.Warn().Err(err).Str("event_type", event.EventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.approvals.%s", event.EventType)
	if err := p.conn.Publish(subject, data); err != nil {
		metrics.SideEffectFailures.WithLabelValues("notification").Inc()
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("resource_id", event.ResourceID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("resource_id", event.ResourceID).
		Int("recipients", len(event.Recipients)).
		Msg("notification: event published")
}
