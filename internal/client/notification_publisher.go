package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NotificationPublisher publishes approval workflow events to NATS for
// consumption by the platform notifications service.
//
// Subject convention: notifications.ppm.<event_type>
// Event types: change_order_submitted, approval_required,
// change_order_approved, change_order_rejected, approval_delegated
//
// Publish failures are logged and never propagated, so notification
// problems cannot interrupt approval operations.
type NotificationPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	ProjectID    string         `json:"project_id"`
	ActorID      string         `json:"actor_id"`
	Recipients   []string       `json:"recipients"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Category     string         `json:"category,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher over an existing NATS
// connection. A nil connection disables publishing.
func NewNotificationPublisher(conn *nats.Conn, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{conn: conn, log: log}
}

// PublishApprovalEvent publishes a change order approval event.
// Subject: notifications.ppm.<eventType>
func (p *NotificationPublisher) PublishApprovalEvent(ctx context.Context, eventType, changeOrderID, projectID, actorID string, recipients []string, payload map[string]any) {
	if p == nil || p.conn == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	event := &NotificationEvent{
		EventType:    eventType,
		ProjectID:    projectID,
		ActorID:      actorID,
		Recipients:   recipients,
		ResourceType: "change_order",
		ResourceID:   changeOrderID,
		Severity:     "info",
		Category:     "change_approval",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.ppm.%s", eventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("change_order_id", changeOrderID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("change_order_id", changeOrderID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}
