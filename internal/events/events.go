package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AdminChannel is the redis pubsub channel the admin dashboard feed
// subscribes to.
const AdminChannel = "channel-admin-invitations"

// EventType tags every message on the admin feed
type EventType string

const (
	// Server -> Client: feed connection established
	EventTypeSuccess EventType = "success"
	// Server -> Client: something went wrong on the feed
	EventTypeError EventType = "error"
	// Client -> Server: keep-alive
	EventTypePing EventType = "ping"
	// Server -> Client: keep-alive reply
	EventTypePong EventType = "pong"

	EventTypeInvitationCreated  EventType = "invitation_created"
	EventTypeInvitationRenewed  EventType = "invitation_renewed"
	EventTypeInvitationResent   EventType = "invitation_resent"
	EventTypeInvitationAccepted EventType = "invitation_accepted"
	EventTypeInvitationRevoked  EventType = "invitation_revoked"
	EventTypeProfileActivated   EventType = "profile_activated"
)

// Event is the envelope published on the admin feed. Payload is left as
// raw JSON until the type is known.
type Event struct {
	Type       EventType       `json:"type" validate:"required"`
	RawPayload json.RawMessage `json:"payload,omitempty"`
}

// InvitationPayload describes the invitation a lifecycle event refers to.
type InvitationPayload struct {
	InvitationID string    `json:"invitation_id"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	Status       string    `json:"status"`
	At           time.Time `json:"at"`
}

type SuccessPayload struct {
	Message string `json:"message"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// New builds an event envelope with a marshaled payload.
func New(eventType EventType, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshaling event payload: %w", err)
	}
	return Event{Type: eventType, RawPayload: raw}, nil
}

// Parse decodes a feed message back into its envelope.
func Parse(data []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, fmt.Errorf("parsing event: %w", err)
	}
	if evt.Type == "" {
		return Event{}, fmt.Errorf("event is missing a type")
	}
	return evt, nil
}

// Publisher fans lifecycle events out over redis. A nil Publisher is a
// no-op so the lifecycle manager can run without redis in tests.
type Publisher struct {
	redis *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{redis: client}
}

func (p *Publisher) Publish(ctx context.Context, eventType EventType, payload InvitationPayload) error {
	if p == nil || p.redis == nil {
		return nil
	}

	evt, err := New(eventType, payload)
	if err != nil {
		return err
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	return p.redis.Publish(ctx, AdminChannel, data).Err()
}
