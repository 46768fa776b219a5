// Package events publishes domain events (mapping transitions,
// contributions, composed encounters) to interested consumers.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types.
const (
	MappingProposed       = "mapping.proposed"
	MappingSubmitted      = "mapping.submitted"
	MappingEscalated      = "mapping.escalated"
	MappingAccepted       = "mapping.accepted"
	MappingRejected       = "mapping.rejected"
	MappingSuperseded     = "mapping.superseded"
	ContributionSubmitted = "contribution.submitted"
	ContributionReviewed  = "contribution.reviewed"
	EncounterComposed     = "encounter.composed"
	CatalogPublished      = "catalog.published"
)

// Event is a domain event.
type Event struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurredAt"`
	Actor      string      `json:"actor,omitempty"`
	Data       interface{} `json:"data"`
}

// New stamps an event with a fresh id and the current time.
func New(eventType, actor string, data interface{}) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Actor:      actor,
		Data:       data,
	}
}

// Publisher hands events off for delivery. Publish must not block on the
// transport.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// LogPublisher writes events to the log only.
type LogPublisher struct {
	log zerolog.Logger
}

// NewLogPublisher creates a publisher that only logs events.
func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, evt Event) {
	p.log.Info().
		Str("event_id", evt.ID).
		Str("event_type", evt.Type).
		Str("actor", evt.Actor).
		Msg("domain event")
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) {}
