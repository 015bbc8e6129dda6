package model

import (
	"time"

	"github.com/google/uuid"
)

// EventKind enumerates recipient-side interactions with a sent message.
type EventKind string

const (
	EventSent         EventKind = "sent"
	EventDelivered    EventKind = "delivered"
	EventOpened       EventKind = "opened"
	EventClicked      EventKind = "clicked"
	EventBounced      EventKind = "bounced"
	EventUnsubscribed EventKind = "unsubscribed"
)

// Valid reports whether k is one of the known event kinds.
func (k EventKind) Valid() bool {
	switch k {
	case EventSent, EventDelivered, EventOpened, EventClicked, EventBounced, EventUnsubscribed:
		return true
	}
	return false
}

// EngagementEvent is an append-only record; rows are never updated or
// deleted by the engine.
type EngagementEvent struct {
	ID           int64     `db:"id" json:"id"`
	CampaignID   uuid.UUID `db:"campaign_id" json:"campaign_id"`
	SubscriberID uuid.UUID `db:"subscriber_id" json:"subscriber_id"`
	Kind         EventKind `db:"kind" json:"kind"`
	EventTime    time.Time `db:"event_time" json:"event_time"`
	IPAddress    string    `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent    string    `db:"user_agent" json:"user_agent,omitempty"`
	ClickedURL   string    `db:"clicked_url" json:"clicked_url,omitempty"`
}
