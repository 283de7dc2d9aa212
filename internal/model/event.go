package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType distinguishes recorded delivery events.
type EventType string

const (
	EventOpen        EventType = "opened"
	EventClick       EventType = "clicked"
	EventUnsubscribe EventType = "unsubscribed"
)

// DeliveryEvent is an append-only fact recorded by the tracking collectors.
// Never updated or deleted.
type DeliveryEvent struct {
	ID         uuid.UUID
	MessageID  uuid.UUID
	CampaignID uuid.UUID
	AccountID  uuid.UUID
	Type       EventType
	LinkURL    string
	IPAddress  string
	UserAgent  string
	OccurredAt time.Time
}
