package model

import (
	"time"

	"github.com/google/uuid"
)

// MessageStatus is the lifecycle state of a queued message. The dispatch
// engine only ever moves a message pending -> sent or pending -> failed;
// terminal states are never retried automatically.
type MessageStatus string

const (
	StatusPending MessageStatus = "pending"
	StatusSent    MessageStatus = "sent"
	StatusFailed  MessageStatus = "failed"
)

// QueuedMessage is one outbound email instance, created in bulk when a
// campaign is queued and mutated only by the dispatch engine.
type QueuedMessage struct {
	ID         uuid.UUID
	AccountID  uuid.UUID
	CampaignID uuid.UUID
	ContactID  uuid.UUID
	FromName   string
	FromEmail  string
	ToEmail    string
	Subject    string
	HTMLBody   string
	Status     MessageStatus
	Attempts   int
	LastError  string
	EnqueuedAt time.Time
	SentAt     *time.Time
}
