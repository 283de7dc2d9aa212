package tracking

import (
	"context"
	"time"

	"github.com/embermail/dispatch/internal/model"
)

// Event is the wire form of an engagement fact, published by the collector
// and consumed by the queue worker.
type Event struct {
	EventType  model.EventType `json:"event_type"`
	AccountID  string          `json:"account_id"`
	CampaignID string          `json:"campaign_id"`
	MessageID  string          `json:"message_id"`
	LinkURL    string          `json:"link_url,omitempty"`
	IPAddress  string          `json:"ip_address"`
	UserAgent  string          `json:"user_agent"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Sink receives collected events. The SQS publisher is the production sink;
// tests swap in a recorder.
type Sink interface {
	Publish(ctx context.Context, evt Event)
}
