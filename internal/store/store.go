// Package store is the durable state shared across dispatcher invocations.
// It is the sole synchronization point between invocations: the engine holds
// no cross-invocation memory of its own.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/embermail/dispatch/internal/model"
)

// ErrAccountNotFound is returned when an account id has no row.
var ErrAccountNotFound = errors.New("sending account not found")

// Store is the collaborator contract consumed by the dispatch engine and the
// tracking consumer.
type Store interface {
	// FetchPending returns up to limit pending messages, oldest enqueued
	// first. Read-only; a failure here aborts the whole invocation.
	FetchPending(ctx context.Context, limit int) ([]*model.QueuedMessage, error)

	// UpdateMessage records an attempt outcome. attemptDelta is added to the
	// attempt counter; sentAt is only written for successful sends.
	UpdateMessage(ctx context.Context, id uuid.UUID, status model.MessageStatus, attemptDelta int, errText string, sentAt *time.Time) error

	// FetchAccountConfig loads throughput counters and transport config.
	FetchAccountConfig(ctx context.Context, accountID uuid.UUID) (*model.SendingAccount, error)

	// IncrementSendCounters charges one attempt against the account's hourly
	// and daily counters.
	IncrementSendCounters(ctx context.Context, accountID uuid.UUID) error

	// ResetHourlyWindow zeroes the hourly counter iff the window has elapsed
	// relative to now. Returns true when a reset happened.
	ResetHourlyWindow(ctx context.Context, accountID uuid.UUID, now time.Time) (bool, error)

	// ResetDailyWindow zeroes the daily counter iff the window has elapsed
	// relative to now. Returns true when a reset happened.
	ResetDailyWindow(ctx context.Context, accountID uuid.UUID, now time.Time) (bool, error)

	// CountPendingForCampaign returns how many messages of the campaign are
	// still pending.
	CountPendingForCampaign(ctx context.Context, campaignID uuid.UUID) (int, error)

	// SetCampaignStatus writes the aggregated campaign status.
	SetCampaignStatus(ctx context.Context, campaignID uuid.UUID, status model.CampaignStatus) error

	// InsertDeliveryEvent appends an open/click/unsubscribe fact.
	InsertDeliveryEvent(ctx context.Context, evt *model.DeliveryEvent) error
}
