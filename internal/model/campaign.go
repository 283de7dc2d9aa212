package model

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus is the aggregate state rolled up from message outcomes.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignQueued    CampaignStatus = "queued"
	CampaignSending   CampaignStatus = "sending"
	CampaignCompleted CampaignStatus = "completed"
)

// Campaign aggregates queued messages. status == completed iff zero of its
// messages remain pending.
type Campaign struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Name      string
	Status    CampaignStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}
