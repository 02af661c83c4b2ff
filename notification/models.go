package notification

import (
	"errors"
	"time"
)

// Queue and job names owned by the dispatcher.
const (
	QueueName   = "notifications"
	JobDispatch = "notify.dispatch"
)

type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelSMS      Channel = "SMS"
	ChannelWhatsApp Channel = "WHATSAPP"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

// Notification mirrors the notifications row. The recipient is stored masked
// and hashed only; the raw address travels in the job payload and is never
// persisted.
type Notification struct {
	ID                string
	ProposalID        string
	Channel           Channel
	Status            Status
	Template          string
	RecipientMasked   string
	RecipientHash     string
	ProviderMessageID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// DispatchJob is the notify.dispatch payload. The notification row is created
// by the enqueuing workflow; the dispatcher only mutates it.
type DispatchJob struct {
	NotificationID string            `json:"notification_id"`
	Channel        Channel           `json:"channel"`
	Recipient      string            `json:"recipient"`
	Template       string            `json:"template"`
	Data           map[string]string `json:"data,omitempty"`
	OptIn          bool              `json:"opt_in,omitempty"`
	CorrelationID  string            `json:"correlation_id,omitempty"`
}

var ErrNotFound = errors.New("notification: not found")
