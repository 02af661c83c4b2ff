package erpsync

import (
	"errors"
	"time"
)

// Queue and job names owned by the ERP sync workflow.
const (
	QueueName = "totvs"
	JobSync   = "totvs.sync"
)

type RecordStatus string

const (
	RecordPending RecordStatus = "PENDING"
	// RecordSynced is terminal: every later sync attempt short-circuits.
	RecordSynced RecordStatus = "SYNCED"
	RecordFailed RecordStatus = "FAILED"
)

// Record mirrors the external_sync_records row, one per proposal.
type Record struct {
	ProposalID  string
	Status      RecordStatus
	ExternalID  string
	LastSyncAt  time.Time
	Diagnostics map[string]string
	UpdatedAt   time.Time
}

// SyncJob is the totvs.sync payload.
type SyncJob struct {
	ProposalID    string `json:"proposal_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

var ErrRecordNotFound = errors.New("erpsync: record not found")
