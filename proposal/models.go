package proposal

import (
	"errors"
	"time"
)

// Status is the proposal state machine. Transitions are validated against
// transitions below and recorded in an append-only history.
type Status string

const (
	StatusSubmitted   Status = "SUBMITTED"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusPendingDocs Status = "PENDING_DOCS"
	// StatusSigned means the contract envelope completed at the signing
	// provider; the proposal still awaits ERP confirmation.
	StatusSigned Status = "SIGNED"
	// StatusApproved is terminal: the member exists in the ERP.
	StatusApproved Status = "APPROVED"
)

var transitions = map[Status][]Status{
	StatusSubmitted:   {StatusUnderReview, StatusPendingDocs},
	StatusUnderReview: {StatusPendingDocs, StatusSigned, StatusApproved},
	StatusPendingDocs: {StatusUnderReview},
	StatusSigned:      {StatusApproved},
	StatusApproved:    {},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Proposal mirrors the proposals row.
type Proposal struct {
	ID        string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity is the encrypted identity sub-record. Fields stay sealed until a
// workflow decrypts them on demand.
type Identity struct {
	ProposalID string
	NameEnc    []byte
	CPFEnc     []byte
	CPFHash    string
	BirthEnc   []byte
	EmailEnc   []byte
	PhoneEnc   []byte
	Roles      []string
}

// Person is a decrypted identity. It lives only on the stack of the workflow
// that needed it.
type Person struct {
	Name      string
	CPF       string
	BirthDate string
	Email     string
	Phone     string
	Roles     []string
}

// HistoryEntry is one append-only status transition record.
type HistoryEntry struct {
	ID         int64
	ProposalID string
	FromStatus Status
	ToStatus   Status
	Reason     string
	CreatedAt  time.Time
}

var (
	// ErrNotFound is returned when no proposal row exists for the id.
	ErrNotFound = errors.New("proposal: not found")
	// ErrIdentityNotFound is returned when the identity sub-record is missing.
	ErrIdentityNotFound = errors.New("proposal: identity not found")
	// ErrInvalidTransition signals a transition outside the state machine.
	ErrInvalidTransition = errors.New("proposal: invalid status transition")
)
