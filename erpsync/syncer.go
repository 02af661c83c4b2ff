package erpsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/felipebianchini2006/sistemacadastro-sub001/document"
	"github.com/felipebianchini2006/sistemacadastro-sub001/notification"
	"github.com/felipebianchini2006/sistemacadastro-sub001/pii"
	"github.com/felipebianchini2006/sistemacadastro-sub001/proposal"
	"github.com/felipebianchini2006/sistemacadastro-sub001/queue"
)

// successStatuses is the named allowlist: a 409 means the member already
// exists in the ERP, which the idempotency contract treats as success.
var successStatuses = map[int]bool{
	http.StatusConflict: true,
}

func isSuccess(status int) bool {
	return (status >= 200 && status < 300) || successStatuses[status]
}

// Notifier is the slice of the notification service the syncer needs.
type Notifier interface {
	Send(ctx context.Context, req notification.Request) (notification.Notification, error)
}

// Syncer consumes totvs.sync jobs: an idempotent upsert of the approved
// member into the ERP, with the SYNCED terminal state short-circuiting
// replays.
type Syncer struct {
	proposals proposal.Repository
	documents document.Repository
	records   RecordRepository
	client    Client
	notifier  Notifier
	codec     *pii.Codec
	log       *zap.Logger
}

func NewSyncer(
	proposals proposal.Repository,
	documents document.Repository,
	records RecordRepository,
	client Client,
	notifier Notifier,
	codec *pii.Codec,
	log *zap.Logger,
) *Syncer {
	return &Syncer{
		proposals: proposals,
		documents: documents,
		records:   records,
		client:    client,
		notifier:  notifier,
		codec:     codec,
		log:       log,
	}
}

// Handle is the queue handler for totvs.sync.
func (s *Syncer) Handle(ctx context.Context, job queue.Job) error {
	var payload SyncJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Unrecoverable(fmt.Errorf("erpsync: decode sync payload: %w", err))
	}
	return s.Sync(ctx, payload)
}

// Sync runs the full workflow for one proposal.
func (s *Syncer) Sync(ctx context.Context, job SyncJob) error {
	log := s.log.With(
		zap.String("proposal_id", job.ProposalID),
		zap.String("correlation_id", job.CorrelationID),
	)
	log.Info("erp sync started")

	prop, err := s.proposals.Get(ctx, job.ProposalID)
	if err != nil {
		if errors.Is(err, proposal.ErrNotFound) {
			log.Warn("proposal missing, skipping sync")
			return nil
		}
		return err
	}
	identity, err := s.proposals.GetIdentity(ctx, job.ProposalID)
	if err != nil {
		if errors.Is(err, proposal.ErrIdentityNotFound) {
			log.Warn("identity missing, skipping sync")
			return nil
		}
		return err
	}

	record, err := s.records.Get(ctx, job.ProposalID)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return err
	}
	if record.Status == RecordSynced {
		log.Info("already synced", zap.String("external_id", record.ExternalID))
		return nil
	}

	if prop.Status != proposal.StatusSigned && prop.Status != proposal.StatusApproved {
		log.Info("not yet eligible", zap.String("status", string(prop.Status)))
		return nil
	}

	if err := s.records.Upsert(ctx, Record{ProposalID: prop.ID, Status: RecordPending}); err != nil {
		return err
	}

	person, err := identity.Decrypt(s.codec)
	if err != nil {
		return err
	}
	payload, err := s.buildPayload(ctx, prop.ID, person)
	if err != nil {
		return err
	}

	resp, err := s.client.CreateMember(ctx, payload)
	if err != nil {
		if upsertErr := s.records.Upsert(ctx, Record{
			ProposalID:  prop.ID,
			Status:      RecordFailed,
			Diagnostics: map[string]string{"error": err.Error()},
		}); upsertErr != nil {
			return upsertErr
		}
		return err
	}

	if !isSuccess(resp.StatusCode) {
		diag := map[string]string{
			"status": strconv.Itoa(resp.StatusCode),
			"error":  truncate(string(resp.Body), 500),
		}
		if err := s.records.Upsert(ctx, Record{ProposalID: prop.ID, Status: RecordFailed, Diagnostics: diag}); err != nil {
			return err
		}
		log.Error("erp rejected member", zap.Int("status", resp.StatusCode))
		return fmt.Errorf("erpsync: erp status %d", resp.StatusCode)
	}

	externalID := ExtractExternalID(resp.Body)
	if err := s.records.Upsert(ctx, Record{
		ProposalID: prop.ID,
		Status:     RecordSynced,
		ExternalID: externalID,
		LastSyncAt: time.Now(),
	}); err != nil {
		return err
	}

	if prop.Status != proposal.StatusApproved {
		err := s.proposals.Transition(ctx, proposal.TransitionParams{
			ProposalID: prop.ID,
			To:         proposal.StatusApproved,
			Reason:     fmt.Sprintf("erp sync concluded, external id %s", externalID),
		})
		if err != nil && !errors.Is(err, proposal.ErrInvalidTransition) {
			return err
		}
	}

	data := map[string]string{"name": person.Name}
	if _, err := s.notifier.Send(ctx, notification.Request{
		ProposalID:    prop.ID,
		Channel:       notification.ChannelEmail,
		Recipient:     person.Email,
		Template:      "proposal_concluded",
		Data:          data,
		CorrelationID: job.CorrelationID,
	}); err != nil {
		return err
	}
	if person.Phone != "" {
		if _, err := s.notifier.Send(ctx, notification.Request{
			ProposalID:    prop.ID,
			Channel:       notification.ChannelWhatsApp,
			Recipient:     person.Phone,
			Template:      "proposal_concluded",
			Data:          data,
			OptIn:         true,
			CorrelationID: job.CorrelationID,
		}); err != nil {
			return err
		}
	}

	log.Info("erp sync concluded",
		zap.Int("status", resp.StatusCode),
		zap.String("external_id", externalID))
	return nil
}

func (s *Syncer) buildPayload(ctx context.Context, proposalID string, person proposal.Person) (MemberPayload, error) {
	files, err := s.documents.ListByProposal(ctx, proposalID)
	if err != nil {
		return MemberPayload{}, err
	}
	docs := make(map[string]DocumentRef, len(files))
	for _, f := range files {
		docs[string(f.Type)] = DocumentRef{StorageKey: f.StorageKey, SHA256: f.SHA256}
	}

	return MemberPayload{
		Name:      person.Name,
		CPF:       pii.Digits(person.CPF),
		BirthDate: isoDate(person.BirthDate),
		Email:     person.Email,
		Phone:     formatPhone(person.Phone),
		Roles:     person.Roles,
		Documents: docs,
	}, nil
}

// isoDate converts the Brazilian dd/mm/yyyy form; anything else passes
// through unchanged.
func isoDate(date string) string {
	if t, err := time.Parse("02/01/2006", date); err == nil {
		return t.Format("2006-01-02")
	}
	return date
}

// formatPhone yields an E.164-ish +55 number from whatever digits are on
// file.
func formatPhone(phone string) string {
	digits := pii.Digits(phone)
	if digits == "" {
		return ""
	}
	if strings.HasPrefix(digits, "55") && len(digits) >= 12 {
		return "+" + digits
	}
	return "+55" + digits
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
