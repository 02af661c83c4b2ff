package signature

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/felipebianchini2006/sistemacadastro-sub001/config"
	"github.com/felipebianchini2006/sistemacadastro-sub001/document"
	"github.com/felipebianchini2006/sistemacadastro-sub001/notification"
	"github.com/felipebianchini2006/sistemacadastro-sub001/pii"
	"github.com/felipebianchini2006/sistemacadastro-sub001/proposal"
	"github.com/felipebianchini2006/sistemacadastro-sub001/queue"
	"github.com/felipebianchini2006/sistemacadastro-sub001/storage"
)

// Notifier is the slice of the notification service the workflow needs.
type Notifier interface {
	Send(ctx context.Context, req notification.Request) (notification.Notification, error)
}

// Workflow drives the three-stage envelope chain. Each stage enqueues its
// successor only after its own writes committed, so a crashed stage replays
// alone.
type Workflow struct {
	proposals proposal.Repository
	documents document.Repository
	envelopes Repository
	store     storage.Store
	provider  Provider
	renderer  *Renderer
	notifier  Notifier
	broker    queue.Enqueuer
	codec     *pii.Codec
	cfg       config.SigningConfig
	log       *zap.Logger
}

func NewWorkflow(
	proposals proposal.Repository,
	documents document.Repository,
	envelopes Repository,
	store storage.Store,
	provider Provider,
	renderer *Renderer,
	notifier Notifier,
	broker queue.Enqueuer,
	codec *pii.Codec,
	cfg config.SigningConfig,
	log *zap.Logger,
) *Workflow {
	if cfg.DeadlineDays <= 0 {
		cfg.DeadlineDays = 7
	}
	return &Workflow{
		proposals: proposals,
		documents: documents,
		envelopes: envelopes,
		store:     store,
		provider:  provider,
		renderer:  renderer,
		notifier:  notifier,
		broker:    broker,
		codec:     codec,
		cfg:       cfg,
		log:       log,
	}
}

func (w *Workflow) HandleGenerate(ctx context.Context, job queue.Job) error {
	var payload GenerateJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Unrecoverable(fmt.Errorf("signature: decode generate payload: %w", err))
	}
	return w.GenerateContract(ctx, payload)
}

func (w *Workflow) HandleCreate(ctx context.Context, job queue.Job) error {
	var payload CreateJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Unrecoverable(fmt.Errorf("signature: decode create payload: %w", err))
	}
	return w.CreateEnvelope(ctx, payload)
}

func (w *Workflow) HandleAudit(ctx context.Context, job queue.Job) error {
	var payload AuditJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Unrecoverable(fmt.Errorf("signature: decode audit payload: %w", err))
	}
	return w.GenerateAudit(ctx, payload)
}

// GenerateContract is stage 1: render the contract, store it, record the
// DocumentFile, then hand off to signature.create.
func (w *Workflow) GenerateContract(ctx context.Context, job GenerateJob) error {
	log := w.log.With(zap.String("proposal_id", job.ProposalID), zap.String("correlation_id", job.CorrelationID))
	log.Info("contract generation started")

	prop, err := w.proposals.Get(ctx, job.ProposalID)
	if err != nil {
		if errors.Is(err, proposal.ErrNotFound) {
			return queue.Unrecoverable(err)
		}
		return err
	}
	person, err := w.person(ctx, prop.ID)
	if err != nil {
		return err
	}

	content, err := w.renderer.RenderContract(ContractData{
		ProposalID: prop.ID,
		Name:       person.Name,
		CPF:        person.CPF,
		BirthDate:  person.BirthDate,
		Email:      person.Email,
		Roles:      person.Roles,
		IssuedAt:   time.Now(),
	})
	if err != nil {
		return err
	}

	hash := contentHash(content)
	key := fmt.Sprintf("proposals/%s/contract.pdf", prop.ID)
	if err := w.store.Upload(ctx, key, content, "application/pdf"); err != nil {
		return err
	}

	file, err := w.documents.Create(ctx, document.CreateParams{
		ProposalID:  prop.ID,
		Type:        document.TypeContract,
		StorageKey:  key,
		ContentType: "application/pdf",
		SHA256:      hash,
	})
	if err != nil {
		return err
	}

	next := CreateJob{
		ProposalID:    prop.ID,
		DocumentID:    file.ID,
		EvidenceAuth:  job.EvidenceAuth,
		CorrelationID: job.CorrelationID,
	}
	if _, err := w.broker.Enqueue(ctx, SignatureQueueName, JobCreateEnvelope, next, queue.EnqueueOptions{}); err != nil {
		return err
	}

	log.Info("contract generated", zap.String("document_id", file.ID), zap.String("sha256", hash))
	return nil
}

// CreateEnvelope is stage 2: the full provider conversation, then the local
// SENT row and the approval notifications.
func (w *Workflow) CreateEnvelope(ctx context.Context, job CreateJob) error {
	log := w.log.With(zap.String("proposal_id", job.ProposalID), zap.String("correlation_id", job.CorrelationID))
	log.Info("envelope creation started")

	if existing, err := w.envelopes.GetByProposal(ctx, job.ProposalID); err == nil {
		log.Info("envelope already exists", zap.String("envelope_id", existing.EnvelopeID))
		return nil
	} else if !errors.Is(err, ErrEnvelopeNotFound) {
		return err
	}

	prop, err := w.proposals.Get(ctx, job.ProposalID)
	if err != nil {
		if errors.Is(err, proposal.ErrNotFound) {
			return queue.Unrecoverable(err)
		}
		return err
	}
	person, err := w.person(ctx, prop.ID)
	if err != nil {
		return err
	}

	file, err := w.documents.Get(ctx, job.DocumentID)
	if err != nil {
		if errors.Is(err, document.ErrNotFound) {
			return queue.Unrecoverable(err)
		}
		return err
	}
	content, err := w.store.Download(ctx, file.StorageKey)
	if err != nil {
		return err
	}

	deadline := time.Now().AddDate(0, 0, w.cfg.DeadlineDays)
	envelopeID, err := w.provider.CreateEnvelope(ctx, EnvelopeParams{
		Name:           fmt.Sprintf("Contrato de filiação %s", prop.ID),
		Deadline:       deadline,
		IdempotencyKey: fmt.Sprintf("proposal:%s:envelope", prop.ID),
	})
	if err != nil {
		return err
	}
	if envelopeID == "" {
		return fmt.Errorf("%w: envelope", ErrMissingProviderID)
	}

	docID, err := w.provider.UploadDocument(ctx, envelopeID, "contrato.pdf", content)
	if err != nil {
		return err
	}
	if docID == "" {
		return fmt.Errorf("%w: document", ErrMissingProviderID)
	}

	signerID, err := w.provider.CreateSigner(ctx, envelopeID, SignerParams{
		Name:  person.Name,
		Email: person.Email,
		Phone: person.Phone,
	})
	if err != nil {
		return err
	}
	if signerID == "" {
		return fmt.Errorf("%w: signer", ErrMissingProviderID)
	}

	if _, err := w.provider.CreateRequirement(ctx, envelopeID, RequirementParams{
		SignerID: signerID,
		Act:      "agree",
		Role:     "sign",
	}); err != nil {
		return err
	}
	if _, err := w.provider.CreateRequirement(ctx, envelopeID, RequirementParams{
		SignerID: signerID,
		Act:      "provide_evidence",
		Auth:     evidenceAuth(job.EvidenceAuth, person.Phone),
	}); err != nil {
		return err
	}

	if w.internalSignerConfigured() {
		orgSignerID, err := w.provider.CreateSigner(ctx, envelopeID, SignerParams{
			Name:  w.cfg.InternalSignerName,
			Email: w.cfg.InternalSignerEmail,
		})
		if err != nil {
			return err
		}
		if _, err := w.provider.CreateRequirement(ctx, envelopeID, RequirementParams{
			SignerID: orgSignerID,
			Act:      "agree",
			Role:     "sign",
		}); err != nil {
			return err
		}
	}

	if err := w.provider.UpdateEnvelopeStatus(ctx, envelopeID, "running"); err != nil {
		return err
	}
	if err := w.provider.NotifySigners(ctx, envelopeID, "Seu contrato de filiação está pronto para assinatura."); err != nil {
		return err
	}

	signer, err := w.provider.GetSigner(ctx, envelopeID, signerID)
	if err != nil {
		return err
	}

	env, err := w.envelopes.Create(ctx, Envelope{
		ProposalID:     prop.ID,
		EnvelopeID:     envelopeID,
		Status:         EnvelopeSent,
		SignerName:     person.Name,
		SignerID:       signerID,
		Deadline:       deadline,
		SignLink:       signer.SignLink,
		OriginalSHA256: file.SHA256,
	})
	if err != nil {
		return err
	}

	data := map[string]string{"name": person.Name, "sign_link": signer.SignLink}
	if _, err := w.notifier.Send(ctx, notification.Request{
		ProposalID:    prop.ID,
		Channel:       notification.ChannelEmail,
		Recipient:     person.Email,
		Template:      "proposal_approved",
		Data:          data,
		CorrelationID: job.CorrelationID,
	}); err != nil {
		return err
	}
	if person.Phone != "" {
		if _, err := w.notifier.Send(ctx, notification.Request{
			ProposalID:    prop.ID,
			Channel:       notification.ChannelWhatsApp,
			Recipient:     person.Phone,
			Template:      "proposal_approved",
			Data:          data,
			OptIn:         true,
			CorrelationID: job.CorrelationID,
		}); err != nil {
			return err
		}
	}

	log.Info("envelope sent",
		zap.String("envelope_id", env.EnvelopeID),
		zap.String("signer_id", signerID),
		zap.Time("deadline", deadline))
	return nil
}

// GenerateAudit is stage 3: render and store the audit trail once the
// provider reports the envelope fully signed. Re-running just produces
// another artifact.
func (w *Workflow) GenerateAudit(ctx context.Context, job AuditJob) error {
	log := w.log.With(zap.String("proposal_id", job.ProposalID), zap.String("correlation_id", job.CorrelationID))
	log.Info("audit trail generation started")

	env, err := w.envelopes.GetByProposal(ctx, job.ProposalID)
	if err != nil {
		if errors.Is(err, ErrEnvelopeNotFound) {
			return queue.Unrecoverable(err)
		}
		return err
	}
	if _, err := w.proposals.Get(ctx, job.ProposalID); err != nil {
		if errors.Is(err, proposal.ErrNotFound) {
			return queue.Unrecoverable(err)
		}
		return err
	}

	content, err := w.renderer.RenderAuditTrail(AuditData{
		EnvelopeID:      env.EnvelopeID,
		ProposalID:      env.ProposalID,
		SignerName:      env.SignerName,
		SignerMethod:    job.SignerMethod,
		SignerIP:        job.SignerIP,
		SignerUserAgent: job.SignerUserAgent,
		SignerGeo:       job.SignerGeo,
		OriginalSHA256:  env.OriginalSHA256,
		SignedSHA256:    env.SignedSHA256,
		CertSHA256:      env.CertSHA256,
		SignedAt:        time.Now(),
	})
	if err != nil {
		return err
	}

	key := fmt.Sprintf("proposals/%s/audit-%s.pdf", env.ProposalID, env.EnvelopeID)
	if err := w.store.Upload(ctx, key, content, "application/pdf"); err != nil {
		return err
	}

	file, err := w.documents.Create(ctx, document.CreateParams{
		ProposalID:  env.ProposalID,
		Type:        document.TypeSignatureAudit,
		StorageKey:  key,
		ContentType: "application/pdf",
		SHA256:      contentHash(content),
	})
	if err != nil {
		return err
	}

	log.Info("audit trail recorded", zap.String("document_id", file.ID))
	return nil
}

func (w *Workflow) person(ctx context.Context, proposalID string) (proposal.Person, error) {
	identity, err := w.proposals.GetIdentity(ctx, proposalID)
	if err != nil {
		if errors.Is(err, proposal.ErrIdentityNotFound) {
			return proposal.Person{}, queue.Unrecoverable(err)
		}
		return proposal.Person{}, err
	}

	return identity.Decrypt(w.codec)
}

func (w *Workflow) internalSignerConfigured() bool {
	return w.cfg.InternalSignerEnabled && w.cfg.InternalSignerName != "" && w.cfg.InternalSignerEmail != ""
}

// evidenceAuth picks the evidence channel, falling back to email when a phone
// channel was requested but no phone is on file.
func evidenceAuth(requested, phone string) string {
	switch requested {
	case "sms", "whatsapp":
		if phone == "" {
			return "email"
		}
		return requested
	case "":
		return "email"
	default:
		return requested
	}
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
