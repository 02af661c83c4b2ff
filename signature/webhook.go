package signature

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/felipebianchini2006/sistemacadastro-sub001/erpsync"
	"github.com/felipebianchini2006/sistemacadastro-sub001/proposal"
	"github.com/felipebianchini2006/sistemacadastro-sub001/queue"
)

// ErrInvalidWebhookToken signals a completion callback that failed
// verification.
var ErrInvalidWebhookToken = errors.New("signature: invalid webhook token")

// CompletionClaims is the payload of the provider's signed completion
// callback.
type CompletionClaims struct {
	EnvelopeID      string `json:"envelope_id"`
	SignedSHA256    string `json:"signed_sha256"`
	CertSHA256      string `json:"cert_sha256"`
	SignerMethod    string `json:"signer_method"`
	SignerIP        string `json:"signer_ip"`
	SignerUserAgent string `json:"signer_user_agent"`
	SignerGeo       string `json:"signer_geo"`
	jwt.RegisteredClaims
}

// Webhook processes the provider's "document fully signed" callback: marks
// the envelope SIGNED, advances the proposal, and triggers the audit trail
// and the ERP sync.
type Webhook struct {
	secret    []byte
	envelopes Repository
	proposals proposal.Repository
	broker    queue.Enqueuer
	log       *zap.Logger
}

func NewWebhook(secret string, envelopes Repository, proposals proposal.Repository, broker queue.Enqueuer, log *zap.Logger) *Webhook {
	return &Webhook{
		secret:    []byte(secret),
		envelopes: envelopes,
		proposals: proposals,
		broker:    broker,
		log:       log,
	}
}

// Complete verifies the token and applies the completion.
func (h *Webhook) Complete(ctx context.Context, token string) error {
	claims, err := h.verify(token)
	if err != nil {
		return err
	}

	log := h.log.With(zap.String("envelope_id", claims.EnvelopeID))
	log.Info("signature completion received")

	env, err := h.envelopes.GetByEnvelopeID(ctx, claims.EnvelopeID)
	if err != nil {
		return err
	}
	if env.Status == EnvelopeSigned {
		log.Info("envelope already signed")
		return nil
	}

	if err := h.envelopes.MarkSigned(ctx, claims.EnvelopeID, claims.SignedSHA256, claims.CertSHA256); err != nil {
		return err
	}

	err = h.proposals.Transition(ctx, proposal.TransitionParams{
		ProposalID: env.ProposalID,
		To:         proposal.StatusSigned,
		Reason:     fmt.Sprintf("envelope %s signed", claims.EnvelopeID),
	})
	if err != nil && !errors.Is(err, proposal.ErrInvalidTransition) {
		return err
	}

	audit := AuditJob{
		ProposalID:      env.ProposalID,
		SignerMethod:    claims.SignerMethod,
		SignerIP:        claims.SignerIP,
		SignerUserAgent: claims.SignerUserAgent,
		SignerGeo:       claims.SignerGeo,
	}
	if _, err := h.broker.Enqueue(ctx, SignatureQueueName, JobAuditTrail, audit, queue.EnqueueOptions{}); err != nil {
		return err
	}
	if _, err := h.broker.Enqueue(ctx, erpsync.QueueName, erpsync.JobSync,
		erpsync.SyncJob{ProposalID: env.ProposalID}, queue.EnqueueOptions{}); err != nil {
		return err
	}

	log.Info("signature completion applied", zap.String("proposal_id", env.ProposalID))
	return nil
}

// ServeHTTP lets the worker expose the callback endpoint directly.
func (h *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token := r.Header.Get("X-Signature-Token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	if err := h.Complete(r.Context(), token); err != nil {
		if errors.Is(err, ErrInvalidWebhookToken) {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		if errors.Is(err, ErrEnvelopeNotFound) {
			http.Error(w, "unknown envelope", http.StatusNotFound)
			return
		}
		h.log.Error("completion failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Webhook) verify(token string) (*CompletionClaims, error) {
	claims := &CompletionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return h.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhookToken, err)
	}
	if claims.EnvelopeID == "" {
		return nil, fmt.Errorf("%w: missing envelope id", ErrInvalidWebhookToken)
	}
	return claims, nil
}
