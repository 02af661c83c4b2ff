package signature

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EnvelopeParams creates the provider-side envelope. The idempotency key lets
// the provider collapse duplicate creations when the stage replays.
type EnvelopeParams struct {
	Name           string
	Deadline       time.Time
	IdempotencyKey string
}

type SignerParams struct {
	Name  string
	Email string
	Phone string
}

// RequirementParams attaches one signing requirement to a signer. Act is
// "agree" or "provide_evidence"; Auth names the evidence channel.
type RequirementParams struct {
	SignerID string
	Act      string
	Role     string
	Auth     string
}

type Signer struct {
	ID       string
	SignLink string
}

// Provider is the e-signature provider contract (spec'd operations only).
type Provider interface {
	CreateEnvelope(ctx context.Context, params EnvelopeParams) (envelopeID string, err error)
	UploadDocument(ctx context.Context, envelopeID, filename string, content []byte) (documentID string, err error)
	CreateSigner(ctx context.Context, envelopeID string, params SignerParams) (signerID string, err error)
	CreateRequirement(ctx context.Context, envelopeID string, params RequirementParams) (requirementID string, err error)
	UpdateEnvelopeStatus(ctx context.Context, envelopeID, status string) error
	NotifySigners(ctx context.Context, envelopeID, message string) error
	GetSigner(ctx context.Context, envelopeID, signerID string) (Signer, error)
}

// HTTPProvider talks JSON:API-style to the signing provider: every created
// resource comes back with its id under data.id.
type HTTPProvider struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPProvider(baseURL, token string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProvider{baseURL: baseURL, token: token, client: &http.Client{Timeout: timeout}}
}

type resourceResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			SignLink string `json:"sign_link"`
		} `json:"attributes"`
	} `json:"data"`
}

func (p *HTTPProvider) CreateEnvelope(ctx context.Context, params EnvelopeParams) (string, error) {
	body := map[string]any{
		"name":        params.Name,
		"deadline_at": params.Deadline.UTC().Format(time.RFC3339),
	}
	headers := map[string]string{"X-Idempotency-Key": params.IdempotencyKey}
	resp, err := p.post(ctx, "/envelopes", body, headers)
	if err != nil {
		return "", err
	}
	return requireID("envelope", resp)
}

func (p *HTTPProvider) UploadDocument(ctx context.Context, envelopeID, filename string, content []byte) (string, error) {
	body := map[string]any{
		"filename":       filename,
		"content_base64": base64.StdEncoding.EncodeToString(content),
	}
	resp, err := p.post(ctx, "/envelopes/"+envelopeID+"/documents", body, nil)
	if err != nil {
		return "", err
	}
	return requireID("document", resp)
}

func (p *HTTPProvider) CreateSigner(ctx context.Context, envelopeID string, params SignerParams) (string, error) {
	body := map[string]any{
		"name":  params.Name,
		"email": params.Email,
	}
	if params.Phone != "" {
		body["phone_number"] = params.Phone
	}
	resp, err := p.post(ctx, "/envelopes/"+envelopeID+"/signers", body, nil)
	if err != nil {
		return "", err
	}
	return requireID("signer", resp)
}

func (p *HTTPProvider) CreateRequirement(ctx context.Context, envelopeID string, params RequirementParams) (string, error) {
	body := map[string]any{
		"signer_id": params.SignerID,
		"action":    params.Act,
		"role":      params.Role,
		"auth":      params.Auth,
	}
	resp, err := p.post(ctx, "/envelopes/"+envelopeID+"/requirements", body, nil)
	if err != nil {
		return "", err
	}
	return requireID("requirement", resp)
}

func (p *HTTPProvider) UpdateEnvelopeStatus(ctx context.Context, envelopeID, status string) error {
	body := map[string]any{"status": status}
	_, err := p.do(ctx, http.MethodPatch, "/envelopes/"+envelopeID, body, nil)
	return err
}

func (p *HTTPProvider) NotifySigners(ctx context.Context, envelopeID, message string) error {
	body := map[string]any{"message": message}
	_, err := p.post(ctx, "/envelopes/"+envelopeID+"/notifications", body, nil)
	return err
}

func (p *HTTPProvider) GetSigner(ctx context.Context, envelopeID, signerID string) (Signer, error) {
	resp, err := p.do(ctx, http.MethodGet, "/envelopes/"+envelopeID+"/signers/"+signerID, nil, nil)
	if err != nil {
		return Signer{}, err
	}
	if resp.Data.ID == "" {
		return Signer{}, fmt.Errorf("%w: signer", ErrMissingProviderID)
	}
	return Signer{ID: resp.Data.ID, SignLink: resp.Data.Attributes.SignLink}, nil
}

func (p *HTTPProvider) post(ctx context.Context, path string, body map[string]any, headers map[string]string) (resourceResponse, error) {
	return p.do(ctx, http.MethodPost, path, body, headers)
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, body map[string]any, headers map[string]string) (resourceResponse, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return resourceResponse{}, fmt.Errorf("signature: marshal %s body: %w", path, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return resourceResponse{}, fmt.Errorf("signature: build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return resourceResponse{}, fmt.Errorf("signature: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resourceResponse{}, fmt.Errorf("signature: provider status %d on %s: %s", resp.StatusCode, path, respBody)
	}

	var parsed resourceResponse
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return resourceResponse{}, fmt.Errorf("signature: decode %s response: %w", path, err)
		}
	}
	return parsed, nil
}

func requireID(kind string, resp resourceResponse) (string, error) {
	if resp.Data.ID == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingProviderID, kind)
	}
	return resp.Data.ID, nil
}
