package erpsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MemberPayload is the /associados request body: digits-only CPF, formatted
// phone, ISO date, role list and a documents object keyed by document type.
type MemberPayload struct {
	Name      string                 `json:"nome"`
	CPF       string                 `json:"cpf"`
	BirthDate string                 `json:"dataNascimento"`
	Email     string                 `json:"email"`
	Phone     string                 `json:"telefone,omitempty"`
	Roles     []string               `json:"categorias"`
	Documents map[string]DocumentRef `json:"documentos"`
}

// DocumentRef points the ERP at a stored artifact without shipping its bytes.
type DocumentRef struct {
	StorageKey string `json:"chave"`
	SHA256     string `json:"hash"`
}

// Response is the raw ERP answer; classification happens in the syncer
// against the named allowlist.
type Response struct {
	StatusCode int
	Body       []byte
}

// Client is the ERP contract.
type Client interface {
	CreateMember(ctx context.Context, payload MemberPayload) (Response, error)
}

// HTTPClient posts members to the ERP with bearer auth and a bounded
// timeout; the request context aborts the call when the deadline passes.
type HTTPClient struct {
	baseURL string
	token   string
	timeout time.Duration
	client  *http.Client
}

func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) CreateMember(ctx context.Context, payload MemberPayload) (Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("erpsync: marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/associados", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("erpsync: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("erpsync: post member: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Response{}, fmt.Errorf("erpsync: read response: %w", err)
	}
	return Response{StatusCode: resp.StatusCode, Body: respBody}, nil
}

// idExtractor pulls an external id out of one known response shape.
type idExtractor func(body map[string]any) (string, bool)

// idExtractors is the ordered list of shapes the ERP is known to answer
// with; the first defined match wins.
var idExtractors = []idExtractor{
	func(body map[string]any) (string, bool) { return stringAt(body, "id") },
	func(body map[string]any) (string, bool) { return stringAt(body, "externalId") },
	func(body map[string]any) (string, bool) { return stringAt(body, "data", "id") },
	func(body map[string]any) (string, bool) { return stringAt(body, "data", "attributes", "id") },
}

// ExtractExternalID tries each known response shape in order and returns the
// first defined id, or "" when none matches.
func ExtractExternalID(body []byte) string {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	for _, extract := range idExtractors {
		if id, ok := extract(parsed); ok {
			return id
		}
	}
	return ""
}

func stringAt(body map[string]any, path ...string) (string, bool) {
	current := any(body)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return "", false
		}
		current, ok = m[key]
		if !ok {
			return "", false
		}
	}
	switch v := current.(type) {
	case string:
		if v == "" {
			return "", false
		}
		return v, true
	case float64:
		return fmt.Sprintf("%.0f", v), true
	default:
		return "", false
	}
}
