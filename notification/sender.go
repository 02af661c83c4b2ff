package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Message is a rendered, ready-to-send notification.
type Message struct {
	Recipient string
	Subject   string
	Body      string
	Template  string
	OptIn     bool
}

// Sender delivers one message over a single channel.
type Sender interface {
	Send(ctx context.Context, msg Message) (providerMessageID string, err error)
}

// ProviderError carries the transport provider's HTTP status so the
// dispatcher can classify the failure.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("notification: provider status %d: %s", e.StatusCode, e.Message)
}

// HTTPSender posts messages to a channel-specific transport endpoint.
type HTTPSender struct {
	url    string
	token  string
	client *http.Client
}

func NewHTTPSender(url, token string, timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSender{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSender) Send(ctx context.Context, msg Message) (string, error) {
	body, err := json.Marshal(map[string]any{
		"to":       msg.Recipient,
		"subject":  msg.Subject,
		"body":     msg.Body,
		"template": msg.Template,
		"opt_in":   msg.OptIn,
	})
	if err != nil {
		return "", fmt.Errorf("notification: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("notification: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("notification: send: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &ProviderError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var parsed struct {
		ID        string `json:"id"`
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(respBody, &parsed); err == nil {
		if parsed.MessageID != "" {
			return parsed.MessageID, nil
		}
		if parsed.ID != "" {
			return parsed.ID, nil
		}
	}
	return "", nil
}
