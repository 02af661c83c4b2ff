package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Extraction is the OCR provider's answer for one image.
type Extraction struct {
	RawText     string
	RawResponse json.RawMessage
}

// TextExtractor is the narrow vision/OCR contract.
type TextExtractor interface {
	ExtractText(ctx context.Context, imageBytes []byte) (Extraction, error)
}

// HTTPExtractor posts image bytes to the OCR provider endpoint.
type HTTPExtractor struct {
	url    string
	token  string
	client *http.Client
}

func NewHTTPExtractor(url, token string, timeout time.Duration) *HTTPExtractor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExtractor{url: url, token: token, client: &http.Client{Timeout: timeout}}
}

func (e *HTTPExtractor) ExtractText(ctx context.Context, imageBytes []byte) (Extraction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(imageBytes))
	if err != nil {
		return Extraction{}, fmt.Errorf("verification: build ocr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Authorization", "Bearer "+e.token)

	resp, err := e.client.Do(req)
	if err != nil {
		return Extraction{}, fmt.Errorf("verification: call ocr provider: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Extraction{}, fmt.Errorf("verification: read ocr response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Extraction{}, fmt.Errorf("verification: ocr provider status %d: %s", resp.StatusCode, body)
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Extraction{}, fmt.Errorf("verification: decode ocr response: %w", err)
	}
	return Extraction{RawText: parsed.Text, RawResponse: body}, nil
}
