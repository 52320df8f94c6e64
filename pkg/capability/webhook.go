package capability

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

// WebhookValidator reaches an out-of-process credential module over HTTP.
// Uninstall posts to <endpoint>/uninstall, Install to <endpoint>/install,
// with the capability data carried base64-encoded in a JSON body. Any
// non-2xx response is surfaced as an operation failure.
type WebhookValidator struct {
	endpoint string
	client   *http.Client
}

// NewWebhookValidator creates a webhook client for the given base endpoint.
// If client is nil a default with a 10s timeout is used.
func NewWebhookValidator(endpoint string, client *http.Client) *WebhookValidator {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookValidator{endpoint: endpoint, client: client}
}

type capabilityRequest struct {
	Data string `json:"data,omitempty"` // base64
}

type capabilityError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// Uninstall implements Validator.
func (w *WebhookValidator) Uninstall(ctx context.Context, data []byte) error {
	return w.post(ctx, "uninstall", data)
}

// Install implements Validator.
func (w *WebhookValidator) Install(ctx context.Context, data []byte) error {
	return w.post(ctx, "install", data)
}

func (w *WebhookValidator) post(ctx context.Context, op string, data []byte) error {
	body, err := json.Marshal(capabilityRequest{
		Data: base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return fmt.Errorf("capability %s: encode: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint+"/"+op, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("capability %s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("capability %s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Try to extract a problem detail; fall back to the status line.
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var pd capabilityError
	if json.Unmarshal(raw, &pd) == nil && pd.Title != "" {
		return fmt.Errorf("capability %s: %s: %s", op, pd.Title, pd.Detail)
	}
	return fmt.Errorf("capability %s: unexpected status %s", op, resp.Status)
}
