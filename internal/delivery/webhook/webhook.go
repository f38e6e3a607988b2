// Package webhook delivers notification payloads via HTTP POST.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"fxalert/internal/delivery/retry"
)

// DefaultTimeout bounds one delivery attempt.
const DefaultTimeout = 10 * time.Second

// Sender posts JSON bodies to webhook URLs.
type Sender struct {
	httpClient *http.Client
}

// NewSender creates a webhook sender whose attempts are bounded by timeout.
func NewSender(timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sender{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send makes one delivery attempt. Any 2xx reply is success. Errors that no retry can fix
// are marked retry.Permanent: a malformed URL or request ends the job after one attempt
// instead of spending the full budget. Transport errors and non-2xx replies are retried.
func (s *Sender) Send(ctx context.Context, webhookURL string, body []byte) error {
	if err := validateURL(webhookURL); err != nil {
		return retry.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook notification: %w", err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	slog.Debug("Webhook accepted notification", "webhook_url", webhookURL, "status_code", resp.StatusCode)
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("webhook URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid webhook URL: %q (must be a valid HTTP/HTTPS URL)", raw)
	}
	return nil
}
