package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ignite/abuse-guard/internal/config"
	"github.com/ignite/abuse-guard/internal/domain"
	"github.com/ignite/abuse-guard/internal/pkg/retry"
)

// WebhookNotifier POSTs notices as JSON to an ops endpoint, retrying
// transient failures.
type WebhookNotifier struct {
	client retry.HTTPDoer
	url    string
}

// NewWebhookNotifier builds a notifier over a retrying client. doer may be
// nil to use a plain http.Client with the configured timeout.
func NewWebhookNotifier(cfg config.WebhookConfig, doer retry.HTTPDoer) *WebhookNotifier {
	if doer == nil {
		doer = &http.Client{Timeout: cfg.Timeout()}
	}
	return &WebhookNotifier{client: retry.NewClient(doer, cfg.MaxRetries), url: cfg.URL}
}

// NewWebhookNotifierWithClient uses client as is.
func NewWebhookNotifierWithClient(client retry.HTTPDoer, url string) *WebhookNotifier {
	return &WebhookNotifier{client: client, url: url}
}

type webhookPayload struct {
	Event      string                  `json:"event"`
	TenantID   string                  `json:"tenant_id"`
	TenantName string                  `json:"tenant_name,omitempty"`
	Reason     string                  `json:"reason"`
	Suspension domain.SuspensionRecord `json:"suspension"`
	At         string                  `json:"at"`
}

func (w *WebhookNotifier) Notify(ctx context.Context, n domain.SuspensionNotice) error {
	body, err := json.Marshal(webhookPayload{
		Event:      "tenant." + n.Kind,
		TenantID:   n.Tenant.ID,
		TenantName: n.Tenant.Name,
		Reason:     n.Reason,
		Suspension: n.Suspension,
		At:         n.At.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s notice: %w", n.Kind, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s notice: unexpected status %d", n.Kind, resp.StatusCode)
	}
	return nil
}
