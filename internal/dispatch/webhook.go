package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/driver-session/internal/observability"
)

// Webhook posts JSON to a driver-app backend, for example to raise a push
// notification when the app is in the background.
type Webhook struct {
	Endpoint string
	Token    string
	Client   *http.Client
}

func NewWebhook(endpoint, token string) *Webhook {
	return &Webhook{Endpoint: endpoint, Token: token, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (w *Webhook) Notify(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.Token)
	}
	resp, err := w.Client.Do(req)
	if err != nil {
		observability.WebhookNotifications.WithLabelValues("error").Inc()
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		observability.WebhookNotifications.WithLabelValues("rejected").Inc()
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	observability.WebhookNotifications.WithLabelValues("ok").Inc()
	return nil
}
