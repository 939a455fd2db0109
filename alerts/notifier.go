package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
)

// Notifier delivers one alert to one recipient. Implementations are the
// transport boundary; the dispatcher owns retries and idempotency.
type Notifier interface {
	Send(ctx context.Context, recipient, content string) error
}

// WebhookNotifier posts alerts to a delivery gateway endpoint which fans out
// to SMS/push downstream.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

func (n *WebhookNotifier) Send(ctx context.Context, recipient, content string) error {
	payload, err := json.Marshal(map[string]string{
		"recipient": recipient,
		"message":   content,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewBuffer(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert gateway returned status %s", resp.Status)
	}
	return nil
}

// LogNotifier writes alerts to the process log. Used when no gateway URL is
// configured, typically local development.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, recipient, content string) error {
	log.Printf("ALERT to %s: %s", recipient, content)
	return nil
}
