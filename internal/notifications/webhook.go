// Package notifications delivers alerts to configured webhook
// endpoints.
package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/netpulse/netpulse/internal/models"
)

const (
	maxAttempts    = 3
	initialBackoff = 2 * time.Second
	requestTimeout = 10 * time.Second
)

// webhookPayload is the wire shape POSTed to each endpoint.
type webhookPayload struct {
	ID           int64  `json:"id"`
	HostID       int64  `json:"hostId"`
	HostName     string `json:"hostName"`
	Type         string `json:"type"`
	Severity     string `json:"severity"`
	Title        string `json:"title"`
	Message      string `json:"message"`
	Timestamp    int64  `json:"timestamp"`
	Acknowledged bool   `json:"acknowledged"`
}

// WebhookDispatcher POSTs alerts to every configured endpoint with
// bounded retry. Delivery runs on its own goroutines; callers never
// wait.
type WebhookDispatcher struct {
	client  *http.Client
	backoff time.Duration

	mu      sync.Mutex
	urls    []string
	enabled bool
}

func NewWebhookDispatcher(urls []string, enabled bool) *WebhookDispatcher {
	return &WebhookDispatcher{
		client:  &http.Client{Timeout: requestTimeout},
		backoff: initialBackoff,
		urls:    append([]string(nil), urls...),
		enabled: enabled,
	}
}

// SetEndpoints replaces the endpoint list.
func (d *WebhookDispatcher) SetEndpoints(urls []string) {
	d.mu.Lock()
	d.urls = append([]string(nil), urls...)
	d.mu.Unlock()
}

// SetEnabled toggles delivery without touching the endpoint list.
func (d *WebhookDispatcher) SetEnabled(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
}

// Dispatch sends the alert to every endpoint. Fire and forget: failures
// are logged, never returned.
func (d *WebhookDispatcher) Dispatch(alert models.Alert, hostName string) {
	d.mu.Lock()
	enabled := d.enabled
	urls := append([]string(nil), d.urls...)
	d.mu.Unlock()

	if !enabled || len(urls) == 0 {
		return
	}

	body, err := json.Marshal(webhookPayload{
		ID:           alert.ID,
		HostID:       alert.HostID,
		HostName:     hostName,
		Type:         string(alert.Type),
		Severity:     string(alert.Severity),
		Title:        alert.Title,
		Message:      alert.Message,
		Timestamp:    alert.Timestamp.Unix(),
		Acknowledged: alert.Acknowledged,
	})
	if err != nil {
		log.Error().Err(err).Msg("marshal webhook payload")
		return
	}

	for _, url := range urls {
		go d.deliver(url, body)
	}
}

// deliver POSTs to one endpoint, retrying non-2xx and transport errors
// with exponential backoff.
func (d *WebhookDispatcher) deliver(url string, body []byte) {
	backoff := d.backoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = d.post(url, body)
		if lastErr == nil {
			log.Debug().Str("url", url).Int("attempt", attempt).Msg("webhook delivered")
			return
		}
		if attempt < maxAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	log.Warn().Err(lastErr).Str("url", url).Int("attempts", maxAttempts).Msg("webhook delivery failed")
}

func (d *WebhookDispatcher) post(url string, body []byte) error {
	resp, err := d.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned %s", resp.Status)
	}
	return nil
}
