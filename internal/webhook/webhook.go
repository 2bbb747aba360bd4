package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/config"
	"github.com/therealutkarshpriyadarshi/hlsbatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsbatch/pkg/models"
)

const (
	defaultTimeout = 10 * time.Second
	// maxResponseBody bounds how much of a failed response is kept in errors
	maxResponseBody = 512
)

// Notifier posts conversion results to configured endpoints
type Notifier struct {
	client *http.Client
	urls   []string
	secret string
	logger *logging.Logger
}

// NewNotifier creates a notifier for cfg. It returns nil when no endpoint
// is configured.
func NewNotifier(cfg config.WebhookConfig, logger *logging.Logger) *Notifier {
	if len(cfg.URLs) == 0 {
		return nil
	}
	if logger == nil {
		logger = logging.Nop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Notifier{
		client: &http.Client{Timeout: timeout},
		urls:   cfg.URLs,
		secret: cfg.Secret,
		logger: logger,
	}
}

// NotifyConversion delivers result to every endpoint once. Endpoints are
// independent; the returned error joins all delivery failures.
func (n *Notifier) NotifyConversion(ctx context.Context, result *models.ConversionResult) error {
	event := models.WebhookEventConversionCompleted
	if result.Skipped {
		event = models.WebhookEventConversionSkipped
	}

	payload, err := json.Marshal(models.WebhookEvent{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data:      result,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	var errs []error
	for _, url := range n.urls {
		deliveryID := uuid.New().String()
		if err := n.deliver(ctx, url, event, deliveryID, payload); err != nil {
			n.logger.WithFields(map[string]interface{}{
				"url":         url,
				"delivery_id": deliveryID,
			}).WarnWithErr("Webhook delivery failed", err)
			errs = append(errs, err)
			continue
		}
		n.logger.WithField("url", url).Debug("Webhook delivered")
	}

	return errors.Join(errs...)
}

func (n *Notifier) deliver(ctx context.Context, url, event, deliveryID string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", url, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "HLSBatch-Webhook/1.0")
	req.Header.Set("X-Webhook-Event", event)
	req.Header.Set("X-Webhook-Delivery", deliveryID)
	if n.secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(payload, n.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		return fmt.Errorf("webhook %s answered %d: %s", url, resp.StatusCode, bytes.TrimSpace(body))
	}
	io.Copy(io.Discard, resp.Body)

	return nil
}

// Sign returns the HMAC-SHA256 signature header value for payload
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
