package models

import "time"

// WebhookEvent is the envelope posted to webhook receivers
type WebhookEvent struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Webhook event types
const (
	WebhookEventConversionCompleted = "conversion.completed"
	WebhookEventConversionSkipped   = "conversion.skipped"
)
