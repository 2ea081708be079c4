package model

import "time"

// WebhookEvent names an event a webhook can subscribe to.
type WebhookEvent string

const (
	EventJobStarted   WebhookEvent = "job.started"
	EventJobCompleted WebhookEvent = "job.completed"
	EventJobFailed    WebhookEvent = "job.failed"
	EventJobCancelled WebhookEvent = "job.cancelled"
)

// ValidWebhookEvent reports whether e is a member of the closed event set.
func ValidWebhookEvent(e WebhookEvent) bool {
	switch e {
	case EventJobStarted, EventJobCompleted, EventJobFailed, EventJobCancelled:
		return true
	}
	return false
}

// WebhookConfig is the payload used to register a webhook.
type WebhookConfig struct {
	URL    string         `json:"url"`
	Events []WebhookEvent `json:"events"`
	Active bool           `json:"active"`
	Secret string         `json:"secret,omitempty"` // HMAC signing secret, never echoed back
}

// Webhook is a registered outbound notification target. Counters and
// LastTriggered are updated on every delivery attempt.
type Webhook struct {
	ID            string         `json:"webhook_id"`
	URL           string         `json:"url"`
	Events        []WebhookEvent `json:"events"`
	Active        bool           `json:"active"`
	CreatedAt     time.Time      `json:"created_at"`
	LastTriggered *time.Time     `json:"last_triggered,omitempty"`
	SuccessCount  int64          `json:"success_count"`
	FailureCount  int64          `json:"failure_count"`
}

// WebhookPayload is the body POSTed to webhook endpoints. When the
// registration carries a secret, the HMAC-SHA256 of this body travels in the
// X-Spigot-Signature header.
type WebhookPayload struct {
	WebhookID string                 `json:"webhook_id"`
	Event     WebhookEvent           `json:"event"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}
