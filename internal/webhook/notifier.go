package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/spigotdb/spigot/internal/model"
)

// target is one delivery destination for an event.
type target struct {
	id     string
	url    string
	secret string
}

// Notifier fans job events out to subscribed webhooks plus any per-job
// webhook URL. Deliveries are fire-and-forget: each runs in its own
// goroutine with a bounded timeout, and failures only bump counters.
type Notifier struct {
	registry *Registry
	client   *http.Client
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewNotifier creates a Notifier over the registry.
func NewNotifier(registry *Registry, logger *slog.Logger) *Notifier {
	return &Notifier{
		registry: registry,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

// JobEvent delivers the event to every matching webhook. Implements the
// scheduler's notifier contract; it must return quickly, so all network
// work is deferred to goroutines.
func (n *Notifier) JobEvent(job *model.Job, event model.WebhookEvent) {
	data := map[string]interface{}{
		"job_id":   job.ID,
		"job_type": string(job.Type),
		"status":   string(job.Status),
	}
	if job.Result != nil {
		data["result"] = job.Result
	}
	if job.Error != "" {
		data["error"] = job.Error
	}

	targets := n.registry.subscribers(event)
	if job.WebhookURL != "" && jobSubscribed(job, event) {
		targets = append(targets, target{id: "", url: job.WebhookURL})
	}

	for _, tgt := range targets {
		n.wg.Add(1)
		go func(tgt target) {
			defer n.wg.Done()
			n.deliver(tgt, event, data)
		}(tgt)
	}
}

// Wait blocks until all in-flight deliveries finish. Used in shutdown and
// tests.
func (n *Notifier) Wait() { n.wg.Wait() }

// jobSubscribed reports whether the job's per-URL subscription covers the
// event. A job that declared no event set receives completion and failure.
func jobSubscribed(job *model.Job, event model.WebhookEvent) bool {
	if len(job.WebhookEvents) == 0 {
		return event == model.EventJobCompleted || event == model.EventJobFailed
	}
	return containsEvent(job.WebhookEvents, event)
}

func (n *Notifier) deliver(tgt target, event model.WebhookEvent, data map[string]interface{}) {
	payload := model.WebhookPayload{
		WebhookID: tgt.id,
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("marshal webhook payload", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tgt.url, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("create webhook request", "url", tgt.url, "error", err)
		n.record(tgt, false)
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Spigot-Webhook/1.0")
	req.Header.Set("X-Spigot-Event", string(event))
	req.Header.Set("X-Spigot-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	if tgt.secret != "" {
		req.Header.Set("X-Spigot-Signature", Sign(body, tgt.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("webhook delivery failed", "url", tgt.url, "event", string(event), "error", err)
		n.record(tgt, false)
		return
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if ok {
		n.logger.Debug("webhook delivered", "url", tgt.url, "event", string(event), "status", resp.StatusCode)
	} else {
		n.logger.Warn("webhook returned error status", "url", tgt.url, "event", string(event), "status", resp.StatusCode)
	}
	n.record(tgt, ok)
}

func (n *Notifier) record(tgt target, ok bool) {
	if tgt.id != "" {
		n.registry.recordDelivery(tgt.id, ok)
	}
}

// Sign computes the HMAC-SHA256 signature header value for a payload.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
