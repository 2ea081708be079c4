// Package webhook delivers signed event notifications to registered HTTP
// endpoints when async jobs reach a terminal state.
package webhook

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spigotdb/spigot/internal/model"
)

// ErrNotFound is returned when a webhook id is unknown.
var ErrNotFound = errors.New("webhook not found")

// entry pairs the public webhook record with its signing secret, which is
// never exposed through the API after registration.
type entry struct {
	hook   model.Webhook
	secret string
}

// Registry is the in-memory set of registered webhooks.
type Registry struct {
	mu    sync.RWMutex
	hooks map[string]*entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[string]*entry)}
}

// Register validates the config and stores a new webhook.
func (r *Registry) Register(cfg model.WebhookConfig) (*model.Webhook, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook url %q", cfg.URL)
	}
	for _, ev := range cfg.Events {
		if !model.ValidWebhookEvent(ev) {
			return nil, fmt.Errorf("unknown webhook event %q", ev)
		}
	}

	hook := model.Webhook{
		ID:        uuid.NewString(),
		URL:       cfg.URL,
		Events:    cfg.Events,
		Active:    cfg.Active,
		CreatedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.hooks[hook.ID] = &entry{hook: hook, secret: cfg.Secret}
	r.mu.Unlock()

	out := hook
	return &out, nil
}

// Get returns a webhook by id.
func (r *Registry) Get(id string) (*model.Webhook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.hooks[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := e.hook
	return &out, nil
}

// List returns all webhooks, newest first.
func (r *Registry) List() []*model.Webhook {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Webhook, 0, len(r.hooks))
	for _, e := range r.hooks {
		h := e.hook
		out = append(out, &h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Unregister removes a webhook.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.hooks[id]; !ok {
		return ErrNotFound
	}
	delete(r.hooks, id)
	return nil
}

// subscribers returns the active webhooks subscribed to the event along
// with their secrets. An empty event list subscribes to everything.
func (r *Registry) subscribers(event model.WebhookEvent) []target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []target
	for _, e := range r.hooks {
		if !e.hook.Active {
			continue
		}
		if len(e.hook.Events) > 0 && !containsEvent(e.hook.Events, event) {
			continue
		}
		out = append(out, target{id: e.hook.ID, url: e.hook.URL, secret: e.secret})
	}
	return out
}

// recordDelivery updates the delivery counters after an attempt.
func (r *Registry) recordDelivery(id string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, found := r.hooks[id]
	if !found {
		return
	}
	now := time.Now().UTC()
	e.hook.LastTriggered = &now
	if ok {
		e.hook.SuccessCount++
	} else {
		e.hook.FailureCount++
	}
}

func containsEvent(events []model.WebhookEvent, event model.WebhookEvent) bool {
	for _, e := range events {
		if e == event {
			return true
		}
	}
	return false
}
