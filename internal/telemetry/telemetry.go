package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	posthogEndpoint = "https://us.i.posthog.com/capture/"
	posthogKey      = "phx_7Kd2xWqPmVgTbYhNcRzJfLsA9EuQ3OvBnHi4CjXeD0MtpSw"
	flushInterval   = 1 * time.Hour
	httpTimeout     = 3 * time.Second
)

// Properties holds the anonymous usage payload sent on each heartbeat.
type Properties struct {
	Version   string   `json:"version"`
	GoVersion string   `json:"go_version"`
	OS        string   `json:"os"`
	Arch      string   `json:"arch"`
	DBTypes   []string `json:"db_types"`
	Services  int      `json:"service_count"`
	APIKeys   int      `json:"api_key_count"`
	Webhooks  int      `json:"webhook_count"`
	Jobs      int      `json:"job_count"`
	Features  []string `json:"features"`
	UptimeHrs float64  `json:"uptime_hours"`
}

// PropertiesFunc is called each flush to gather current state.
type PropertiesFunc func() Properties

// Tracker manages anonymous telemetry reporting to PostHog.
type Tracker struct {
	instanceID string
	propsFn    PropertiesFunc
	client     *http.Client
	startedAt  time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Tracker. The instance ID is loaded from (or written to) a
// small file under stateDir so the same installation reports a stable
// anonymous identity. Returns nil if telemetry is disabled via SPIGOT_TELEMETRY.
func New(stateDir string, propsFn PropertiesFunc) *Tracker {
	switch os.Getenv("SPIGOT_TELEMETRY") {
	case "0", "false", "off":
		return nil
	}

	return &Tracker{
		instanceID: resolveInstanceID(stateDir),
		propsFn:    propsFn,
		client:     &http.Client{Timeout: httpTimeout},
		startedAt:  time.Now(),
		stop:       make(chan struct{}),
	}
}

// Start begins the background telemetry loop. It sends an initial event
// immediately and then repeats every hour. Non-blocking.
func (t *Tracker) Start() {
	if t == nil {
		return
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		t.flush()

		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				t.flush()
			case <-t.stop:
				return
			}
		}
	}()
}

// Shutdown stops the background loop and sends a final event.
func (t *Tracker) Shutdown() {
	if t == nil {
		return
	}
	close(t.stop)
	t.wg.Wait()
	t.flush()
}

func (t *Tracker) flush() {
	props := t.propsFn()
	props.UptimeHrs = time.Since(t.startedAt).Hours()
	t.capture("server_heartbeat", props)
}

func (t *Tracker) capture(event string, props Properties) {
	payload := map[string]any{
		"api_key":     posthogKey,
		"event":       event,
		"distinct_id": t.instanceID,
		"properties":  props,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return // fail silently
	}

	req, err := http.NewRequest("POST", posthogEndpoint, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return // fail silently — network issues are expected
	}
	resp.Body.Close()
}

// resolveInstanceID loads or generates a persistent anonymous instance ID.
// If the state dir is unwritable the ID is ephemeral for this process.
func resolveInstanceID(stateDir string) string {
	path := filepath.Join(stateDir, "instance_id")

	if raw, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(raw)); id != "" {
			return id
		}
	}

	id := uuid.New().String()
	if err := os.MkdirAll(stateDir, 0o755); err == nil {
		_ = os.WriteFile(path, []byte(id+"\n"), 0o644)
	}
	return id
}

// PrintNotice prints the first-run telemetry notice to stderr.
func PrintNotice() {
	fmt.Fprintln(os.Stderr,
		"Anonymous usage stats are enabled to help improve Spigot.",
	)
	fmt.Fprintln(os.Stderr,
		"Disable with: SPIGOT_TELEMETRY=0",
	)
	fmt.Fprintln(os.Stderr)
}
