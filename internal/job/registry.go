// Package job tracks asynchronous jobs through their status state machine
// and executes them on a bounded worker pool.
package job

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spigotdb/spigot/internal/model"
)

var (
	// ErrNotFound is returned when no job matches the given id.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidState is returned when an operation is not valid for the
	// job's current status, such as cancelling a terminal job.
	ErrInvalidState = errors.New("operation not valid in current job state")

	// ErrQueueFull is returned by Submit when the worker queue is saturated.
	ErrQueueFull = errors.New("job queue is full")
)

// record is the internal mutable state of one job. The executing worker owns
// all mutation; the mutex exists because cancellation and read projections
// come from other goroutines.
type record struct {
	mu  sync.Mutex
	job model.Job
}

// snapshot returns a copy safe to hand to callers.
func (r *record) snapshot() *model.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := r.job
	cp.Logs = append([]string(nil), r.job.Logs...)
	return &cp
}

func (r *record) appendLog(line string) {
	r.mu.Lock()
	r.job.Logs = append(r.job.Logs, line)
	r.mu.Unlock()
}

// cancelled reports whether an external caller has moved the job to
// Cancelled. Workers poll this at safe checkpoints.
func (r *record) cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.Status == model.JobCancelled
}

// Registry holds job records and serves read projections. Mutation beyond
// creation goes through the scheduler's worker or Cancel. The notifier is
// installed by the scheduler so Cancel can announce the transition.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*record

	notifier Notifier
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*record)}
}

// create inserts a new Pending record for the request.
func (reg *Registry) create(req model.JobRequest) *record {
	priority := req.Priority
	if priority < 1 || priority > 10 {
		priority = 5
	}

	rec := &record{job: model.Job{
		ID:            uuid.NewString(),
		Type:          req.Type,
		Status:        model.JobPending,
		Priority:      priority,
		Parameters:    req.Parameters,
		CreatedAt:     time.Now().UTC(),
		WebhookURL:    req.WebhookURL,
		WebhookEvents: req.WebhookEvents,
	}}
	rec.job.Logs = []string{fmt.Sprintf("job %s created", rec.job.ID)}

	reg.mu.Lock()
	reg.jobs[rec.job.ID] = rec
	reg.mu.Unlock()
	return rec
}

// Get returns a snapshot of the job with the given id.
func (reg *Registry) Get(id string) (*model.Job, error) {
	reg.mu.RLock()
	rec, ok := reg.jobs[id]
	reg.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return rec.snapshot(), nil
}

// List returns job snapshots newest-created-first, optionally filtered by
// status and type, truncated to limit when limit > 0.
func (reg *Registry) List(status model.JobStatus, jobType model.JobType, limit int) []*model.Job {
	reg.mu.RLock()
	recs := make([]*record, 0, len(reg.jobs))
	for _, rec := range reg.jobs {
		recs = append(recs, rec)
	}
	reg.mu.RUnlock()

	out := make([]*model.Job, 0, len(recs))
	for _, rec := range recs {
		snap := rec.snapshot()
		if status != "" && snap.Status != status {
			continue
		}
		if jobType != "" && snap.Type != jobType {
			continue
		}
		out = append(out, snap)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Cancel transitions a non-terminal job to Cancelled. Cancellation is
// advisory: the worker observes the flag at checkpoints and abandons the
// job without overwriting the status. Terminal jobs yield ErrInvalidState.
func (reg *Registry) Cancel(id string) error {
	reg.mu.RLock()
	rec, ok := reg.jobs[id]
	reg.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	rec.mu.Lock()
	if rec.job.Status.Terminal() {
		rec.mu.Unlock()
		return ErrInvalidState
	}
	now := time.Now().UTC()
	rec.job.Status = model.JobCancelled
	rec.job.CompletedAt = &now
	rec.job.Logs = append(rec.job.Logs, fmt.Sprintf("job %s cancelled by user", rec.job.ID))
	rec.mu.Unlock()

	if reg.notifier != nil {
		reg.notifier.JobEvent(rec.snapshot(), model.EventJobCancelled)
	}
	return nil
}
