package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spigotdb/spigot/internal/model"
)

// Handle is the executor's view of a running job: parameters in, progress
// and log lines out, plus the cancellation checkpoint.
type Handle struct {
	rec *record
}

// ID returns the job id.
func (h *Handle) ID() string { return h.rec.job.ID }

// Parameters returns the job's input payload.
func (h *Handle) Parameters() map[string]interface{} {
	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	return h.rec.job.Parameters
}

// Cancelled reports whether the job was cancelled externally. Executors
// should poll this between chunks of work and return promptly when set.
func (h *Handle) Cancelled() bool { return h.rec.cancelled() }

// SetProgress records completion percentage, clamped to [0, 100].
func (h *Handle) SetProgress(pct float64) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	h.rec.mu.Lock()
	if !h.rec.job.Status.Terminal() {
		h.rec.job.Progress = pct
	}
	h.rec.mu.Unlock()
}

// Logf appends a formatted line to the job's trace log.
func (h *Handle) Logf(format string, args ...interface{}) {
	h.rec.appendLog(fmt.Sprintf(format, args...))
}

// Executor performs the type-specific work of a job. The returned map
// becomes the job's result payload on success.
type Executor func(ctx context.Context, h *Handle) (map[string]interface{}, error)

// Notifier receives job lifecycle transitions. Implementations must not
// block; the scheduler calls it from the worker after the transition is
// already recorded.
type Notifier interface {
	JobEvent(job *model.Job, event model.WebhookEvent)
}

// Scheduler owns the bounded worker pool that executes submitted jobs.
// Submission enqueues and returns immediately; a fixed number of workers
// drain the queue, so excess submissions wait in the channel rather than
// spawning unbounded work.
type Scheduler struct {
	registry  *Registry
	executors map[model.JobType]Executor
	notifier  Notifier
	logger    *slog.Logger

	queue    chan *record
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewScheduler creates a scheduler with the given pool geometry. Executors
// are registered per job type with Register before Start.
func NewScheduler(registry *Registry, workers, queueSize int, notifier Notifier, logger *slog.Logger) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		registry:  registry,
		executors: make(map[model.JobType]Executor),
		notifier:  notifier,
		logger:    logger,
		queue:     make(chan *record, queueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
	registry.notifier = notifier
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Register installs the executor for a job type, replacing any previous one.
func (s *Scheduler) Register(t model.JobType, exec Executor) {
	s.executors[t] = exec
}

// Submit creates a Pending job and hands it to the pool. It never blocks on
// execution: when the queue is saturated it fails fast with ErrQueueFull
// instead of stalling the request path.
func (s *Scheduler) Submit(req model.JobRequest) (*model.Job, error) {
	if !model.ValidJobType(req.Type) {
		return nil, fmt.Errorf("unknown job type %q", req.Type)
	}
	select {
	case <-s.ctx.Done():
		return nil, fmt.Errorf("scheduler is shut down")
	default:
	}

	rec := s.registry.create(req)
	select {
	case s.queue <- rec:
	default:
		// Roll the record into Failed so the caller is not left with a
		// Pending job nothing will ever run.
		now := time.Now().UTC()
		rec.mu.Lock()
		rec.job.Status = model.JobFailed
		rec.job.Error = ErrQueueFull.Error()
		rec.job.CompletedAt = &now
		rec.mu.Unlock()
		if s.notifier != nil {
			s.notifier.JobEvent(rec.snapshot(), model.EventJobFailed)
		}
		return nil, ErrQueueFull
	}
	return rec.snapshot(), nil
}

// Shutdown stops accepting queued work and waits for in-flight jobs. Safe
// to call more than once.
func (s *Scheduler) Shutdown() {
	s.stopOnce.Do(func() {
		s.cancel()
		close(s.queue)
	})
	s.wg.Wait()
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for rec := range s.queue {
		s.run(rec)
	}
}

// run drives one job through the state machine. The worker owns all status
// mutation except the externally-set Cancelled, which it must observe and
// never overwrite.
func (s *Scheduler) run(rec *record) {
	rec.mu.Lock()
	if rec.job.Status != model.JobPending {
		// Cancelled while queued; leave the record as the caller set it.
		rec.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	rec.job.Status = model.JobRunning
	rec.job.StartedAt = &now
	rec.job.Logs = append(rec.job.Logs, fmt.Sprintf("job %s started", rec.job.ID))
	jobType := rec.job.Type
	rec.mu.Unlock()

	if s.notifier != nil {
		s.notifier.JobEvent(rec.snapshot(), model.EventJobStarted)
	}

	exec, ok := s.executors[jobType]
	if !ok {
		s.finish(rec, nil, fmt.Errorf("no executor registered for job type %q", jobType))
		return
	}

	result, err := s.safeExecute(exec, rec)
	s.finish(rec, result, err)
}

// safeExecute runs the executor with panics converted to errors; a worker
// fault must land in the job record, never escape into the pool.
func (s *Scheduler) safeExecute(exec Executor, rec *record) (result map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return exec(s.ctx, &Handle{rec: rec})
}

func (s *Scheduler) finish(rec *record, result map[string]interface{}, err error) {
	rec.mu.Lock()
	if rec.job.Status == model.JobCancelled {
		// The caller's cancellation stands; record the observation only.
		rec.job.Logs = append(rec.job.Logs, fmt.Sprintf("job %s worker observed cancellation", rec.job.ID))
		rec.mu.Unlock()
		return
	}

	now := time.Now().UTC()
	rec.job.CompletedAt = &now
	var event model.WebhookEvent
	if err != nil {
		// A failed job carries no result payload; partial counts live in
		// the error message and the trace log.
		rec.job.Status = model.JobFailed
		rec.job.Error = err.Error()
		rec.job.Logs = append(rec.job.Logs, fmt.Sprintf("job %s failed: %v", rec.job.ID, err))
		event = model.EventJobFailed
	} else {
		rec.job.Status = model.JobCompleted
		rec.job.Progress = 100
		rec.job.Result = result
		rec.job.Logs = append(rec.job.Logs, fmt.Sprintf("job %s completed", rec.job.ID))
		event = model.EventJobCompleted
	}
	rec.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("job finished", "job_id", rec.job.ID, "status", string(event))
	}
	if s.notifier != nil {
		s.notifier.JobEvent(rec.snapshot(), event)
	}
}
