package job

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/spigotdb/spigot/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// captureNotifier records lifecycle events for assertions. The done channel
// is signalled on terminal transitions only; start events are recorded but
// never awaited.
type captureNotifier struct {
	mu     sync.Mutex
	events []model.WebhookEvent
	jobs   []*model.Job
	done   chan struct{}
}

func newCaptureNotifier(expect int) *captureNotifier {
	return &captureNotifier{done: make(chan struct{}, expect)}
}

func (c *captureNotifier) JobEvent(job *model.Job, event model.WebhookEvent) {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.jobs = append(c.jobs, job)
	c.mu.Unlock()
	if event != model.EventJobStarted {
		c.done <- struct{}{}
	}
}

func (c *captureNotifier) wait(t *testing.T) (*model.Job, model.WebhookEvent) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		t.Fatal("notifier was not called")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobs[len(c.jobs)-1], c.events[len(c.events)-1]
}

func (c *captureNotifier) seen(event model.WebhookEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e == event {
			return true
		}
	}
	return false
}

func TestSubmitRunsToCompletion(t *testing.T) {
	reg := NewRegistry()
	notifier := newCaptureNotifier(1)
	s := NewScheduler(reg, 2, 8, notifier, discardLogger())
	defer s.Shutdown()

	s.Register(model.JobCustom, func(ctx context.Context, h *Handle) (map[string]interface{}, error) {
		h.SetProgress(50)
		return map[string]interface{}{"answer": 42}, nil
	})

	submitted, err := s.Submit(model.JobRequest{Type: model.JobCustom})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.Status != model.JobPending && submitted.Status != model.JobRunning && submitted.Status != model.JobCompleted {
		t.Errorf("submitted status = %q", submitted.Status)
	}

	done, event := notifier.wait(t)
	if event != model.EventJobCompleted {
		t.Errorf("event = %q, want job.completed", event)
	}
	if done.Status != model.JobCompleted {
		t.Errorf("status = %q, want completed", done.Status)
	}
	if done.Progress != 100 {
		t.Errorf("progress = %v, want 100", done.Progress)
	}
	if done.Result["answer"] != 42 {
		t.Errorf("result = %v", done.Result)
	}
	if done.StartedAt == nil || done.CompletedAt == nil {
		t.Error("timestamps not set")
	}
}

func TestSubmitRejectsUnknownType(t *testing.T) {
	s := NewScheduler(NewRegistry(), 1, 1, nil, discardLogger())
	defer s.Shutdown()

	if _, err := s.Submit(model.JobRequest{Type: "bogus"}); err == nil {
		t.Error("expected error for unknown job type")
	}
}

func TestExecutorErrorFailsJob(t *testing.T) {
	reg := NewRegistry()
	notifier := newCaptureNotifier(1)
	s := NewScheduler(reg, 1, 4, notifier, discardLogger())
	defer s.Shutdown()

	s.Register(model.JobCustom, func(ctx context.Context, h *Handle) (map[string]interface{}, error) {
		return nil, errors.New("boom")
	})

	if _, err := s.Submit(model.JobRequest{Type: model.JobCustom}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	done, event := notifier.wait(t)
	if event != model.EventJobFailed {
		t.Errorf("event = %q, want job.failed", event)
	}
	if done.Status != model.JobFailed || done.Error != "boom" {
		t.Errorf("status = %q error = %q", done.Status, done.Error)
	}
}

func TestExecutorPanicBecomesFailure(t *testing.T) {
	reg := NewRegistry()
	notifier := newCaptureNotifier(1)
	s := NewScheduler(reg, 1, 4, notifier, discardLogger())
	defer s.Shutdown()

	s.Register(model.JobCustom, func(ctx context.Context, h *Handle) (map[string]interface{}, error) {
		panic("kaboom")
	})

	if _, err := s.Submit(model.JobRequest{Type: model.JobCustom}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	done, _ := notifier.wait(t)
	if done.Status != model.JobFailed {
		t.Errorf("status = %q, want failed", done.Status)
	}
	if done.Error == "" {
		t.Error("panic not recorded as error")
	}
}

func TestFailedJobCarriesNoResult(t *testing.T) {
	reg := NewRegistry()
	notifier := newCaptureNotifier(1)
	s := NewScheduler(reg, 1, 4, notifier, discardLogger())
	defer s.Shutdown()

	// An executor may hand back a partial map alongside its error; the
	// record must not keep it.
	s.Register(model.JobCustom, func(ctx context.Context, h *Handle) (map[string]interface{}, error) {
		return map[string]interface{}{"partial": true}, errors.New("halfway")
	})

	if _, err := s.Submit(model.JobRequest{Type: model.JobCustom}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	done, event := notifier.wait(t)
	if event != model.EventJobFailed {
		t.Fatalf("event = %q, want job.failed", event)
	}
	if done.Result != nil {
		t.Errorf("failed job result = %v, want nil", done.Result)
	}
	if done.Error != "halfway" {
		t.Errorf("error = %q", done.Error)
	}
}

func TestLifecycleEventsReachNotifier(t *testing.T) {
	reg := NewRegistry()
	notifier := newCaptureNotifier(2)
	s := NewScheduler(reg, 1, 4, notifier, discardLogger())
	defer s.Shutdown()

	started := make(chan struct{})
	release := make(chan struct{})
	s.Register(model.JobCustom, func(ctx context.Context, h *Handle) (map[string]interface{}, error) {
		close(started)
		<-release
		if h.Cancelled() {
			return nil, ErrCancelled
		}
		return nil, nil
	})

	submitted, err := s.Submit(model.JobRequest{Type: model.JobCustom})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started
	if !notifier.seen(model.EventJobStarted) {
		t.Error("job.started was not announced")
	}

	if err := reg.Cancel(submitted.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	close(release)
	s.Shutdown()

	done, event := notifier.wait(t)
	if event != model.EventJobCancelled {
		t.Errorf("event = %q, want job.cancelled", event)
	}
	if done.Status != model.JobCancelled {
		t.Errorf("status = %q, want cancelled", done.Status)
	}
}

func TestSubscribedEventsCarriedOntoRecord(t *testing.T) {
	reg := NewRegistry()
	rec := reg.create(model.JobRequest{
		Type:          model.JobCustom,
		WebhookURL:    "https://example.com/hook",
		WebhookEvents: []model.WebhookEvent{model.EventJobCompleted},
	})

	got, err := reg.Get(rec.job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.WebhookEvents) != 1 || got.WebhookEvents[0] != model.EventJobCompleted {
		t.Errorf("webhook events = %v, want [job.completed]", got.WebhookEvents)
	}
}

func TestCancelRunningJobIsNotOverwritten(t *testing.T) {
	reg := NewRegistry()
	s := NewScheduler(reg, 1, 4, nil, discardLogger())
	defer s.Shutdown()

	started := make(chan string)
	release := make(chan struct{})
	s.Register(model.JobCustom, func(ctx context.Context, h *Handle) (map[string]interface{}, error) {
		started <- h.ID()
		<-release
		if h.Cancelled() {
			return nil, ErrCancelled
		}
		return map[string]interface{}{}, nil
	})

	submitted, err := s.Submit(model.JobRequest{Type: model.JobCustom})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	id := <-started
	if id != submitted.ID {
		t.Fatalf("started id = %q, want %q", id, submitted.ID)
	}

	if err := reg.Cancel(id); err != nil {
		t.Fatalf("cancel running job: %v", err)
	}
	close(release)
	s.Shutdown()

	got, err := reg.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.JobCancelled {
		t.Errorf("status = %q, want cancelled", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set on cancellation")
	}

	// Cancelling a terminal job is rejected.
	if err := reg.Cancel(id); !errors.Is(err, ErrInvalidState) {
		t.Errorf("cancel terminal job: err = %v, want ErrInvalidState", err)
	}
}

func TestCancelledWhileQueuedNeverRuns(t *testing.T) {
	reg := NewRegistry()
	s := NewScheduler(reg, 1, 4, nil, discardLogger())

	block := make(chan struct{})
	var ran sync.Map
	s.Register(model.JobCustom, func(ctx context.Context, h *Handle) (map[string]interface{}, error) {
		ran.Store(h.ID(), true)
		<-block
		return nil, nil
	})

	// First job occupies the only worker.
	first, err := s.Submit(model.JobRequest{Type: model.JobCustom})
	if err != nil {
		t.Fatalf("submit first: %v", err)
	}
	// Wait for the first job to actually start.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := ran.Load(first.ID); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first job never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Second job waits in the queue; cancel it there.
	second, err := s.Submit(model.JobRequest{Type: model.JobCustom})
	if err != nil {
		t.Fatalf("submit second: %v", err)
	}
	if err := reg.Cancel(second.ID); err != nil {
		t.Fatalf("cancel queued job: %v", err)
	}

	close(block)
	s.Shutdown()

	if _, ok := ran.Load(second.ID); ok {
		t.Error("cancelled queued job was executed")
	}
	got, _ := reg.Get(second.ID)
	if got.Status != model.JobCancelled {
		t.Errorf("status = %q, want cancelled", got.Status)
	}
}

func TestSubmitFailsFastWhenQueueFull(t *testing.T) {
	reg := NewRegistry()
	s := NewScheduler(reg, 1, 1, nil, discardLogger())

	block := make(chan struct{})
	s.Register(model.JobCustom, func(ctx context.Context, h *Handle) (map[string]interface{}, error) {
		<-block
		return nil, nil
	})

	// Fill the worker and then the queue.
	if _, err := s.Submit(model.JobRequest{Type: model.JobCustom}); err != nil {
		t.Fatalf("submit 1: %v", err)
	}
	// The single worker may or may not have dequeued yet, so saturation can
	// take one extra submission.
	var overflow *model.Job
	var err error
	for i := 0; i < 3; i++ {
		overflow, err = s.Submit(model.JobRequest{Type: model.JobCustom})
		if err != nil {
			break
		}
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	_ = overflow

	// The rejected submission must be visible as Failed, not Pending.
	var failed int
	for _, j := range reg.List("", "", 0) {
		if j.Status == model.JobFailed && j.Error == ErrQueueFull.Error() {
			failed++
		}
	}
	if failed == 0 {
		t.Error("queue-full rejection not recorded as failed job")
	}

	close(block)
	s.Shutdown()
}

func TestListFiltersAndOrders(t *testing.T) {
	reg := NewRegistry()

	a := reg.create(model.JobRequest{Type: model.JobDataImport})
	time.Sleep(2 * time.Millisecond)
	b := reg.create(model.JobRequest{Type: model.JobCustom})

	all := reg.List("", "", 0)
	if len(all) != 2 {
		t.Fatalf("len = %d, want 2", len(all))
	}
	if all[0].ID != b.job.ID || all[1].ID != a.job.ID {
		t.Error("list not newest-first")
	}

	imports := reg.List("", model.JobDataImport, 0)
	if len(imports) != 1 || imports[0].ID != a.job.ID {
		t.Errorf("type filter returned %d jobs", len(imports))
	}

	if got := reg.List(model.JobRunning, "", 0); len(got) != 0 {
		t.Errorf("status filter returned %d jobs, want 0", len(got))
	}

	if got := reg.List("", "", 1); len(got) != 1 {
		t.Errorf("limit returned %d jobs, want 1", len(got))
	}
}

func TestGetUnknownJob(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
