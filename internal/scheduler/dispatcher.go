package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"rollcall/internal/types"
)

const (
	// DefaultSubmitTimeout bounds one submission attempt.
	DefaultSubmitTimeout = 3 * time.Minute
	// DefaultShutdownGrace is how long Run waits for in-flight firings after
	// its context is cancelled.
	DefaultShutdownGrace = 30 * time.Second
	// notifyTimeout bounds a single notification call.
	notifyTimeout = 15 * time.Second
	// idleWait is the timer period when the queue is empty.
	idleWait = time.Hour
)

// OutcomeMissedWindow is stored on jobs that were dispatched after their
// window had closed.
const OutcomeMissedWindow = "missed window"

// Recorder persists dispatcher transitions. *Planner implements it so that
// firing records are serialized with re-planning.
type Recorder interface {
	RecordFiring(ctx context.Context, job types.PlannedJob) error
	UpdateState(ctx context.Context, job types.PlannedJob, state types.JobState, outcome string) error
}

// DispatcherConfig holds the dependencies of a Dispatcher.
type DispatcherConfig struct {
	Recorder      Recorder
	Submitter     types.Submitter
	Notifier      types.Notifier
	Clock         types.Clock
	Metrics       Metrics
	Location      *time.Location
	Locale        types.Locale
	SubmitTimeout time.Duration
	ShutdownGrace time.Duration
	Logger        *slog.Logger
}

// Dispatcher holds planned jobs in a min-heap keyed by firing time and fires
// each one exactly once from its own goroutine when its time comes.
type Dispatcher struct {
	recorder      Recorder
	submitter     types.Submitter
	notifier      types.Notifier
	clock         types.Clock
	metrics       Metrics
	loc           *time.Location
	msgs          types.Messages
	submitTimeout time.Duration
	shutdownGrace time.Duration
	logger        *slog.Logger

	mu    sync.Mutex
	queue jobQueue
	// known maps the ID of every job handed to Schedule to its firing time,
	// until Forget drops it.
	known map[string]time.Time

	wake     chan struct{}
	fatal    chan error
	inflight sync.WaitGroup
}

// NewDispatcher creates a Dispatcher with the given configuration.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Recorder == nil || cfg.Submitter == nil {
		return nil, fmt.Errorf("dispatcher: recorder and submitter are required")
	}
	d := &Dispatcher{
		recorder:      cfg.Recorder,
		submitter:     cfg.Submitter,
		notifier:      cfg.Notifier,
		clock:         cfg.Clock,
		metrics:       cfg.Metrics,
		loc:           cfg.Location,
		msgs:          types.MessagesFor(cfg.Locale),
		submitTimeout: cfg.SubmitTimeout,
		shutdownGrace: cfg.ShutdownGrace,
		logger:        cfg.Logger,
		known:         make(map[string]time.Time),
		wake:          make(chan struct{}, 1),
		fatal:         make(chan error, 1),
	}
	if d.clock == nil {
		d.clock = types.RealClock{}
	}
	if d.metrics == nil {
		d.metrics = NoopMetrics{}
	}
	if d.loc == nil {
		d.loc = time.UTC
	}
	if d.submitTimeout <= 0 {
		d.submitTimeout = DefaultSubmitTimeout
	}
	if d.shutdownGrace <= 0 {
		d.shutdownGrace = DefaultShutdownGrace
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d, nil
}

// Schedule registers jobs for firing. Jobs already known to the dispatcher
// and jobs that are no longer scheduled are ignored.
func (d *Dispatcher) Schedule(jobs ...types.PlannedJob) {
	d.mu.Lock()
	added := 0
	for _, j := range jobs {
		if _, seen := d.known[j.ID]; seen || j.State != types.JobScheduled {
			continue
		}
		d.known[j.ID] = j.FiringTime
		heap.Push(&d.queue, j)
		added++
	}
	d.mu.Unlock()

	if added > 0 {
		select {
		case d.wake <- struct{}{}:
		default:
		}
	}
}

// Forget drops the IDs of jobs that fired before cutoff. Those jobs are
// pruned from the store and will never be scheduled again.
func (d *Dispatcher) Forget(cutoff time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, firing := range d.known {
		if firing.Before(cutoff) {
			delete(d.known, id)
		}
	}
}

// Pending returns the jobs waiting for their firing time, earliest first.
func (d *Dispatcher) Pending() []types.PlannedJob {
	d.mu.Lock()
	out := make([]types.PlannedJob, len(d.queue))
	copy(out, d.queue)
	d.mu.Unlock()
	SortJobs(out)
	return out
}

// Run fires due jobs until ctx is cancelled or a firing reports a fatal
// error. On cancellation it waits up to the shutdown grace for in-flight
// firings; the ones still running afterwards are abandoned.
func (d *Dispatcher) Run(ctx context.Context) error {
	// Firings outlive ctx so that a shutdown does not cut a submission in half.
	jobCtx := context.WithoutCancel(ctx)

	timer := time.NewTimer(idleWait)
	defer timer.Stop()

	for {
		wait := d.fireDue(jobCtx)
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			d.drain()
			return nil
		case err := <-d.fatal:
			d.drain()
			return err
		case <-d.wake:
		case <-timer.C:
		}
	}
}

// fireDue launches every job whose firing time has come and returns how long
// to sleep until the next one.
func (d *Dispatcher) fireDue(ctx context.Context) time.Duration {
	now := d.clock.Now()

	d.mu.Lock()
	var due []types.PlannedJob
	for len(d.queue) > 0 && !d.queue[0].FiringTime.After(now) {
		due = append(due, heap.Pop(&d.queue).(types.PlannedJob))
	}
	wait := idleWait
	if len(d.queue) > 0 {
		wait = d.queue[0].FiringTime.Sub(now)
	}
	d.mu.Unlock()

	for _, job := range due {
		d.inflight.Add(1)
		go func(job types.PlannedJob) {
			defer d.inflight.Done()
			d.fire(ctx, job)
		}(job)
	}
	return wait
}

func (d *Dispatcher) fire(ctx context.Context, job types.PlannedJob) {
	ctx = types.WithJobID(ctx, job.ID)
	label := job.Session.Label(d.loc)
	attrs := append(types.LogAttrs(ctx), "session", job.Key.Name)

	now := d.clock.Now()
	if now.After(job.Window.End) {
		d.logger.WarnContext(ctx, "firing time passed after window closed",
			append(attrs, "window_end", job.Window.End.In(d.loc).Format(types.TimeOfDayLayout))...)
		d.transition(ctx, job, types.JobFailed, OutcomeMissedWindow)
		d.metrics.RecordFiring(ctx, types.JobFailed, 0)
		d.notify(ctx, d.msgs.Missed(label))
		return
	}

	d.transition(ctx, job, types.JobFiring, "")
	if err := d.recorder.RecordFiring(ctx, job); err != nil {
		d.logger.ErrorContext(ctx, "failed to record firing", append(attrs, "error", err)...)
	}
	d.logger.InfoContext(ctx, d.msgs.Starting(label, now.In(d.loc).Format(types.TimeOfDayLayout)), attrs...)

	started := d.clock.Now()
	err := d.submit(ctx, job.Session)
	latency := d.clock.Now().Sub(started)

	if err != nil {
		d.logger.WarnContext(ctx, d.msgs.Failed(label), append(attrs, "error", err)...)
		d.transition(ctx, job, types.JobFailed, err.Error())
		d.metrics.RecordFiring(ctx, types.JobFailed, latency)
		d.notify(ctx, d.msgs.Failed(label))

		if types.IsFatal(err) {
			select {
			case d.fatal <- err:
			default:
			}
		}
		return
	}

	d.logger.InfoContext(ctx, d.msgs.Succeeded(label), attrs...)
	d.transition(ctx, job, types.JobSucceeded, "")
	d.metrics.RecordFiring(ctx, types.JobSucceeded, latency)
	d.notify(ctx, d.msgs.Succeeded(label))
}

// submit calls the submitter with a deadline and stops waiting once the
// deadline passes, even if the submitter ignores its context.
func (d *Dispatcher) submit(ctx context.Context, s types.Session) error {
	ctx, cancel := context.WithTimeout(ctx, d.submitTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- types.NewAppError(types.ErrCodeSubmissionFailed,
					"submitter panicked", fmt.Errorf("%v", r))
			}
		}()
		done <- d.submitter.Submit(ctx, s)
	}()

	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) {
			return types.NewAppError(types.ErrCodeSubmissionTimeout, "submission timed out", err)
		}
		return err
	case <-ctx.Done():
		return types.NewAppError(types.ErrCodeSubmissionTimeout,
			fmt.Sprintf("submission did not return within %s", d.submitTimeout), ctx.Err())
	}
}

func (d *Dispatcher) transition(ctx context.Context, job types.PlannedJob, state types.JobState, outcome string) {
	if err := d.recorder.UpdateState(ctx, job, state, outcome); err != nil {
		d.logger.ErrorContext(ctx, "failed to update job state",
			append(types.LogAttrs(ctx), "state", string(state), "error", err)...)
	}
}

func (d *Dispatcher) notify(ctx context.Context, message string) {
	if d.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := d.notifier.Notify(ctx, message); err != nil {
		d.logger.WarnContext(ctx, "notification failed", append(types.LogAttrs(ctx), "error", err)...)
	}
}

func (d *Dispatcher) drain() {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(d.shutdownGrace):
		d.logger.Warn("abandoning in-flight firings after shutdown grace",
			"grace", d.shutdownGrace.String())
	}
}

// jobQueue is a min-heap of jobs ordered by firing time.
type jobQueue []types.PlannedJob

func (q jobQueue) Len() int { return len(q) }
func (q jobQueue) Less(i, j int) bool {
	return q[i].FiringTime.Before(q[j].FiringTime)
}
func (q jobQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *jobQueue) Push(x any) { *q = append(*q, x.(types.PlannedJob)) }

func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
