package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"docrag/internal/contextutil"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
)

const defaultMaxAttempts = 3

// ErrRunnerClosed is returned when scheduling on a released Runner.
var ErrRunnerClosed = errors.New("runner is closed")

// Handler processes one job. A returned error is terminal for the job.
type Handler func(ctx context.Context, job Job) error

// FailureFunc is called once a job is given up, with the reason recorded
// in its dead letter.
type FailureFunc func(ctx context.Context, job Job, reason string)

// Runner drains the queue on a bounded goroutine pool.
// Jobs stay persisted until their handler returns, so a crash leaves them
// for Recover on the next start. Scheduling never waits for a free worker:
// accepted jobs go to an in-memory backlog that a single dispatcher feeds
// into the pool.
type Runner struct {
	queue       *Queue
	pool        *ants.Pool
	handler     Handler
	onFailure   FailureFunc
	maxAttempts int
	logger      *slog.Logger

	mu      sync.Mutex
	backlog []Job
	closed  bool
	wake    chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Runner.
type Option func(*Runner) error

// WithPoolSize sets the number of concurrent workers.
// Default is runtime.NumCPU(), with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(r *Runner) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if r.pool != nil {
			r.pool.Release()
		}
		r.pool = pool
		return nil
	}
}

// WithMaxAttempts sets how many deliveries a job gets before it is buried.
func WithMaxAttempts(n int) Option {
	return func(r *Runner) error {
		if n < 1 {
			return fmt.Errorf("max attempts must be at least 1, got %d", n)
		}
		r.maxAttempts = n
		return nil
	}
}

// WithFailureHandler sets the callback invoked for abandoned jobs.
func WithFailureHandler(fn FailureFunc) Option {
	return func(r *Runner) error {
		r.onFailure = fn
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// NewRunner creates a Runner that hands queued jobs to handler.
func NewRunner(queue *Queue, handler Handler, opts ...Option) (*Runner, error) {
	if queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	poolSize := runtime.NumCPU()
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		queue:       queue,
		pool:        pool,
		handler:     handler,
		maxAttempts: defaultMaxAttempts,
		logger:      slog.Default(),
		wake:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
	}

	for _, opt := range opts {
		if optErr := opt(r); optErr != nil {
			r.Release()
			return nil, optErr
		}
	}

	go r.dispatch()
	return r, nil
}

// Schedule persists job and queues it for execution without waiting for a
// worker. The returned job carries the assigned ID. On a released Runner the
// job is removed again and ErrRunnerClosed returned.
func (r *Runner) Schedule(ctx context.Context, job Job) (Job, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Attempts = 1
	job.EnqueuedAt = time.Now().UTC()

	if err := r.queue.Put(job); err != nil {
		return Job{}, fmt.Errorf("failed to persist job: %w", err)
	}

	if err := r.enqueue(job); err != nil {
		if rmErr := r.queue.Remove(job.ID); rmErr != nil {
			r.logger.WarnContext(ctx, "failed to remove unsubmitted job", "job_id", job.ID, "error", rmErr)
		}
		return Job{}, fmt.Errorf("failed to submit job: %w", err)
	}

	r.logger.InfoContext(ctx, "job scheduled", "job_id", job.ID, "document_id", job.DocumentID)
	return job, nil
}

// Recover re-submits jobs left over from a previous process. Each recovered
// job counts as a new attempt; jobs past the attempt limit are buried and
// reported to the failure handler instead. Returns the number of jobs
// re-submitted.
func (r *Runner) Recover(ctx context.Context) (int, error) {
	jobs, err := r.queue.Pending()
	if err != nil {
		return 0, fmt.Errorf("failed to list pending jobs: %w", err)
	}

	resubmitted := 0
	for _, job := range jobs {
		job.Attempts++
		if job.Attempts > r.maxAttempts {
			reason := fmt.Sprintf("ingestion abandoned after %d attempts", job.Attempts-1)
			r.fail(ctx, job, reason)
			continue
		}

		if err := r.queue.Put(job); err != nil {
			return resubmitted, fmt.Errorf("failed to persist job %s: %w", job.ID, err)
		}
		if err := r.enqueue(job); err != nil {
			return resubmitted, fmt.Errorf("failed to submit job %s: %w", job.ID, err)
		}
		resubmitted++
	}

	if len(jobs) > 0 {
		r.logger.InfoContext(ctx, "recovered pending jobs", "found", len(jobs), "resubmitted", resubmitted)
	}
	return resubmitted, nil
}

// DeadLetters returns the jobs that were given up on.
func (r *Runner) DeadLetters() ([]DeadLetter, error) {
	return r.queue.DeadLetters()
}

// Wait blocks until every scheduled job has finished. Callers that may
// still be scheduling must call Release first.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Release stops accepting jobs and stops the pool. Handlers already running
// finish; jobs still in the backlog stay persisted for the next Recover.
func (r *Runner) Release() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	dropped := len(r.backlog)
	r.backlog = nil
	r.mu.Unlock()

	for range dropped {
		r.wg.Done()
	}
	if r.stop != nil {
		close(r.stop)
	}
	if r.pool != nil {
		r.pool.Release()
	}
}

// enqueue adds job to the backlog and wakes the dispatcher.
func (r *Runner) enqueue(job Job) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRunnerClosed
	}
	r.wg.Add(1)
	r.backlog = append(r.backlog, job)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return nil
}

// next pops the oldest backlog job.
func (r *Runner) next() (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || len(r.backlog) == 0 {
		return Job{}, false
	}
	job := r.backlog[0]
	r.backlog = r.backlog[1:]
	return job, true
}

// dispatch feeds backlog jobs to the pool in FIFO order. Submit blocks
// here, not in Schedule, while every worker is busy.
func (r *Runner) dispatch() {
	for {
		job, ok := r.next()
		if !ok {
			select {
			case <-r.wake:
				continue
			case <-r.stop:
				return
			}
		}

		err := r.pool.Submit(func() {
			defer r.wg.Done()
			r.run(job)
		})
		if err != nil {
			// Pool released; the job stays persisted.
			r.logger.Warn("job left queued", "job_id", job.ID, "error", err)
			r.wg.Done()
		}
	}
}

func (r *Runner) run(job Job) {
	logger := r.logger.With("job_id", job.ID, "document_id", job.DocumentID, "attempt", job.Attempts)
	ctx := contextutil.WithLogger(context.Background(), logger)

	err := r.invoke(ctx, job)
	if err != nil {
		logger.ErrorContext(ctx, "job failed", "error", err)
		r.fail(ctx, job, err.Error())
		return
	}

	if err := r.queue.Remove(job.ID); err != nil {
		logger.ErrorContext(ctx, "failed to remove finished job", "error", err)
		return
	}
	logger.InfoContext(ctx, "job finished")
}

// invoke runs the handler, converting a panic into an error.
func (r *Runner) invoke(ctx context.Context, job Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return r.handler(ctx, job)
}

func (r *Runner) fail(ctx context.Context, job Job, reason string) {
	if err := r.queue.Bury(job, reason); err != nil {
		r.logger.ErrorContext(ctx, "failed to record dead letter", "job_id", job.ID, "error", err)
	}
	if r.onFailure != nil {
		r.onFailure(ctx, job, reason)
	}
}
