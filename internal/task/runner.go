package task

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	logx "pillbox/pkg/logx"
)

// Job is a unit of work executed by the runner.
type Job func(ctx context.Context) error

// Config controls the runner.
type Config struct {
	Workers   int
	QueueSize int

	// JobTimeout bounds a single job execution. 0 disables the bound.
	JobTimeout time.Duration
}

// entry tracks per-key state.
//
// Invariants (under Runner.mu):
//   - at most one worker has running=true for a key at any time
//   - queued=true iff the key is sitting in the ready channel
//   - pending holds the job the next dequeue will run; a newer Enqueue
//     for the same key overwrites it (replace policy)
type entry struct {
	pending Job
	queued  bool
	running bool
}

// Runner executes keyed jobs with single-flight-per-key semantics.
type Runner struct {
	mu      sync.Mutex
	cfg     Config
	log     logx.Logger
	entries map[string]*entry
	ready   chan string
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

func New(cfg Config, log logx.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Runner{
		cfg:     cfg,
		log:     log,
		entries: make(map[string]*entry),
	}
}

// Start launches the worker pool. Idempotent.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.ready = make(chan string, r.cfg.QueueSize)
	r.stopCh = make(chan struct{})
	workers := r.cfg.Workers
	r.mu.Unlock()

	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.worker(ctx)
		}()
	}
	r.log.Info("runner started", logx.Int("workers", workers), logx.Int("queue", r.cfg.QueueSize))
}

// Stop signals workers and waits for in-flight jobs, bounded by ctx.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	close(r.stopCh)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.log.Info("runner stopped")
	case <-ctx.Done():
		r.log.Warn("runner stop timed out", logx.Err(ctx.Err()))
	}
}

// Enqueue schedules job under key.
//
// If a job for the key is queued but not yet started, the new job replaces
// it. If one is running, the new job runs after it finishes (again subject
// to replacement until it actually starts). Returns ErrQueueFull when the
// ready queue cannot accept the key without blocking.
func (r *Runner) Enqueue(key string, job Job) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("key required")
	}
	if job == nil {
		return fmt.Errorf("job required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return ErrStopped
	}

	e := r.entries[key]
	if e == nil {
		e = &entry{}
		r.entries[key] = e
	}
	// Replace policy: the not-yet-started job is superseded.
	e.pending = job
	if e.queued || e.running {
		return nil
	}
	select {
	case r.ready <- key:
		e.queued = true
		return nil
	default:
		e.pending = nil
		if !e.queued && !e.running {
			delete(r.entries, key)
		}
		return ErrQueueFull
	}
}

func (r *Runner) worker(ctx context.Context) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case key := <-r.ready:
			r.mu.Lock()
			e := r.entries[key]
			if e == nil {
				r.mu.Unlock()
				continue
			}
			job := e.pending
			e.pending = nil
			e.queued = false
			if job == nil {
				if !e.running {
					delete(r.entries, key)
				}
				r.mu.Unlock()
				continue
			}
			e.running = true
			r.mu.Unlock()

			start := time.Now()
			err := r.execOne(ctx, job)
			took := time.Since(start)
			if err != nil {
				r.log.Error("job failed", logx.String("key", key), logx.Duration("took", took), logx.Err(err))
			} else {
				r.log.Debug("job done", logx.String("key", key), logx.Duration("took", took))
			}

			r.mu.Lock()
			e.running = false
			if e.pending != nil {
				// A job arrived while this one ran; requeue the key.
				select {
				case r.ready <- key:
					e.queued = true
				default:
					// Leave pending set; the next Enqueue re-pushes.
					r.log.Warn("requeue skipped: queue full", logx.String("key", key))
				}
			}
			if e.pending == nil && !e.queued && !e.running {
				delete(r.entries, key)
			}
			r.mu.Unlock()
		}
	}
}

func (r *Runner) execOne(ctx context.Context, job Job) (err error) {
	if r.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.JobTimeout)
		defer cancel()
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			r.log.Error("job panicked", logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
		}
	}()
	return job(ctx)
}
