package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"budgetsync/internal/log"
)

// DiagnosticsConfig holds configuration for the diagnostics queue
type DiagnosticsConfig struct {
	// QueueSize is the number of tasks buffered before new ones are dropped (default: 64)
	QueueSize int

	// MaxRetries is the number of attempts per task (default: 3)
	MaxRetries int

	// TaskTimeout bounds a single attempt (default: 10s)
	TaskTimeout time.Duration

	// RetryBackoff is multiplied by the attempt number between attempts (default: 500ms)
	RetryBackoff time.Duration
}

// DefaultDiagnosticsConfig returns sensible defaults
func DefaultDiagnosticsConfig() DiagnosticsConfig {
	return DiagnosticsConfig{
		QueueSize:    64,
		MaxRetries:   3,
		TaskTimeout:  10 * time.Second,
		RetryBackoff: 500 * time.Millisecond,
	}
}

// Task is a best-effort write that must never block the caller.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// DiagnosticsStats counts task outcomes since start.
type DiagnosticsStats struct {
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Pending   int   `json:"pending"`
}

// DiagnosticsQueue runs fire-and-forget tasks (presence, heartbeats,
// mirror records) on a single background consumer.
type DiagnosticsQueue struct {
	config DiagnosticsConfig
	tasks  chan Task
	logger *slog.Logger

	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewDiagnosticsQueue creates a queue; tasks may be enqueued before Start.
func NewDiagnosticsQueue(config DiagnosticsConfig) *DiagnosticsQueue {
	def := DefaultDiagnosticsConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = def.TaskTimeout
	}
	if config.RetryBackoff < 0 {
		config.RetryBackoff = 0
	}
	return &DiagnosticsQueue{
		config: config,
		tasks:  make(chan Task, config.QueueSize),
		logger: slog.Default().With(log.FieldComponent, log.ComponentDiagnostics),
	}
}

// Enqueue schedules t without blocking. A full queue drops the task.
func (q *DiagnosticsQueue) Enqueue(t Task) bool {
	select {
	case q.tasks <- t:
		return true
	default:
		q.dropped.Add(1)
		q.logger.Warn("Diagnostics queue full, dropping task", "task", t.Name)
		return false
	}
}

// Start begins the processing loop. Returns an error if already running.
func (q *DiagnosticsQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return fmt.Errorf("diagnostics queue is already running")
	}
	q.running = true
	q.stopCh = make(chan struct{})
	q.doneCh = make(chan struct{})
	q.mu.Unlock()

	go q.runLoop(context.WithoutCancel(ctx))

	q.logger.InfoContext(ctx, "Diagnostics queue started",
		"queue_size", q.config.QueueSize,
		"max_retries", q.config.MaxRetries)
	return nil
}

// Stop drains what is already queued, one attempt per task, and waits for
// the loop to finish or ctx to expire.
func (q *DiagnosticsQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	stopCh, doneCh := q.stopCh, q.doneCh
	q.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		q.logger.InfoContext(ctx, "Diagnostics queue stopped gracefully")
	case <-ctx.Done():
		q.logger.WarnContext(ctx, "Diagnostics queue stop timed out")
		return ctx.Err()
	}

	q.mu.Lock()
	q.running = false
	q.mu.Unlock()
	return nil
}

// IsRunning returns whether the queue is currently running
func (q *DiagnosticsQueue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Stats returns current queue statistics
func (q *DiagnosticsQueue) Stats() DiagnosticsStats {
	return DiagnosticsStats{
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
		Dropped:   q.dropped.Load(),
		Pending:   len(q.tasks),
	}
}

func (q *DiagnosticsQueue) runLoop(ctx context.Context) {
	defer close(q.doneCh)
	for {
		select {
		case <-q.stopCh:
			q.drain(ctx)
			return
		case t := <-q.tasks:
			q.process(ctx, t, q.config.MaxRetries)
		}
	}
}

func (q *DiagnosticsQueue) drain(ctx context.Context) {
	for {
		select {
		case t := <-q.tasks:
			q.process(ctx, t, 1)
		default:
			return
		}
	}
}

func (q *DiagnosticsQueue) process(ctx context.Context, t Task, attempts int) {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = q.attempt(ctx, t)
		if err == nil {
			q.processed.Add(1)
			return
		}
		q.logger.WarnContext(ctx, "Diagnostics task failed",
			"task", t.Name,
			log.FieldAttempt, attempt,
			log.FieldError, err)
		if attempt == attempts {
			break
		}
		select {
		case <-q.stopCh:
			attempts = attempt
		case <-time.After(q.config.RetryBackoff * time.Duration(attempt)):
		}
	}
	q.failed.Add(1)
	q.logger.ErrorContext(ctx, "Diagnostics task dropped after retries",
		"task", t.Name,
		log.FieldAttempt, attempts,
		log.FieldError, err)
}

func (q *DiagnosticsQueue) attempt(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	callCtx, cancel := context.WithTimeout(ctx, q.config.TaskTimeout)
	defer cancel()
	return t.Run(callCtx)
}
