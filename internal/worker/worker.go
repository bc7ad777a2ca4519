package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/tmportal/internal/metrics"
)

// ErrAlreadyRunning is returned by Start on a running worker.
var ErrAlreadyRunning = errors.New("worker already running")

// Worker runs registered cleanup tasks on a fixed interval.
type Worker struct {
	config Config
	logger *slog.Logger

	mu      sync.Mutex
	tasks   []Task
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a new Worker with the given configuration.
// The worker must be started with Start() and stopped with Stop().
func New(config Config, logger *slog.Logger) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Worker{
		config: config,
		logger: logger,
	}, nil
}

// Register adds tasks to the worker. Tasks with a name already registered
// replace the earlier one.
func (w *Worker) Register(tasks ...Task) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, task := range tasks {
		replaced := false
		for i, existing := range w.tasks {
			if existing.Name() == task.Name() {
				w.logger.Warn("Overwriting existing task", "task", task.Name())
				w.tasks[i] = task
				replaced = true
				break
			}
		}
		if !replaced {
			w.tasks = append(w.tasks, task)
		}
		w.logger.Debug("Registered task", "task", task.Name())
	}
}

// Tasks returns the names of the registered tasks in run order.
func (w *Worker) Tasks() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	names := make([]string, len(w.tasks))
	for i, t := range w.tasks {
		names[i] = t.Name()
	}
	return names
}

// Start begins the run loop. It returns ErrAlreadyRunning if the worker is
// already started. The loop ends on Stop or when ctx is canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return ErrAlreadyRunning
	}
	w.running = true
	w.stopCh = make(chan struct{})

	w.wg.Add(1)
	go w.loop(ctx, w.stopCh)

	w.logger.Info("Worker started", "interval", w.config.Interval, "tasks", len(w.tasks))
	return nil
}

// Stop signals the run loop to end and waits for it, up to the configured
// ShutdownTimeout. Stopping a stopped worker is a no-op.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.logger.Info("Stopping worker...")

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Worker stopped gracefully")
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("Worker shutdown timeout exceeded, a task may still be running")
	}
}

func (w *Worker) loop(ctx context.Context, stopCh <-chan struct{}) {
	defer w.wg.Done()

	// Runs are bounded by their own timeout; stopping cancels the one in
	// progress.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	if w.config.RunOnStart {
		w.RunOnce(runCtx)
	}

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-runCtx.Done():
			return
		case <-ticker.C:
			w.RunOnce(runCtx)
		}
	}
}

// RunOnce runs every registered task once, in registration order. A failing
// task does not prevent the others from running. Tasks that return a
// PermanentError are unregistered.
func (w *Worker) RunOnce(ctx context.Context) {
	w.mu.Lock()
	tasks := append([]Task(nil), w.tasks...)
	w.mu.Unlock()

	for _, task := range tasks {
		if ctx.Err() != nil {
			return
		}
		if err := w.runTask(ctx, task); err != nil && IsPermanent(err) {
			w.unregister(task.Name())
		}
	}
}

func (w *Worker) runTask(ctx context.Context, task Task) error {
	logger := w.logger.With("task", task.Name())

	taskCtx, cancel := context.WithTimeout(ctx, w.config.TaskTimeout)
	defer cancel()

	start := time.Now()
	deleted, err := task.Run(taskCtx)
	duration := time.Since(start)

	if err != nil {
		metrics.TaskFailed(task.Name(), duration)
		if IsPermanent(err) {
			logger.Error("Task failed with permanent error, will not run again", "error", err)
		} else {
			logger.Error("Task failed", "error", err, "duration", duration)
		}
		return err
	}

	metrics.TaskCompleted(task.Name(), duration, deleted)
	logger.Debug("Task completed", "deleted", deleted, "duration", duration)
	return nil
}

func (w *Worker) unregister(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, t := range w.tasks {
		if t.Name() == name {
			w.tasks = append(w.tasks[:i], w.tasks[i+1:]...)
			return
		}
	}
}
