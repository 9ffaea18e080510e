package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/amrglass/internal/audit"
	"github.com/JonMunkholm/amrglass/internal/config"
	"github.com/JonMunkholm/amrglass/internal/core"
)

// Handler executes one job. The returned value is stored as the job result.
type Handler interface {
	Handle(ctx context.Context, payload json.RawMessage) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, payload json.RawMessage) (any, error) {
	return f(ctx, payload)
}

// Mux routes jobs to handlers by kind.
type Mux struct {
	handlers map[string]Handler
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{handlers: make(map[string]Handler)}
}

// Handle registers h for kind.
func (m *Mux) Handle(kind string, h Handler) {
	m.handlers[kind] = h
}

// Kinds returns the registered kinds.
func (m *Mux) Kinds() []string {
	out := make([]string, 0, len(m.handlers))
	for k := range m.handlers {
		out = append(out, k)
	}
	return out
}

func (m *Mux) lookup(kind string) (Handler, bool) {
	h, ok := m.handlers[kind]
	return h, ok
}

// Worker pops jobs from a Queue and runs them.
type Worker struct {
	queue       *Queue
	mux         *Mux
	workers     int
	pollTimeout time.Duration
	recorder    *audit.Recorder
}

// NewWorker returns a worker pool for q. recorder may be nil.
func NewWorker(q *Queue, mux *Mux, cfg config.JobsConfig, recorder *audit.Recorder) *Worker {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Worker{queue: q, mux: mux, workers: workers, pollTimeout: poll, recorder: recorder}
}

// Run processes jobs until ctx is cancelled. In-flight jobs finish before
// Run returns.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("job workers started", "queue", w.queue.Name(), "workers", w.workers)

	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			w.loop(ctx, n)
		}(i)
	}
	wg.Wait()

	slog.Info("job workers stopped", "queue", w.queue.Name())
}

func (w *Worker) loop(ctx context.Context, n int) {
	for ctx.Err() == nil {
		_, err := w.ProcessNext(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			continue
		}
		slog.Error("job worker error", "worker", n, "error", err)

		// Back off so a Redis outage does not spin.
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
	}
}

// ProcessNext waits up to the poll timeout for one job and runs it. It
// reports whether a job was processed.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	res, err := w.queue.client.BRPop(ctx, w.pollTimeout, w.queue.name).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	// BRPOP returns [list, value].
	id := res[1]
	return true, w.process(ctx, id)
}

func (w *Worker) process(ctx context.Context, id string) error {
	job, err := w.queue.Get(ctx, id)
	if errors.Is(err, ErrJobNotFound) {
		slog.Warn("skipping expired job", "job_id", id)
		return nil
	}
	if err != nil {
		return err
	}

	logger := slog.With("job_id", id, "kind", job.Kind)
	handler, ok := w.mux.lookup(job.Kind)
	if !ok {
		return w.fail(ctx, job, fmt.Errorf("invalid request: unknown job kind %q", job.Kind))
	}

	if err := w.queue.markStarted(ctx, id); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	logger.Info("job started")
	start := time.Now()

	result, err := w.run(ctx, handler, job)
	if err != nil {
		return w.fail(ctx, job, err)
	}

	body, err := json.Marshal(result)
	if err != nil {
		return w.fail(ctx, job, fmt.Errorf("encode result: %w", err))
	}
	if err := w.queue.markFinished(ctx, id, body); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	logger.Info("job finished", "duration_ms", time.Since(start).Milliseconds())
	w.recorder.Record(ctx, audit.EventJobFinished, "", map[string]any{
		"job_id":      id,
		"kind":        job.Kind,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

// run calls the handler, converting a panic into a job failure.
func (w *Worker) run(ctx context.Context, h Handler, job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return h.Handle(ctx, job.Payload)
}

func (w *Worker) fail(ctx context.Context, job *Job, cause error) error {
	slog.Error("job failed", "job_id", job.ID, "kind", job.Kind, "error", cause)
	w.recorder.Record(ctx, audit.EventJobFailed, "", map[string]any{
		"job_id": job.ID,
		"kind":   job.Kind,
		"error":  cause.Error(),
	})

	// Record the failure even when the worker is shutting down.
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := w.queue.markFailed(markCtx, job.ID, core.FormatUserError(cause)); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return nil
}
