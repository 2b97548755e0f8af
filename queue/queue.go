// Package queue provides the single-permit execution queue that
// serializes every call to the render backend. The backend has no
// admission control of its own and degrades under concurrent load,
// so the permit count is fixed at 1 and is not configurable.
package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/glowworks/atelier/errors"
	"github.com/glowworks/atelier/logger"
)

// HistoryCapacity bounds the in-memory request history ring.
const HistoryCapacity = 50

// Queue is the process-wide admission gate for backend calls. It is
// constructed and injected explicitly; there is no package-level
// instance. Waiters are admitted in FIFO order.
type Queue struct {
	sem    *semaphore.Weighted
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	history []*QueuedRequest
	stats   Stats
}

// Stats are process-lifetime counters for coarse health reporting.
type Stats struct {
	Total     int64 `json:"total"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	TimedOut  int64 `json:"timed_out"`
	// Running averages over requests that reached the named point.
	AvgWaitMS float64 `json:"avg_wait_ms"`
	AvgExecMS float64 `json:"avg_exec_ms"`

	started int64
	ended   int64
}

// Options customizes one queued run.
type Options struct {
	// Timeout bounds the total time waiting for and holding the
	// permit. Zero means no queue-level timeout.
	Timeout time.Duration
	// CorrelationID ties the history entry to an external record,
	// typically an execution id.
	CorrelationID string
}

// New creates an execution queue.
func New(log *zap.SugaredLogger) *Queue {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Queue{
		sem:    semaphore.NewWeighted(1),
		logger: log,
	}
}

// Run executes op while holding the single permit. The permit is
// released on every path: success, error, and timeout.
func (q *Queue) Run(ctx context.Context, description string, op func(context.Context) error) error {
	return q.RunWith(ctx, description, Options{}, op)
}

// RunWith executes op while holding the single permit, with a
// queue-level timeout and correlation id. A timeout that fires while
// waiting or while executing fails the call with a queue timeout
// error; the permit never leaks.
func (q *Queue) RunWith(ctx context.Context, description string, opts Options, op func(context.Context) error) error {
	req := newQueuedRequest(description, opts.CorrelationID)
	q.register(req)

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	q.logger.Debugw("request queued",
		logger.FieldRequestID, req.RequestID,
		"description", description,
	)

	if err := q.sem.Acquire(runCtx, 1); err != nil {
		// Only the queue-level deadline counts as a timeout; a caller
		// canceling its own context is a plain failure.
		if opts.Timeout > 0 && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			q.finish(req, StatusTimeout, err)
			return errors.Mark(
				errors.Newf("timed out after %s waiting for execution permit (%s)", opts.Timeout, description),
				errors.ErrQueueTimeout)
		}
		q.finish(req, StatusFailed, err)
		return errors.Wrapf(err, "waiting for execution permit (%s)", description)
	}
	defer q.sem.Release(1)

	q.start(req)

	err := op(runCtx)

	deadlineHit := opts.Timeout > 0 && runCtx.Err() != nil && ctx.Err() == nil

	switch {
	case err == nil && deadlineHit:
		// The op ignored cancellation and finished anyway; the caller
		// still asked for a bound, so report the timeout.
		q.finish(req, StatusTimeout, runCtx.Err())
		return errors.Mark(
			errors.Newf("timed out after %s while executing (%s)", opts.Timeout, description),
			errors.ErrQueueTimeout)
	case err == nil:
		q.finish(req, StatusCompleted, nil)
		return nil
	case deadlineHit && errors.Is(err, context.DeadlineExceeded):
		q.finish(req, StatusTimeout, err)
		return errors.Mark(
			errors.Wrapf(err, "timed out after %s while executing (%s)", opts.Timeout, description),
			errors.ErrQueueTimeout)
	default:
		q.finish(req, StatusFailed, err)
		return err
	}
}

func (q *Queue) register(req *QueuedRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.history = append(q.history, req)
	if len(q.history) > HistoryCapacity {
		q.history = q.history[len(q.history)-HistoryCapacity:]
	}
	q.stats.Total++
}

func (q *Queue) start(req *QueuedRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	req.StartedAt = &now
	req.Status = StatusRunning

	q.stats.started++
	q.stats.AvgWaitMS += (float64(req.WaitDuration().Milliseconds()) - q.stats.AvgWaitMS) / float64(q.stats.started)
}

func (q *Queue) finish(req *QueuedRequest, status RequestStatus, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	req.CompletedAt = &now
	req.Status = status
	if err != nil {
		req.Error = err.Error()
	}

	switch status {
	case StatusCompleted:
		q.stats.Completed++
	case StatusTimeout:
		q.stats.TimedOut++
	default:
		q.stats.Failed++
	}

	if req.StartedAt != nil {
		q.stats.ended++
		q.stats.AvgExecMS += (float64(req.ExecDuration().Milliseconds()) - q.stats.AvgExecMS) / float64(q.stats.ended)
	}
}

// Snapshot returns a copy of the request history in insertion order,
// most recent last.
func (q *Queue) Snapshot() []QueuedRequest {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]QueuedRequest, len(q.history))
	for i, r := range q.history {
		out[i] = *r
	}
	return out
}

// GetStats returns a copy of the lifetime counters.
func (q *Queue) GetStats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.stats
}
