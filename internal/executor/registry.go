package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/drip-org/drip/internal/clock"
	"github.com/drip-org/drip/internal/host"
	"github.com/drip-org/drip/internal/logger"
	"github.com/drip-org/drip/internal/metrics"
	"github.com/drip-org/drip/internal/model"
)

var (
	// ErrQueueFull is returned when a pump queue cannot accept more jobs.
	// Submission is non-blocking; a full queue is a configuration problem,
	// not a normal condition.
	ErrQueueFull = errors.New("pump queue full")
	// ErrShuttingDown is returned once the registry has begun shutdown.
	ErrShuttingDown = errors.New("executors shutting down")
	// ErrUnknownPump is returned when a job references a pump that is not
	// in the current configuration.
	ErrUnknownPump = errors.New("unknown pump")
)

// Registry owns all pump executors. Executors are created lazily on the
// first job for their pump and live until shutdown.
type Registry struct {
	hc       host.Client
	clk      clock.Clock
	snapshot func() *model.Snapshot
	mets     *metrics.Metrics

	mu     sync.Mutex
	execs  map[string]*Executor
	base   context.Context
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// NewRegistry creates a Registry reading pump definitions through snapshot.
func NewRegistry(hc host.Client, clk clock.Clock, snapshot func() *model.Snapshot, mets *metrics.Metrics) *Registry {
	return &Registry{
		hc:       hc,
		clk:      clk,
		snapshot: snapshot,
		mets:     mets,
		execs:    make(map[string]*Executor),
	}
}

// Start sets the base context under which executor workers run. It must be
// called before the first Submit.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.base, r.cancel = context.WithCancel(ctx)
}

// Submit appends a job to its pump's FIFO. It never blocks: a full queue
// returns ErrQueueFull and the job is dropped.
func (r *Registry) Submit(ctx context.Context, job model.Job) error {
	r.mu.Lock()
	if r.closed || r.base == nil {
		r.mu.Unlock()
		return ErrShuttingDown
	}
	ex, ok := r.execs[job.PumpID]
	if !ok {
		if _, exists := r.snapshot().Pump(job.PumpID); !exists {
			r.mu.Unlock()
			return ErrUnknownPump
		}
		ex = newExecutor(job.PumpID, r.hc, r.clk, r.settingsFn(), r.resolveFn(), r.mets)
		r.execs[job.PumpID] = ex
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			ex.run(r.base)
		}()
		logger.Debug(ctx, "pump executor created", "pump", job.PumpID)
	}
	r.mu.Unlock()

	select {
	case ex.queue <- job:
		r.mets.JobSubmitted(string(job.Origin))
		r.mets.QueueDepth(job.PumpID, len(ex.queue))
		return nil
	default:
		r.mets.JobDropped()
		return ErrQueueFull
	}
}

// CancelPump drops all pending jobs for the pump and interrupts its current
// job. It reports whether an executor existed for the pump.
func (r *Registry) CancelPump(ctx context.Context, pumpID string) bool {
	r.mu.Lock()
	ex, ok := r.execs[pumpID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	ex.cancel(ctx)
	return true
}

// Status returns the status projection for one pump.
func (r *Registry) Status(pumpID string) (Status, bool) {
	r.mu.Lock()
	ex, ok := r.execs[pumpID]
	r.mu.Unlock()
	if !ok {
		return Status{State: StateIdle}, false
	}
	return ex.Status(), true
}

// StatusAll returns status projections for all pumps with executors.
func (r *Registry) StatusAll() map[string]Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Status, len(r.execs))
	for id, ex := range r.execs {
		out[id] = ex.Status()
	}
	return out
}

// Shutdown cancels all executors and waits for quiescence, bounded by
// grace. Locks still held after the wait are force-released.
func (r *Registry) Shutdown(ctx context.Context, grace time.Duration) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info(ctx, "all pump executors quiescent")
	case <-time.After(grace):
		logger.Warn(ctx, "executor shutdown grace period expired")
	}

	r.forceReleaseLocks(ctx)
}

// forceReleaseLocks turns off any pump lock this process still believes it
// holds. Best effort; failures are logged.
func (r *Registry) forceReleaseLocks(ctx context.Context) {
	r.mu.Lock()
	execs := make([]*Executor, 0, len(r.execs))
	for _, ex := range r.execs {
		execs = append(execs, ex)
	}
	r.mu.Unlock()

	for _, ex := range execs {
		if !ex.holdsLock.Load() {
			continue
		}
		pump, ok := ex.resolve(ex.pumpID)
		if !ok {
			continue
		}
		if err := r.hc.SetBool(ctx, pump.Lock, false); err != nil {
			logger.Error(ctx, "force-release on shutdown failed", "pump", ex.pumpID, "err", err)
			continue
		}
		ex.holdsLock.Store(false)
		logger.Warn(ctx, "pump lock force-released on shutdown", "pump", ex.pumpID)
	}
}

func (r *Registry) settingsFn() func() model.Settings {
	return func() model.Settings {
		return r.snapshot().Settings()
	}
}

func (r *Registry) resolveFn() func(string) (model.Pump, bool) {
	return func(pumpID string) (model.Pump, bool) {
		return r.snapshot().Pump(pumpID)
	}
}
