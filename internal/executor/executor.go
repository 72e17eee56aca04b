// Package executor runs jobs against pump hardware. Each pump gets one
// executor goroutine owning a bounded FIFO queue; the pump's lock entity is
// both the physical actuator and the mutual-exclusion signal, and only this
// executor ever writes it.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drip-org/drip/internal/clock"
	"github.com/drip-org/drip/internal/host"
	"github.com/drip-org/drip/internal/logger"
	"github.com/drip-org/drip/internal/metrics"
	"github.com/drip-org/drip/internal/model"
)

const (
	queueCapacity = 64

	// lockPollInterval is how often an externally held lock is re-read
	// while waiting for it to clear.
	lockPollInterval = 5 * time.Second
)

// errPumpVanished marks a job whose pump disappeared from the configuration
// between submission and execution.
var errPumpVanished = errors.New("pump removed from configuration")

// Executor owns one pump: its FIFO of pending jobs and the current job, if
// any. Jobs execute strictly in submission order.
type Executor struct {
	pumpID   string
	hc       host.Client
	clk      clock.Clock
	settings func() model.Settings
	resolve  func(string) (model.Pump, bool)
	mets     *metrics.Metrics

	queue chan model.Job
	done  chan struct{}

	mu        sync.Mutex
	runCtx    context.Context
	runCancel context.CancelFunc

	// holdsLock tracks whether this executor believes it left the pump
	// lock on, used to tell our own residue from an external holder.
	holdsLock atomic.Bool

	status atomic.Pointer[Status]
}

func newExecutor(pumpID string, hc host.Client, clk clock.Clock, settings func() model.Settings, resolve func(string) (model.Pump, bool), mets *metrics.Metrics) *Executor {
	e := &Executor{
		pumpID:   pumpID,
		hc:       hc,
		clk:      clk,
		settings: settings,
		resolve:  resolve,
		mets:     mets,
		queue:    make(chan model.Job, queueCapacity),
		done:     make(chan struct{}),
	}
	e.setStatus(StateIdle, "", "")
	return e
}

// run is the executor worker loop. It exits when ctx is cancelled, after
// draining pending jobs as cancelled.
func (e *Executor) run(ctx context.Context) {
	defer close(e.done)
	ctx = logger.WithValues(ctx, "pump", e.pumpID)

	for {
		if ctx.Err() != nil {
			e.drain(ctx)
			return
		}
		runCtx := e.armRunContext(ctx)

		select {
		case <-ctx.Done():
			e.drain(ctx)
			return
		case <-runCtx.Done():
			// A stop arrived while the pump was idle; arm a fresh
			// context so later jobs are unaffected.
			continue
		case job := <-e.queue:
			e.mets.QueueDepth(e.pumpID, len(e.queue))
			e.runJob(runCtx, job)
		}
	}
}

// armRunContext publishes the cancellation handle for the next job before
// that job is dequeued, so a stop can never slip between dequeue and
// registration.
func (e *Executor) armRunContext(ctx context.Context) context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runCtx == nil || e.runCtx.Err() != nil {
		e.runCtx, e.runCancel = context.WithCancel(ctx)
	}
	return e.runCtx
}

// runJob executes one job, isolating panics so a failing run never takes
// down the worker: the loop continues with the next pending job.
func (e *Executor) runJob(ctx context.Context, job model.Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "executor panic recovered", "job", job.ID, "panic", r)
			e.setStatus(StateIdle, "", fmt.Sprintf("panic: %v", r))
			e.mets.JobFinished("failed")
		}
	}()

	defer func() {
		e.mu.Lock()
		if e.runCancel != nil {
			e.runCancel()
		}
		e.runCtx = nil
		e.runCancel = nil
		e.mu.Unlock()
	}()

	e.setStatus(StateRunning, job.ZoneName, "")
	logger.Info(ctx, "job started",
		"job", job.ID, "zone", job.ZoneName, "origin", job.Origin, "runSeconds", job.RunSeconds)

	err := e.execute(ctx, job)
	switch {
	case err == nil:
		logger.Info(ctx, "job completed", "job", job.ID, "zone", job.ZoneName)
		e.setStatus(StateIdle, "", "")
		e.mets.JobFinished("completed")

	case errors.Is(err, errPumpVanished):
		logger.Warn(ctx, "job skipped: dangling pump reference", "job", job.ID)
		e.setStatus(StateIdle, "", err.Error())
		e.mets.JobFinished("skipped")

	case errors.Is(err, context.Canceled):
		logger.Info(ctx, "job cancelled", "job", job.ID, "zone", job.ZoneName)
		e.setStatus(StateIdle, "", "")
		e.mets.JobFinished("cancelled")

	default:
		logger.Error(ctx, "job failed", "job", job.ID, "zone", job.ZoneName, "err", err)
		e.setStatus(StateIdle, "", err.Error())
		e.mets.JobFinished("failed")
	}
}

// execute drives the actuation sequence:
//
//	lock on -> startup delay -> zone on -> run -> zone off -> switch delay -> lock off
//
// Once the lock is on, the tail of the sequence (zone off, delay, lock off)
// always runs, even on failure or cancellation, using a context detached
// from cancellation.
func (e *Executor) execute(ctx context.Context, job model.Job) error {
	// A stop that landed before this job started cancels it before any
	// hardware write.
	if err := ctx.Err(); err != nil {
		return err
	}

	pump, ok := e.resolve(e.pumpID)
	if !ok {
		return errPumpVanished
	}
	st := e.settings()

	if err := e.waitForLockClear(ctx, pump, st); err != nil {
		return err
	}

	if err := e.hc.SetBool(ctx, pump.Lock, true); err != nil {
		return fmt.Errorf("pump lock on: %w", err)
	}
	e.holdsLock.Store(true)

	runErr := func() error {
		if err := e.clk.Sleep(ctx, st.PumpStartupDelay()); err != nil {
			return err
		}
		if err := e.hc.SetBool(ctx, job.Switch, true); err != nil {
			return fmt.Errorf("zone switch on: %w", err)
		}
		if err := e.clk.Sleep(ctx, job.RunDuration()); err != nil {
			return err
		}
		return nil
	}()

	// Safety path: both off-writes are attempted even if one fails.
	safeCtx := context.WithoutCancel(ctx)
	if err := e.hc.SetBool(safeCtx, job.Switch, false); err != nil {
		logger.Error(ctx, "zone switch off failed", "zone", job.ZoneName, "err", err)
		if runErr == nil {
			runErr = fmt.Errorf("zone switch off: %w", err)
		}
	}
	_ = e.clk.Sleep(safeCtx, st.ZoneSwitchDelay())
	if err := e.hc.SetBool(safeCtx, pump.Lock, false); err != nil {
		// Leave holdsLock set; the stuck-lock recovery on the next
		// iteration retries the release.
		logger.Error(ctx, "pump lock release failed", "err", err)
		if runErr == nil {
			runErr = fmt.Errorf("pump lock off: %w", err)
		}
	} else {
		e.holdsLock.Store(false)
	}

	return runErr
}

// waitForLockClear observes the pump lock before a job. A lock held by this
// executor (a failed earlier release) is reset immediately; an externally
// held lock is polled until it clears or the stuck-lock timeout expires, at
// which point it is force-reset.
func (e *Executor) waitForLockClear(ctx context.Context, pump model.Pump, st model.Settings) error {
	on, err := e.hc.ReadBool(ctx, pump.Lock)
	if err != nil {
		return fmt.Errorf("read pump lock: %w", err)
	}
	if !on {
		return nil
	}

	if e.holdsLock.Load() {
		logger.Warn(ctx, "pump lock left on by failed release, resetting", "lock", pump.Lock)
		if err := e.hc.SetBool(ctx, pump.Lock, false); err != nil {
			return fmt.Errorf("reset own pump lock: %w", err)
		}
		e.holdsLock.Store(false)
		return nil
	}

	logger.Warn(ctx, "pump lock held externally, waiting", "lock", pump.Lock,
		"timeout", st.StuckLockTimeout())
	deadline := e.clk.Now().Add(st.StuckLockTimeout())
	for {
		if err := e.clk.Sleep(ctx, lockPollInterval); err != nil {
			return err
		}
		on, err := e.hc.ReadBool(ctx, pump.Lock)
		if err != nil {
			return fmt.Errorf("read pump lock: %w", err)
		}
		if !on {
			return nil
		}
		if !e.clk.Now().Before(deadline) {
			break
		}
	}

	logger.Warn(ctx, "stuck pump lock, forcing release", "lock", pump.Lock)
	e.mets.StuckLockRecovered()
	if err := e.hc.SetBool(ctx, pump.Lock, false); err != nil {
		return fmt.Errorf("force-release stuck lock: %w", err)
	}
	return nil
}

// cancel drops all pending jobs and interrupts the current one, if any. The
// worker keeps running and accepts new jobs afterwards.
func (e *Executor) cancel(ctx context.Context) {
	dropped := 0
	for {
		select {
		case job := <-e.queue:
			dropped++
			e.mets.JobFinished("cancelled")
			logger.Info(ctx, "pending job dropped", "pump", e.pumpID, "job", job.ID)
			continue
		default:
		}
		break
	}
	e.mets.QueueDepth(e.pumpID, 0)

	e.mu.Lock()
	if e.runCancel != nil {
		e.runCancel()
	}
	e.mu.Unlock()

	if dropped > 0 {
		logger.Info(ctx, "pump queue cleared", "pump", e.pumpID, "dropped", dropped)
	}
}

// drain marks all pending jobs cancelled during shutdown.
func (e *Executor) drain(ctx context.Context) {
	for {
		select {
		case job := <-e.queue:
			e.mets.JobFinished("cancelled")
			logger.Info(ctx, "pending job cancelled on shutdown", "job", job.ID)
		default:
			return
		}
	}
}

func (e *Executor) setStatus(state State, activeZone, lastError string) {
	e.status.Store(&Status{
		State:      state,
		ActiveZone: activeZone,
		LastError:  lastError,
	})
}

// Status returns the executor's current status projection. Reads are
// lock-free: the status value is swapped atomically on state transitions.
func (e *Executor) Status() Status {
	s := *e.status.Load()
	s.QueueLen = len(e.queue)
	if s.State == StateIdle && s.QueueLen > 0 {
		s.State = StateQueued
	}
	return s
}
