// Package manual provides the synchronous surface for ad-hoc zone runs and
// emergency stops, used by the surrounding CRUD layer.
package manual

import (
	"context"
	"errors"
	"fmt"

	"github.com/drip-org/drip/internal/clock"
	"github.com/drip-org/drip/internal/executor"
	"github.com/drip-org/drip/internal/logger"
	"github.com/drip-org/drip/internal/model"
	"github.com/drip-org/drip/internal/store"
)

var (
	// ErrZoneNotFound is returned when the zone is not in the configuration.
	ErrZoneNotFound = errors.New("zone not found")
	// ErrPumpNotFound is returned when the pump is not in the configuration.
	ErrPumpNotFound = errors.New("pump not found")
	// ErrDurationInvalid is returned for non-positive durations.
	ErrDurationInvalid = errors.New("duration must be positive")
	// ErrExecutorUnavailable is returned while the supervisor is shutting down.
	ErrExecutorUnavailable = errors.New("executor unavailable")
)

// Controller is the manual override path. Manual jobs share the pump queues
// and safety invariants of scheduled jobs; the only difference is that the
// enabled flags on zone and pump are ignored.
type Controller struct {
	store *store.Store
	exec  *executor.Registry
	clk   clock.Clock
}

// New creates a Controller.
func New(st *store.Store, exec *executor.Registry, clk clock.Clock) *Controller {
	return &Controller{store: st, exec: exec, clk: clk}
}

// RunZone submits an ad-hoc job for the zone and returns its job ID without
// waiting for completion.
func (c *Controller) RunZone(ctx context.Context, zoneID string, durationSec int) (string, error) {
	if durationSec <= 0 {
		return "", fmt.Errorf("%w: %d", ErrDurationInvalid, durationSec)
	}

	snap := c.store.Snapshot()
	zone, ok := snap.Zone(zoneID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrZoneNotFound, zoneID)
	}
	pump, ok := snap.Pump(zone.PumpID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrPumpNotFound, zone.PumpID)
	}

	now := c.clk.Now()
	job := model.Job{
		ID:           model.NewJobID(),
		PumpID:       pump.ID,
		ZoneID:       zone.ID,
		ZoneName:     zone.Name,
		Switch:       zone.Switch,
		RunSeconds:   durationSec,
		Origin:       model.OriginManual,
		SubmittedAt:  now,
		ScheduledFor: now,
	}

	switch err := c.exec.Submit(ctx, job); {
	case err == nil:
	case errors.Is(err, executor.ErrShuttingDown):
		return "", ErrExecutorUnavailable
	default:
		return "", err
	}

	logger.Info(ctx, "manual run submitted",
		"job", job.ID, "zone", zone.ID, "pump", pump.ID, "runSeconds", durationSec)
	return job.ID, nil
}

// StopPump drops the pump's pending jobs and interrupts its current job,
// running the safety shutdown path.
func (c *Controller) StopPump(ctx context.Context, pumpID string) error {
	if _, ok := c.store.Snapshot().Pump(pumpID); !ok {
		return fmt.Errorf("%w: %s", ErrPumpNotFound, pumpID)
	}
	if c.exec.CancelPump(ctx, pumpID) {
		logger.Info(ctx, "emergency stop triggered", "pump", pumpID)
	} else {
		logger.Info(ctx, "emergency stop: pump has no executor, nothing to do", "pump", pumpID)
	}
	return nil
}

// PumpStatus returns the status projection for a pump.
func (c *Controller) PumpStatus(pumpID string) (executor.Status, error) {
	if _, ok := c.store.Snapshot().Pump(pumpID); !ok {
		return executor.Status{}, fmt.Errorf("%w: %s", ErrPumpNotFound, pumpID)
	}
	status, _ := c.exec.Status(pumpID)
	return status, nil
}
