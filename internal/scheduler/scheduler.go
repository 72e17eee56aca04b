// Package scheduler evaluates water events each tick and submits due jobs
// to the pump executors. It is a single cooperative worker: submission is
// non-blocking and errors never stop the loop.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/drip-org/drip/internal/clock"
	"github.com/drip-org/drip/internal/executor"
	"github.com/drip-org/drip/internal/host"
	"github.com/drip-org/drip/internal/logger"
	"github.com/drip-org/drip/internal/metrics"
	"github.com/drip-org/drip/internal/model"
	"github.com/drip-org/drip/internal/schedule"
	"github.com/drip-org/drip/internal/store"
)

// Submitter accepts jobs for execution. *executor.Registry implements it.
type Submitter interface {
	Submit(ctx context.Context, job model.Job) error
}

// Scheduler is the periodic evaluation loop.
type Scheduler struct {
	store  *store.Store
	hc     host.Client
	clk    clock.Clock
	submit Submitter
	mets   *metrics.Metrics

	// seen deduplicates firings within the current day; it also protects
	// against duplicate submission after a backward clock jump.
	seen map[schedule.FiringKey]struct{}
	day  string
}

// New creates a Scheduler.
func New(st *store.Store, hc host.Client, clk clock.Clock, submit Submitter, mets *metrics.Metrics) *Scheduler {
	return &Scheduler{
		store:  st,
		hc:     hc,
		clk:    clk,
		submit: submit,
		mets:   mets,
		seen:   make(map[schedule.FiringKey]struct{}),
	}
}

// Start runs the tick loop until the context is cancelled. Ticks are
// aligned to the configured interval boundary.
func (s *Scheduler) Start(ctx context.Context) error {
	logger.Info(ctx, "scheduler started",
		"interval", s.store.Snapshot().Settings().SchedulerInterval())

	for {
		interval := s.store.Snapshot().Settings().SchedulerInterval()
		now := s.clk.Now()
		next := now.Truncate(interval).Add(interval)
		if err := s.clk.Sleep(ctx, next.Sub(now)); err != nil {
			logger.Info(ctx, "scheduler stopped")
			return nil
		}

		// Drain the change signal so a rewritten configuration is
		// acknowledged; the tick below reads a fresh snapshot anyway.
		select {
		case <-s.store.Subscribe():
			logger.Info(ctx, "configuration change picked up")
		default:
		}

		s.tick(ctx, s.clk.Now())
	}
}

// tick evaluates every enabled event in every enabled room and submits one
// job per assigned enabled zone for each firing that is due and unseen.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mets.Tick()
	s.rolloverDay(ctx, now)

	snap := s.store.Snapshot()
	window := snap.Settings().SchedulerInterval()

	// Lights-on values are read at most once per room per tick.
	lights := make(map[string]*model.TimeOfDay)

	var jobs []model.Job
	events := lo.Filter(snap.Events(), func(ev model.WaterEvent, _ int) bool {
		if !ev.Enabled {
			return false
		}
		room, ok := snap.Room(ev.RoomID)
		return ok && room.Enabled
	})

	for _, ev := range events {
		// Only lights-relative events need the room's lights-on entity.
		var lightsOn *model.TimeOfDay
		if ev.Kind == model.EventP1 {
			room, _ := snap.Room(ev.RoomID)
			lightsOn = s.lightsOn(ctx, room, lights)
		}
		for _, firing := range schedule.Firings(ev, lightsOn, now) {
			key := schedule.KeyFor(ev.ID, firing)
			if _, dup := s.seen[key]; dup {
				continue
			}

			if schedule.IsDue(firing, now, window) {
				s.seen[key] = struct{}{}
				jobs = append(jobs, s.buildJobs(ctx, snap, ev, firing, now)...)
				continue
			}

			// A firing the loop arrived at too late is skipped, never
			// fired retroactively.
			if !now.Before(firing.Add(window)) {
				s.seen[key] = struct{}{}
				logger.Warn(ctx, "firing missed, skipping",
					"event", ev.ID, "firing", firing.Format("15:04:05"), "now", now.Format("15:04:05"))
			}
		}
	}

	// Deterministic submission order for replays and for ties within a
	// single tick on the same pump.
	sort.Slice(jobs, func(i, j int) bool {
		a, b := jobs[i], jobs[j]
		if !a.ScheduledFor.Equal(b.ScheduledFor) {
			return a.ScheduledFor.Before(b.ScheduledFor)
		}
		if a.EventID != b.EventID {
			return a.EventID < b.EventID
		}
		return a.ZoneID < b.ZoneID
	})

	for _, job := range jobs {
		switch err := s.submit.Submit(ctx, job); {
		case err == nil:
		case errors.Is(err, executor.ErrQueueFull):
			logger.Warn(ctx, "pump queue full, job dropped",
				"pump", job.PumpID, "zone", job.ZoneID, "event", job.EventID)
		case errors.Is(err, executor.ErrUnknownPump):
			logger.Warn(ctx, "job references unknown pump, skipped",
				"pump", job.PumpID, "zone", job.ZoneID)
		default:
			logger.Error(ctx, "job submission failed", "pump", job.PumpID, "err", err)
		}
	}
}

// buildJobs creates one job per assigned enabled zone of the event, skipping
// zones whose pump is disabled or missing.
func (s *Scheduler) buildJobs(ctx context.Context, snap *model.Snapshot, ev model.WaterEvent, firing, now time.Time) []model.Job {
	var jobs []model.Job
	for _, zoneID := range ev.ZoneIDs {
		zone, ok := snap.Zone(zoneID)
		if !ok {
			logger.Warn(ctx, "event references unknown zone, skipped", "event", ev.ID, "zone", zoneID)
			continue
		}
		if !zone.Enabled {
			continue
		}
		pump, ok := snap.Pump(zone.PumpID)
		if !ok || !pump.Enabled {
			continue
		}
		jobs = append(jobs, model.Job{
			ID:           model.NewJobID(),
			EventID:      ev.ID,
			PumpID:       pump.ID,
			ZoneID:       zone.ID,
			ZoneName:     zone.Name,
			Switch:       zone.Switch,
			RunSeconds:   ev.RunSeconds,
			Origin:       model.OriginScheduled,
			SubmittedAt:  now,
			ScheduledFor: firing,
		})
	}
	if len(jobs) > 0 {
		logger.Info(ctx, "event due", "event", ev.ID, "name", ev.Name,
			"firing", firing.Format("15:04:05"), "jobs", len(jobs))
	}
	return jobs
}

// lightsOn reads the room's lights-on time, memoizing per tick. An
// unreadable reference yields nil so P1 events produce no firings.
func (s *Scheduler) lightsOn(ctx context.Context, room model.Room, cache map[string]*model.TimeOfDay) *model.TimeOfDay {
	if tod, ok := cache[room.ID]; ok {
		return tod
	}
	if room.LightsOn == "" {
		cache[room.ID] = nil
		return nil
	}
	tod, err := s.hc.ReadTimeOfDay(ctx, room.LightsOn)
	if err != nil {
		logger.Warn(ctx, "lights-on unreadable, P1 events skipped",
			"room", room.ID, "entity", room.LightsOn, "err", err)
		cache[room.ID] = nil
		return nil
	}
	cache[room.ID] = &tod
	return &tod
}

// rolloverDay clears the deduplication set when the local date changes.
func (s *Scheduler) rolloverDay(ctx context.Context, now time.Time) {
	day := now.Format(time.DateOnly)
	if day == s.day {
		return
	}
	if s.day != "" {
		logger.Debug(ctx, "day rollover, clearing firing dedup set", "day", day)
	}
	s.day = day
	s.seen = make(map[schedule.FiringKey]struct{})
}
