// Package schedule holds the pure firing-time calculations. Nothing here
// performs I/O; callers supply live entity values and the current time.
package schedule

import (
	"time"

	"github.com/drip-org/drip/internal/model"
)

// FiringKey identifies one firing of one event within a day, used for
// intra-day deduplication.
type FiringKey struct {
	EventID string
	At      string // HH:MM:SS
}

// KeyFor builds the deduplication key for a firing.
func KeyFor(eventID string, firing time.Time) FiringKey {
	return FiringKey{EventID: eventID, At: firing.Format("15:04:05")}
}

// Firings computes the wall-clock instants at which the event fires during
// the local day containing now.
//
// P1 events require the room's lights-on time; pass nil when the reference
// is missing or unreadable and the event yields no firings. P2 events fire
// at their fixed time of day.
func Firings(ev model.WaterEvent, lightsOn *model.TimeOfDay, now time.Time) []time.Time {
	switch ev.Kind {
	case model.EventP1:
		if lightsOn == nil {
			return nil
		}
		firing := lightsOn.At(now).Add(time.Duration(ev.DelayMinutes) * time.Minute)
		return []time.Time{firing}

	case model.EventP2:
		tod, err := model.ParseTimeOfDay(ev.TimeOfDay)
		if err != nil {
			return nil
		}
		return []time.Time{tod.At(now)}

	default:
		return nil
	}
}

// IsDue reports whether firing <= now < firing+window. With window equal to
// the scheduler tick interval, each firing is due during exactly one tick.
func IsDue(firing, now time.Time, window time.Duration) bool {
	return !now.Before(firing) && now.Sub(firing) < window
}

// NextRun returns the earliest firing after now across the given events,
// looking at today and then tomorrow. It returns false when no event
// produces an upcoming firing.
func NextRun(events []model.WaterEvent, lightsOn *model.TimeOfDay, now time.Time) (time.Time, bool) {
	var next time.Time
	found := false

	consider := func(day time.Time) {
		for _, ev := range events {
			if !ev.Enabled {
				continue
			}
			for _, firing := range Firings(ev, lightsOn, day) {
				if !firing.After(now) {
					continue
				}
				if !found || firing.Before(next) {
					next = firing
					found = true
				}
			}
		}
	}

	consider(now)
	if !found {
		consider(now.AddDate(0, 0, 1))
	}
	return next, found
}
