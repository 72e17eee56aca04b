// Package model defines the configuration entities and runtime job type of
// the irrigation controller.
package model

import (
	"time"
)

// EntityRef is an opaque reference to a host entity (e.g.
// "switch.zone_1_valve"). Resolution happens at read/write time in the host
// client.
type EntityRef string

// Domain returns the entity domain (the part before the first dot), or
// "switch" when the reference carries no domain.
func (r EntityRef) Domain() string {
	for i := 0; i < len(r); i++ {
		if r[i] == '.' {
			return string(r[:i])
		}
	}
	return "switch"
}

// Room groups pumps and events and carries the light-cycle references that
// anchor P1 events.
type Room struct {
	ID       string    `yaml:"id"`
	Name     string    `yaml:"name"`
	Enabled  bool      `yaml:"enabled"`
	LightsOn EntityRef `yaml:"lightsOn"`
	// LightsOff is reserved for future window calculations; the controller
	// reads it only for status output.
	LightsOff EntityRef `yaml:"lightsOff,omitempty"`
}

// Pump is a water source shared by its zones. Lock is a boolean host entity
// that doubles as the physical actuator and the mutual-exclusion signal.
type Pump struct {
	ID      string    `yaml:"id"`
	RoomID  string    `yaml:"roomId"`
	Name    string    `yaml:"name"`
	Lock    EntityRef `yaml:"lock"`
	Enabled bool      `yaml:"enabled"`
}

// Zone is a valve fed by exactly one pump.
type Zone struct {
	ID      string    `yaml:"id"`
	PumpID  string    `yaml:"pumpId"`
	Name    string    `yaml:"name"`
	Switch  EntityRef `yaml:"switch"`
	Enabled bool      `yaml:"enabled"`
}

// EventKind distinguishes lights-relative (P1) from fixed-time (P2) events.
type EventKind string

const (
	// EventP1 fires at lights-on plus a delay.
	EventP1 EventKind = "p1"
	// EventP2 fires at a fixed local time of day.
	EventP2 EventKind = "p2"
)

// WaterEvent schedules watering for a set of zones in one room.
type WaterEvent struct {
	ID         string    `yaml:"id"`
	RoomID     string    `yaml:"roomId"`
	Kind       EventKind `yaml:"kind"`
	Name       string    `yaml:"name"`
	RunSeconds int       `yaml:"runSeconds"`
	Enabled    bool      `yaml:"enabled"`
	ZoneIDs    []string  `yaml:"zones"`

	// DelayMinutes is required when Kind is p1.
	DelayMinutes int `yaml:"delayMinutes,omitempty"`
	// TimeOfDay (HH:MM) is required when Kind is p2.
	TimeOfDay string `yaml:"timeOfDay,omitempty"`
}

// Settings are the singleton timing parameters.
type Settings struct {
	PumpStartupDelaySec  int `yaml:"pumpStartupDelaySec"`
	ZoneSwitchDelaySec   int `yaml:"zoneSwitchDelaySec"`
	SchedulerIntervalSec int `yaml:"schedulerIntervalSec"`
	StuckLockTimeoutSec  int `yaml:"stuckLockTimeoutSec"`
}

// DefaultSettings returns the documented defaults.
func DefaultSettings() Settings {
	return Settings{
		PumpStartupDelaySec:  5,
		ZoneSwitchDelaySec:   2,
		SchedulerIntervalSec: 60,
		StuckLockTimeoutSec:  300,
	}
}

// withDefaults fills zero-valued fields with the defaults.
func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.PumpStartupDelaySec <= 0 {
		s.PumpStartupDelaySec = def.PumpStartupDelaySec
	}
	if s.ZoneSwitchDelaySec <= 0 {
		s.ZoneSwitchDelaySec = def.ZoneSwitchDelaySec
	}
	if s.SchedulerIntervalSec <= 0 {
		s.SchedulerIntervalSec = def.SchedulerIntervalSec
	}
	if s.StuckLockTimeoutSec <= 0 {
		s.StuckLockTimeoutSec = def.StuckLockTimeoutSec
	}
	return s
}

// PumpStartupDelay returns the delay between lock-on and zone-on.
func (s Settings) PumpStartupDelay() time.Duration {
	return time.Duration(s.PumpStartupDelaySec) * time.Second
}

// ZoneSwitchDelay returns the delay between zone-off and lock-off.
func (s Settings) ZoneSwitchDelay() time.Duration {
	return time.Duration(s.ZoneSwitchDelaySec) * time.Second
}

// SchedulerInterval returns the tick interval.
func (s Settings) SchedulerInterval() time.Duration {
	return time.Duration(s.SchedulerIntervalSec) * time.Second
}

// StuckLockTimeout returns how long an externally held lock is tolerated.
func (s Settings) StuckLockTimeout() time.Duration {
	return time.Duration(s.StuckLockTimeoutSec) * time.Second
}

// Config is the on-disk configuration document.
type Config struct {
	Rooms    []Room       `yaml:"rooms"`
	Pumps    []Pump       `yaml:"pumps"`
	Zones    []Zone       `yaml:"zones"`
	Events   []WaterEvent `yaml:"events"`
	Settings Settings     `yaml:"settings"`
}
