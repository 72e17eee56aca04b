package model

import (
	"fmt"
)

// Snapshot is an immutable, internally consistent view of the configuration.
// All references are resolvable; callers never mutate it.
type Snapshot struct {
	rooms    map[string]Room
	pumps    map[string]Pump
	zones    map[string]Zone
	events   []WaterEvent
	settings Settings
}

// NewSnapshot validates the configuration and builds a snapshot. It returns
// an error on any dangling reference, duplicate ID, or malformed event.
func NewSnapshot(cfg Config) (*Snapshot, error) {
	s := &Snapshot{
		rooms:    make(map[string]Room, len(cfg.Rooms)),
		pumps:    make(map[string]Pump, len(cfg.Pumps)),
		zones:    make(map[string]Zone, len(cfg.Zones)),
		events:   make([]WaterEvent, len(cfg.Events)),
		settings: cfg.Settings.withDefaults(),
	}
	copy(s.events, cfg.Events)

	for _, room := range cfg.Rooms {
		if room.ID == "" {
			return nil, fmt.Errorf("room %q: empty id", room.Name)
		}
		if _, ok := s.rooms[room.ID]; ok {
			return nil, fmt.Errorf("duplicate room id %q", room.ID)
		}
		s.rooms[room.ID] = room
	}

	for _, pump := range cfg.Pumps {
		if pump.ID == "" {
			return nil, fmt.Errorf("pump %q: empty id", pump.Name)
		}
		if _, ok := s.pumps[pump.ID]; ok {
			return nil, fmt.Errorf("duplicate pump id %q", pump.ID)
		}
		if _, ok := s.rooms[pump.RoomID]; !ok {
			return nil, fmt.Errorf("pump %q: unknown room %q", pump.ID, pump.RoomID)
		}
		if pump.Lock == "" {
			return nil, fmt.Errorf("pump %q: missing lock entity", pump.ID)
		}
		s.pumps[pump.ID] = pump
	}

	for _, zone := range cfg.Zones {
		if zone.ID == "" {
			return nil, fmt.Errorf("zone %q: empty id", zone.Name)
		}
		if _, ok := s.zones[zone.ID]; ok {
			return nil, fmt.Errorf("duplicate zone id %q", zone.ID)
		}
		if _, ok := s.pumps[zone.PumpID]; !ok {
			return nil, fmt.Errorf("zone %q: unknown pump %q", zone.ID, zone.PumpID)
		}
		if zone.Switch == "" {
			return nil, fmt.Errorf("zone %q: missing switch entity", zone.ID)
		}
		s.zones[zone.ID] = zone
	}

	for _, ev := range cfg.Events {
		if err := s.validateEvent(ev); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Snapshot) validateEvent(ev WaterEvent) error {
	if ev.ID == "" {
		return fmt.Errorf("event %q: empty id", ev.Name)
	}
	room, ok := s.rooms[ev.RoomID]
	if !ok {
		return fmt.Errorf("event %q: unknown room %q", ev.ID, ev.RoomID)
	}
	if ev.RunSeconds <= 0 {
		return fmt.Errorf("event %q: runSeconds must be positive", ev.ID)
	}
	switch ev.Kind {
	case EventP1:
		if ev.DelayMinutes < 0 {
			return fmt.Errorf("event %q: negative delayMinutes", ev.ID)
		}
	case EventP2:
		if _, err := ParseTimeOfDay(ev.TimeOfDay); err != nil {
			return fmt.Errorf("event %q: %w", ev.ID, err)
		}
	default:
		return fmt.Errorf("event %q: unknown kind %q", ev.ID, ev.Kind)
	}
	for _, zoneID := range ev.ZoneIDs {
		zone, ok := s.zones[zoneID]
		if !ok {
			return fmt.Errorf("event %q: unknown zone %q", ev.ID, zoneID)
		}
		pump := s.pumps[zone.PumpID]
		if pump.RoomID != room.ID {
			return fmt.Errorf("event %q: zone %q belongs to room %q, not %q",
				ev.ID, zoneID, pump.RoomID, room.ID)
		}
	}
	return nil
}

// Settings returns the effective settings with defaults applied.
func (s *Snapshot) Settings() Settings {
	return s.settings
}

// Room returns the room with the given ID.
func (s *Snapshot) Room(id string) (Room, bool) {
	r, ok := s.rooms[id]
	return r, ok
}

// Pump returns the pump with the given ID.
func (s *Snapshot) Pump(id string) (Pump, bool) {
	p, ok := s.pumps[id]
	return p, ok
}

// Zone returns the zone with the given ID.
func (s *Snapshot) Zone(id string) (Zone, bool) {
	z, ok := s.zones[id]
	return z, ok
}

// Events returns all events, in document order.
func (s *Snapshot) Events() []WaterEvent {
	out := make([]WaterEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Rooms returns all rooms.
func (s *Snapshot) Rooms() []Room {
	out := make([]Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	return out
}

// Pumps returns all pumps.
func (s *Snapshot) Pumps() []Pump {
	out := make([]Pump, 0, len(s.pumps))
	for _, p := range s.pumps {
		out = append(out, p)
	}
	return out
}
