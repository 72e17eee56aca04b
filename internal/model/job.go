package model

import (
	"time"

	"github.com/google/uuid"
)

// Origin says who created a job.
type Origin string

const (
	// OriginScheduled marks jobs produced by the scheduler tick.
	OriginScheduled Origin = "scheduled"
	// OriginManual marks jobs produced by the manual surface.
	OriginManual Origin = "manual"
)

// Job is one unit of work for exactly one zone on exactly one pump. Jobs are
// runtime-only: they pass through one pump queue exactly once and are
// discarded on completion, failure, or cancellation.
type Job struct {
	ID           string
	EventID      string // empty for manual jobs
	PumpID       string
	ZoneID       string
	ZoneName     string
	Switch       EntityRef
	RunSeconds   int
	Origin       Origin
	SubmittedAt  time.Time
	ScheduledFor time.Time
}

// NewJobID returns a fresh job identifier.
func NewJobID() string {
	return uuid.NewString()
}

// RunDuration returns the watering duration.
func (j Job) RunDuration() time.Duration {
	return time.Duration(j.RunSeconds) * time.Second
}
