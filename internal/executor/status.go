package executor

// State is the coarse status of a pump.
type State string

const (
	// StateIdle means no current job and an empty queue.
	StateIdle State = "idle"
	// StateRunning means a job is actuating the pump right now.
	StateRunning State = "running"
	// StateQueued means no current job but pending jobs exist.
	StateQueued State = "queued"
)

// Status is the read-only projection of a pump executor, for status
// endpoints and logs.
type Status struct {
	State      State
	ActiveZone string
	QueueLen   int
	LastError  string
}
