package process

import "time"

// State is the lifecycle position of a subprocess.
type State string

// Process states.
const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateExited   State = "exited"
	StateError    State = "error"
)

// StateChangeCallback observes state transitions. err is set for StateError
// and for an exit with a non-zero code.
type StateChangeCallback func(id string, oldState, newState State, err error)

// Info is a point-in-time view of a process.
type Info struct {
	ID        string
	State     State
	PID       int
	StartedAt time.Time
	ExitCode  int
	LastError error
}
