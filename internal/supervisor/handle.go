package supervisor

import "time"

// Handle identifies the process launched (or adopted) by a Supervisor.
// Callers only ever see copies.
type Handle struct {
	PID       int       `json:"pid"`
	Valid     bool      `json:"valid"`
	StartedAt time.Time `json:"started_at"`
	Adopted   bool      `json:"adopted,omitempty"`
}

// State is derived from the handle; there are no transient states.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// Status is a point-in-time view used by the control API.
type Status struct {
	Service string    `json:"service"`
	State   State     `json:"state"`
	Handle  Handle    `json:"handle"`
	URL     string    `json:"url"`
	Stats   *Stats    `json:"stats,omitempty"`
	At      time.Time `json:"at"`
}

// Stats are resource figures of the live process.
type Stats struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemoryRSS  uint64  `json:"memory_rss"`
	NumThreads int32   `json:"num_threads"`
}
