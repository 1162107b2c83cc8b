package client

import "time"

// ViewTarget is where the UI host should point its view.
type ViewTarget struct {
	URL     string `json:"url"`
	Address string `json:"address"`
	PID     int    `json:"pid,omitempty"`
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

// Handle mirrors the supervisor's process handle.
type Handle struct {
	PID       int       `json:"pid"`
	Valid     bool      `json:"valid"`
	StartedAt time.Time `json:"started_at"`
	Adopted   bool      `json:"adopted,omitempty"`
}

// Stats are resource figures of the live process.
type Stats struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemoryRSS  uint64  `json:"memory_rss"`
	NumThreads int32   `json:"num_threads"`
}

// Status is the body of GET /status.
type Status struct {
	Service    string    `json:"service"`
	State      string    `json:"state"`
	Handle     Handle    `json:"handle"`
	URL        string    `json:"url"`
	Address    string    `json:"address"`
	Stats      *Stats    `json:"stats,omitempty"`
	At         time.Time `json:"at"`
	Panel      string    `json:"panel"`
	OpenPanels int       `json:"open_panels"`
}

// Running reports whether the daemon sees the service alive.
func (s Status) Running() bool { return s.State == "running" }

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
