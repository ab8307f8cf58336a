package client

import (
	"fmt"
	"time"
)

// RegisterRequest registers a daemon under name. Command is resolved
// relative to the supervisor's daemons directory.
type RegisterRequest struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// DaemonStatus represents the status of a single daemon
type DaemonStatus struct {
	Name       string    `json:"name"`
	Command    string    `json:"command"`
	Args       []string  `json:"args,omitempty"`
	PID        int       `json:"pid"`
	State      string    `json:"state"`
	Alive      bool      `json:"alive"`
	Outcome    string    `json:"outcome,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	LastChange time.Time `json:"last_change"`
	LastEvent  time.Time `json:"last_event"`
	LastError  string    `json:"last_error,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is a non-2xx reply from the supervisor.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return "API error: " + e.Message
}
