package api

import "github.com/mattjoyce/nanny/internal/journal"

// HealthzResponse is the /healthz payload.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// StatusResponse is the /status payload.
type StatusResponse struct {
	State         string `json:"state"`
	PID           int    `json:"pid"`
	Restarts      int    `json:"restarts"`
	URL           string `json:"url,omitempty"`
	IP            string `json:"ip,omitempty"`
	Port          int    `json:"port,omitempty"`
	ConfigDigest  string `json:"config_digest,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// EventsResponse is the /events payload.
type EventsResponse struct {
	Events []journal.Entry `json:"events"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}
