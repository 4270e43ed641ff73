package api

import "github.com/mattjoyce/cmci/internal/history"

// RunListResponse is returned by GET /runs.
type RunListResponse struct {
	Runs  []*history.Run `json:"runs"`
	Count int            `json:"count"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	RunsRecorded  int    `json:"runs_recorded"`
}
