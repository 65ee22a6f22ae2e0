package models

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionStopped   SessionStatus = "stopped"
	SessionFailed    SessionStatus = "failed"
)

// Active reports whether the session still holds the single
// running-or-paused slot.
func (s SessionStatus) Active() bool {
	return s == SessionRunning || s == SessionPaused
}

type TriggerType string

const (
	TriggerScheduled TriggerType = "scheduled"
	TriggerManual    TriggerType = "manual"
	TriggerAPI       TriggerType = "api"
)

// RouteDetail is the per-route outcome recorded into a session.
type RouteDetail struct {
	Origin       string    `json:"origin"`
	Destination  string    `json:"destination"`
	DatesTracked int       `json:"dates_tracked"`
	FlightsFound int       `json:"flights_found"`
	FlightsSaved int       `json:"flights_saved"`
	Errors       []string  `json:"errors,omitempty"`
	CompletedAt  time.Time `json:"completed_at"`
}

// ScrapingSession is one execution of the automated tracker.
// DurationSeconds counts active time only; time spent paused is
// accumulated separately in PauseDurationSeconds.
type ScrapingSession struct {
	ID                   uuid.UUID     `json:"id" db:"id"`
	TriggerType          TriggerType   `json:"trigger_type" db:"trigger_type"`
	Status               SessionStatus `json:"status" db:"status"`
	StartedAt            time.Time     `json:"started_at" db:"started_at"`
	PausedAt             *time.Time    `json:"paused_at" db:"paused_at"`
	ResumedAt            *time.Time    `json:"resumed_at" db:"resumed_at"`
	CompletedAt          *time.Time    `json:"completed_at" db:"completed_at"`
	TotalRoutes          int           `json:"total_routes" db:"total_routes"`
	CompletedRoutes      int           `json:"completed_routes" db:"completed_routes"`
	FailedRoutes         int           `json:"failed_routes" db:"failed_routes"`
	TotalFlightsFound    int           `json:"total_flights_found" db:"total_flights_found"`
	TotalFlightsSaved    int           `json:"total_flights_saved" db:"total_flights_saved"`
	TotalErrors          int           `json:"total_errors" db:"total_errors"`
	RouteDetails         []RouteDetail `json:"route_details" db:"route_details"`
	ErrorMessage         string        `json:"error_message" db:"error_message"`
	DurationSeconds      int64         `json:"duration_seconds" db:"duration_seconds"`
	PauseDurationSeconds int64         `json:"pause_duration_seconds" db:"pause_duration_seconds"`
	UpdatedAt            time.Time     `json:"updated_at" db:"updated_at"`
}

// SessionStats summarizes the session ledger.
type SessionStats struct {
	TotalSessions      int     `json:"total_sessions"`
	CompletedSessions  int     `json:"completed_sessions"`
	FailedSessions     int     `json:"failed_sessions"`
	SuccessRate        float64 `json:"success_rate"`
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`
	TotalFlightsSaved  int64   `json:"total_flights_saved"`
}

// ControlResult is the structured outcome of a pause/resume/stop
// request. Invalid-state control calls return Success=false with a
// reason; they never raise.
type ControlResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// TrackerStatus is the scheduler's answer to a status query.
type TrackerStatus struct {
	IsRunning  bool       `json:"is_running"`
	IsPaused   bool       `json:"is_paused"`
	SessionID  *uuid.UUID `json:"session_id,omitempty"`
	RouteCount int        `json:"route_count"`
}
