package ipc

import "time"

// TargetSpec names one download target to start.
type TargetSpec struct {
	Ref        string `json:"ref"`
	Label      string `json:"label"`
	Identifier string `json:"identifier"`
}

// TaskView is the task DTO surfaced to IPC clients.
type TaskView struct {
	ID            string    `json:"id"`
	Label         string    `json:"label"`
	Identifier    string    `json:"identifier"`
	OriginRef     string    `json:"origin_ref"`
	State         string    `json:"state"`
	Detail        string    `json:"detail"`
	Progress      int       `json:"progress"`
	BoundEventID  string    `json:"bound_event_id"`
	FallbackBound bool      `json:"fallback_bound"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PingRequest checks daemon liveness.
type PingRequest struct{}

// PingResponse answers a liveness check.
type PingResponse struct {
	Pong bool `json:"pong"`
	PID  int  `json:"pid"`
}

// StartTasksRequest creates and triggers tasks for the given targets. A
// positive DelayMS overrides the configured inter-task trigger delay.
type StartTasksRequest struct {
	Targets []TargetSpec `json:"targets"`
	DelayMS int          `json:"delay_ms"`
}

// StartTasksResponse returns the ids of the created tasks.
type StartTasksResponse struct {
	TaskIDs []string `json:"task_ids"`
}

// RetryTasksRequest resets failed tasks and re-triggers them. A positive
// DelayMS overrides the configured inter-task trigger delay.
type RetryTasksRequest struct {
	IDs     []string `json:"ids"`
	DelayMS int      `json:"delay_ms"`
}

// RetryTasksResponse returns the ids actually retried.
type RetryTasksResponse struct {
	Retried []string `json:"retried"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon and task status information.
type StatusResponse struct {
	Running         bool           `json:"running"`
	PID             int            `json:"pid"`
	DatabasePath    string         `json:"database_path"`
	LockPath        string         `json:"lock_path"`
	TaskStats       map[string]int `json:"task_stats"`
	UnmatchedEvents int            `json:"unmatched_events"`
	Tasks           []TaskView     `json:"tasks"`
}

// ClearCompletedRequest removes completed tasks.
type ClearCompletedRequest struct{}

// ClearCompletedResponse returns the removed task ids.
type ClearCompletedResponse struct {
	Removed []string `json:"removed"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
