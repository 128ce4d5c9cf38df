package metrics

import (
	"context"
	"time"
)

// Metrics represents the current state of the delivery system.
type Metrics struct {
	// StatusCounts maps status name to count of webhook events in that status
	StatusCounts map[string]int64 `json:"status_counts"`

	// DueBacklog is the number of events the retry scheduler would pick up now
	DueBacklog int64 `json:"due_backlog"`

	// ConnectedClients is the number of admin sessions on the notification stream
	ConnectedClients int64 `json:"connected_clients"`

	// Instances lists scheduler instances with a live heartbeat
	Instances []InstanceInfo `json:"instances"`

	// Timestamp when metrics were collected
	Timestamp time.Time `json:"timestamp"`
}

// InstanceInfo represents information about an active scheduler instance.
type InstanceInfo struct {
	// InstanceID is a unique identifier for the process
	InstanceID string `json:"instance_id"`

	// WorkerID is the identity the instance claims events with
	WorkerID string `json:"worker_id"`

	// LastHeartbeat is the timestamp of the last heartbeat
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Collector defines the interface for collecting metrics from the delivery system.
type Collector interface {
	// Collect gathers current metrics from the system
	Collect(ctx context.Context) (Metrics, error)

	// GetStatusCounts returns the count of webhook events by status
	GetStatusCounts(ctx context.Context) (map[string]int64, error)

	// GetDueBacklog returns the number of events due for delivery
	GetDueBacklog(ctx context.Context) (int64, error)

	// GetConnectedClients returns the number of connected admin sessions
	GetConnectedClients(ctx context.Context) (int64, error)

	// GetActiveInstances returns the scheduler instances with a live heartbeat
	GetActiveInstances(ctx context.Context) ([]InstanceInfo, error)
}
