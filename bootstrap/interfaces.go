// Package bootstrap assembles and runs an SNGO node: configuration, logging,
// the actor node, its TCP transport and the metrics endpoint.
package bootstrap

import (
	"context"
	"time"
)

// Service represents a service that can be managed by the lifecycle manager
type Service interface {
	// Start starts the service
	Start(ctx context.Context) error

	// Stop stops the service
	Stop(ctx context.Context) error

	// Health returns the health status of the service
	Health(ctx context.Context) (HealthStatus, error)

	// Name returns the service name
	Name() string
}

// HealthStatus represents the health status of a service
type HealthStatus struct {
	// State indicates whether the service is healthy
	State HealthState `json:"state"`

	// Message provides additional information about the health status
	Message string `json:"message,omitempty"`

	// LastCheck is the timestamp of the last health check
	LastCheck time.Time `json:"last_check,omitempty"`

	// Data contains additional health information
	Data map[string]interface{} `json:"data,omitempty"`
}

// HealthState represents the health state of a service
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
	HealthStopped   HealthState = "stopped"
)

// LifecycleEvent represents an event in the service lifecycle
type LifecycleEvent struct {
	Type      string    `json:"type"`
	Service   string    `json:"service,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Error     error     `json:"error,omitempty"`
}

// Lifecycle event types
const (
	EventServiceStarted     = "service.started"
	EventServiceStartFailed = "service.start_failed"
	EventServiceStopped     = "service.stopped"
	EventServiceStopFailed  = "service.stop_failed"
)
