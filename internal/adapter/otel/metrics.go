// Package otel provides OpenTelemetry metric instruments for the core.
// Exporter and provider setup is the embedding host's concern.
package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "agentswarm"

// Metrics holds all agentswarm metric instruments.
type Metrics struct {
	TasksClaimed      metric.Int64Counter
	TasksCompleted    metric.Int64Counter
	TasksFailed       metric.Int64Counter
	WorkerRestarts    metric.Int64Counter
	SessionsCompleted metric.Int64Counter
	SessionDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksClaimed, err = meter.Int64Counter("agentswarm.tasks.claimed",
		metric.WithDescription("Number of tasks claimed by workers"))
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("agentswarm.tasks.completed",
		metric.WithDescription("Number of tasks completed"))
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("agentswarm.tasks.failed",
		metric.WithDescription("Number of tasks failed"))
	if err != nil {
		return nil, err
	}

	m.WorkerRestarts, err = meter.Int64Counter("agentswarm.workers.restarted",
		metric.WithDescription("Number of worker restarts by the health monitor"))
	if err != nil {
		return nil, err
	}

	m.SessionsCompleted, err = meter.Int64Counter("agentswarm.sessions.completed",
		metric.WithDescription("Number of brainstorming sessions finished"))
	if err != nil {
		return nil, err
	}

	m.SessionDuration, err = meter.Float64Histogram("agentswarm.session.duration_seconds",
		metric.WithDescription("Brainstorming session duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
