// Package message defines the typed envelope exchanged on the message bus.
package message

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of message.
type Type string

const (
	TypeTaskCreated     Type = "task.created"
	TypeTaskClaimed     Type = "task.claimed"
	TypeTaskCompleted   Type = "task.completed"
	TypeTaskFailed      Type = "task.failed"
	TypeTaskCancelled   Type = "task.cancelled"
	TypeFileChanged     Type = "file.changed"
	TypeWorkerUnhealthy Type = "worker.unhealthy"
	TypeWorkerRestarted Type = "worker.restarted"
	TypeSessionStarted  Type = "session.started"
	TypeSessionEnded    Type = "session.ended"
)

// Lifecycle lists every type published by the core, in a stable order.
// Observability adapters subscribe to all of them.
var Lifecycle = []Type{
	TypeTaskCreated,
	TypeTaskClaimed,
	TypeTaskCompleted,
	TypeTaskFailed,
	TypeTaskCancelled,
	TypeFileChanged,
	TypeWorkerUnhealthy,
	TypeWorkerRestarted,
	TypeSessionStarted,
	TypeSessionEnded,
}

// Message is an immutable typed envelope published on the bus.
type Message struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Sender    string          `json:"sender"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
