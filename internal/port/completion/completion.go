// Package completion defines the port for the language-model text-completion service.
package completion

import (
	"context"
	"errors"
)

// ErrServiceUnavailable is returned when the completion backend cannot be
// reached or its circuit breaker is open. Callers treat it as a transient
// failure and fall back to a default solution rather than failing the task.
var ErrServiceUnavailable = errors.New("completion service unavailable")

// Completer produces free-text completions for agent prompts.
// An empty or garbled response is not an error at this boundary; parsers
// upstream must treat it as recoverable.
type Completer interface {
	Complete(ctx context.Context, agentID, prompt string) (string, error)
}
