// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyClaimed indicates a task is being processed by another worker.
var ErrAlreadyClaimed = errors.New("task already claimed")

// ErrTerminal indicates an operation targeted a task in a terminal state.
var ErrTerminal = errors.New("task is in a terminal state")
