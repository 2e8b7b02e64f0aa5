// Package bus defines the message bus port (interface).
//
// The bus is an explicitly constructed instance passed into every component
// that publishes or subscribes; there is no package-level singleton.
package bus

import (
	"github.com/mvanek/agentswarm/internal/domain/message"
)

// Handler processes a message delivered to a subscriber.
// A panicking handler is recovered by the bus and never affects delivery
// to other subscribers.
type Handler func(msg message.Message)

// Subscription identifies one registered subscriber so it can be removed.
type Subscription struct {
	ID           string
	SubscriberID string
}

// Stats holds bus counters, readable while publishing continues.
type Stats struct {
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Delivered   int64 `json:"delivered"`
	Dropped     int64 `json:"dropped"`
	Panics      int64 `json:"panics"`
}

// Bus is the port interface for in-process publish/subscribe.
//
// Delivery is at-most-once and best-effort: there is no persistence or
// replay, and messages published before a subscription exists are not seen
// by that subscriber. Publish order is preserved per subscriber only.
type Bus interface {
	// Publish delivers msg to all current subscribers of msg.Type.
	Publish(msg message.Message)

	// Subscribe registers handler for the given message types.
	Subscribe(subscriberID string, types []message.Type, handler Handler) Subscription

	// Unsubscribe removes a subscription. Unknown subscriptions are ignored.
	Unsubscribe(sub Subscription)

	// Stats returns current bus counters.
	Stats() Stats

	// Close stops dispatch goroutines and drops all subscriptions.
	Close()
}
