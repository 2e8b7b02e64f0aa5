// Package nats mirrors bus lifecycle messages onto NATS JetStream subjects
// so out-of-process observability collaborators can consume them.
// The core itself never depends on NATS for coordination.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/mvanek/agentswarm/internal/domain/message"
	"github.com/mvanek/agentswarm/internal/port/bus"
)

const (
	streamName    = "AGENTSWARM"
	subjectPrefix = "swarm.events."
)

// Bridge forwards every lifecycle message published on the in-process bus
// to a JetStream subject derived from the message type.
type Bridge struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	sub bus.Subscription
	b   bus.Bus
}

// Connect establishes the NATS connection, ensures the stream exists, and
// subscribes the bridge to the bus.
func Connect(ctx context.Context, url string, b bus.Bus) (*Bridge, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ">"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	br := &Bridge{nc: nc, js: js, b: b}
	br.sub = b.Subscribe("nats-bridge", message.Lifecycle, br.forward)

	slog.Info("nats bridge connected", "url", url, "stream", streamName)
	return br, nil
}

func (br *Bridge) forward(msg message.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("nats bridge marshal failed", "type", msg.Type, "error", err)
		return
	}

	subject := subjectPrefix + string(msg.Type)
	if _, err := br.js.Publish(context.Background(), subject, data); err != nil {
		slog.Warn("nats bridge publish failed", "subject", subject, "error", err)
	}
}

// Close unsubscribes from the bus and closes the NATS connection.
func (br *Bridge) Close() {
	br.b.Unsubscribe(br.sub)
	br.nc.Close()
}
