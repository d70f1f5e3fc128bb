package command

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by a sink asked to deliver while its
// connection to the control plane is down.
var ErrNotConnected = errors.New("sink not connected")

// Sink delivers one command to the downstream control plane. Implementations
// own their timeouts; the dispatcher never cancels a started delivery.
type Sink interface {
	Deliver(ctx context.Context, entityID string, cmd Command) error
}

// DiscoveredEntity is one remote entity eligible for channel assignment.
type DiscoveredEntity struct {
	ID         string
	Name       string
	Domain     string   // remote domain, e.g. "light" or "switch"
	ColorModes []string // supported color modes as reported by the remote
}

// Inventory enumerates remote entities carrying the bridge label. Sinks that
// can list their control plane implement it next to Sink.
type Inventory interface {
	ListLabeled(ctx context.Context, label string) ([]DiscoveredEntity, error)
}
