// Package notify publishes persisted log events to external consumers.
//
// The store is the source of truth; notification is fire-and-forget fan-out
// for home automation systems that want to react to alarms without polling.
package notify

import (
	"context"

	"github.com/argushq/argus/internal/store"
)

// Notifier publishes log events as they are recorded. Implementations must
// not block the caller for longer than a broker round-trip and must tolerate
// a disconnected broker.
type Notifier interface {
	// Notify publishes one event. Errors are reported for logging only; the
	// event is already persisted and is never retried.
	Notify(ctx context.Context, entry store.LogEntry) error

	// Close releases broker connections. Idempotent.
	Close() error
}

// Nop is a Notifier that discards everything. Used when no broker is
// configured.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, store.LogEntry) error { return nil }

// Close implements Notifier.
func (Nop) Close() error { return nil }
