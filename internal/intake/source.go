// Package intake receives alarm signals from flat devices through a bridge
// subprocess.
package intake

import (
	"context"
	"errors"
	"time"
)

// ErrClosed reports that a signal channel closed while its consumer was
// still running.
var ErrClosed = errors.New("intake source closed")

// Signal is one raw alarm signal as reported by a device bridge.
type Signal struct {
	DeviceTag string
	Kind      string // device-reported kind, e.g. "sos_button", "smoke"
	Flat      string
	At        time.Time
	Message   string

	// All raw fields from the JSON object.
	Fields map[string]string
}

// Source is the interface for receiving device signals.
// Implementations include the bridge pipe and test mocks.
type Source interface {
	// Signals returns a channel of signals. The channel is closed when the
	// source stops or the context is cancelled.
	Signals(ctx context.Context) (<-chan Signal, error)

	// Stop signals the source to shut down.
	Stop()
}
