// Package mock provides scripted control-protocol fakes for tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/argushq/argus/internal/control"
)

// Client is a scripted control.Client. Connections succeed only on ports
// listed in Answering; every attempt is recorded.
type Client struct {
	// Answering maps port → the Handle returned for that port. Connect to
	// any other port fails.
	Answering map[int]*Handle

	// Devices is returned by Discover.
	Devices []control.Device

	// DiscoverErr, when set, is returned by Discover.
	DiscoverErr error

	mu       sync.Mutex
	attempts []control.Endpoint
}

var _ control.Client = (*Client)(nil)

// Connect implements control.Client.
func (c *Client) Connect(_ context.Context, ep control.Endpoint) (control.Handle, error) {
	c.mu.Lock()
	c.attempts = append(c.attempts, ep)
	c.mu.Unlock()

	if h, ok := c.Answering[ep.Port]; ok {
		return h, nil
	}
	return nil, fmt.Errorf("mock: no control endpoint on port %d", ep.Port)
}

// Discover implements control.Client.
func (c *Client) Discover(_ context.Context) ([]control.Device, error) {
	if c.DiscoverErr != nil {
		return nil, c.DiscoverErr
	}
	return append([]control.Device(nil), c.Devices...), nil
}

// Attempts returns every endpoint Connect was called with, in order.
func (c *Client) Attempts() []control.Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]control.Endpoint(nil), c.attempts...)
}

// Handle is a scripted control.Handle.
type Handle struct {
	// ProfileList is returned by Profiles.
	ProfileList []control.Profile

	// StreamURIs and SnapshotURIs map profile token → URI. Unknown tokens
	// fail.
	StreamURIs   map[string]string
	SnapshotURIs map[string]string

	// MoveErr, when set, is returned by Move.
	MoveErr error

	mu     sync.Mutex
	closed bool
	moves  []string
}

var _ control.Handle = (*Handle)(nil)

// Profiles implements control.Handle.
func (h *Handle) Profiles(context.Context) ([]control.Profile, error) {
	return append([]control.Profile(nil), h.ProfileList...), nil
}

// StreamURI implements control.Handle.
func (h *Handle) StreamURI(_ context.Context, token string) (string, error) {
	if uri, ok := h.StreamURIs[token]; ok {
		return uri, nil
	}
	return "", fmt.Errorf("mock: no stream URI for profile %q", token)
}

// SnapshotURI implements control.Handle.
func (h *Handle) SnapshotURI(_ context.Context, token string) (string, error) {
	if uri, ok := h.SnapshotURIs[token]; ok {
		return uri, nil
	}
	return "", fmt.Errorf("mock: no snapshot URI for profile %q", token)
}

// Move implements control.Handle.
func (h *Handle) Move(_ context.Context, _, direction string) error {
	if h.MoveErr != nil {
		return h.MoveErr
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.moves = append(h.moves, direction)
	return nil
}

// Moves returns every Move direction in order.
func (h *Handle) Moves() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.moves...)
}

// Close implements control.Handle.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
