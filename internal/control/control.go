// Package control abstracts the camera control protocol: the ONVIF-style
// endpoint on the camera that serves device metadata, media profiles, stream
// URIs, and snapshot URIs.
//
// The lifecycle manager probes candidate control ports through [Client] and
// operates the winning connection through [Handle]. The concrete protocol
// implementation is an external collaborator; this package specifies the
// surface the rest of Argus depends on, plus a scripted mock for tests.
package control

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable is returned by [Unavailable.Connect]. The lifecycle manager
// distinguishes it from a real connection failure: a deployment without a
// control stack attaches cameras without a control connection, while a
// configured control client that fails every candidate port fails the attach.
var ErrUnavailable = errors.New("control: no control stack configured")

// Endpoint identifies one control-protocol endpoint on a camera.
type Endpoint struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Profile is one media profile advertised by a camera.
type Profile struct {
	// Token is the protocol-level profile identifier, used to request URIs.
	Token string

	// Name is the camera's label for the profile, if any.
	Name string
}

// Device is a camera discovered on the local network.
type Device struct {
	Host string
	Port int

	// Name is the advertised model or friendly name, if available.
	Name string
}

// Client connects to camera control endpoints.
type Client interface {
	// Connect establishes a control connection to ep. A non-nil error means
	// the endpoint did not answer the protocol on that port; the caller is
	// expected to try the next candidate.
	Connect(ctx context.Context, ep Endpoint) (Handle, error)

	// Discover probes the local network for cameras answering the control
	// protocol. Best effort; an empty slice with nil error means none found.
	Discover(ctx context.Context) ([]Device, error)
}

// Unavailable is the Client for deployments without a control stack: no
// endpoint ever answers and discovery finds nothing. Cameras still stream,
// wake, and talk back; snapshots fall back to frame grabs and PTZ is refused.
type Unavailable struct{}

// Connect implements Client.
func (Unavailable) Connect(_ context.Context, ep Endpoint) (Handle, error) {
	return nil, fmt.Errorf("%w (%s:%d)", ErrUnavailable, ep.Host, ep.Port)
}

// Discover implements Client.
func (Unavailable) Discover(context.Context) ([]Device, error) { return nil, nil }

// Handle is an established control connection to one camera.
type Handle interface {
	// Profiles lists the camera's media profiles.
	Profiles(ctx context.Context) ([]Profile, error)

	// StreamURI returns the RTSP stream URI for the given profile token.
	StreamURI(ctx context.Context, profileToken string) (string, error)

	// SnapshotURI returns the HTTP snapshot URI for the given profile token.
	SnapshotURI(ctx context.Context, profileToken string) (string, error)

	// Move pans/tilts the camera one step in a cardinal direction
	// (up, down, left, right). Cameras without PTZ return an error.
	Move(ctx context.Context, profileToken, direction string) error

	// Close releases the connection. Idempotent.
	Close() error
}
