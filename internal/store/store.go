// Package store defines the persisted state shared by every component:
// camera descriptors, known people, and the event log.
//
// The core never holds the store locked across a suspension point — callers
// read a Snapshot, compute, then issue discrete update calls, each of which
// is atomic with respect to the backing write.
package store

import (
	"context"
	"time"
)

// Camera is the persisted descriptor for one camera.
type Camera struct {
	// ID is the stable camera identity. Required.
	ID string `json:"id"`

	// Name is the human-readable label used in agent instructions and logs.
	Name string `json:"name"`

	// Host is the camera's network address (IP or DNS name).
	Host string `json:"host"`

	// Port is the explicit control-protocol port, 0 when unset. A value equal
	// to the RTSP streaming port is treated as user error and overridden by
	// the lifecycle manager.
	Port int `json:"port,omitempty"`

	// StreamURL is the explicit primary video stream URL, if configured.
	StreamURL string `json:"streamUrl,omitempty"`

	// AudioURL is a dedicated audio stream URL, if the camera exposes one.
	AudioURL string `json:"audioUrl,omitempty"`

	// TalkURL is the outbound talk-back channel URL, if the camera accepts
	// audio.
	TalkURL string `json:"talkUrl,omitempty"`

	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// AudioSupported marks cameras whose streams carry a usable audio track.
	// Wake detection (and with it voice sessions) only runs on cameras that
	// set it; video capture and analysis run regardless.
	AudioSupported bool `json:"audioSupported"`

	// LastSnapshot is the most recent snapshot reference: either a fetchable
	// URI or a data URL captured from the stream.
	LastSnapshot string `json:"lastSnapshot,omitempty"`
}

// Person is a known identity with its face embedding.
type Person struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Embedding []float64 `json:"embedding"`

	LastSeenCamera string    `json:"lastSeenCamera,omitempty"`
	LastSeenAt     time.Time `json:"lastSeenAt,omitzero"`
}

// LogLevel tags a log entry's severity.
type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelAlarm LogLevel = "alarm"
)

// LogEntry is one persisted event, queryable by the admin surface.
type LogEntry struct {
	ID       string    `json:"id"`
	Time     time.Time `json:"time"`
	Level    LogLevel  `json:"level"`
	CameraID string    `json:"cameraId,omitempty"`
	Message  string    `json:"message"`
}

// State is the full persisted document.
type State struct {
	Cameras []Camera   `json:"cameras"`
	People  []Person   `json:"people"`
	Logs    []LogEntry `json:"logs"`
}

// Store is the persistence collaborator. Implementations must be safe for
// concurrent use; every mutation is atomic with respect to the backing write.
type Store interface {
	// Snapshot returns a copy of the full persisted state.
	Snapshot(ctx context.Context) (State, error)

	// UpsertCamera inserts or replaces a camera by ID.
	UpsertCamera(ctx context.Context, cam Camera) error

	// AppendLog appends an event. A zero ID or Time is filled in.
	AppendLog(ctx context.Context, entry LogEntry) error

	// AddPerson registers a new known identity and returns it with its
	// generated ID.
	AddPerson(ctx context.Context, p Person) (Person, error)

	// UpdatePersonEmbedding replaces a known person's face embedding.
	UpdatePersonEmbedding(ctx context.Context, personID string, embedding []float64) error

	// UpdateLastSeen records where and when a known person was last matched.
	UpdateLastSeen(ctx context.Context, personID, cameraID string, at time.Time) error
}
