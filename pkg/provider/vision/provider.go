// Package vision defines the Analyzer interface to the remote vision-analysis
// service that inspects camera snapshots for objects, faces, and alarms.
package vision

import "context"

// Credentials carries camera HTTP auth forwarded to the analysis service so
// it can fetch the snapshot itself.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

// Request identifies the snapshot to analyse.
type Request struct {
	CameraID    string       `json:"cameraId"`
	SnapshotURI string       `json:"snapshotUri"`
	Credentials *Credentials `json:"credentials,omitempty"`
}

// Object is one detected object with its label confidence and bounding box
// ([x1, y1, x2, y2] in pixels).
type Object struct {
	Label      string     `json:"label"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
}

// Person is one detected face with its identity embedding.
type Person struct {
	BBox       [4]float64 `json:"bbox"`
	Confidence float64    `json:"confidence"`
	Embedding  []float64  `json:"embedding"`
}

// Result is the analysis outcome for a single snapshot.
type Result struct {
	Objects []Object `json:"objects"`
	People  []Person `json:"people"`

	// Alarms holds human-readable alarm tags (e.g. "Detected fire").
	Alarms []string `json:"alarms"`

	// SnapshotDataURL is the fetched image re-encoded as a data URL, kept so
	// the snapshot can be persisted even when the camera URI is one-shot.
	SnapshotDataURL string `json:"snapshotDataUrl"`
}

// Analyzer submits snapshots for remote analysis.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (Result, error)
}
