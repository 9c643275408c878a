// Package stt defines the Transcriber interface for batch speech-to-text
// backends.
//
// The wake-phrase loop buffers a few seconds of PCM, wraps it in a WAV
// container, and submits the whole utterance in one call — there is no
// streaming requirement, so the contract is deliberately a single method.
// Implementations must be safe for concurrent use: every attached camera
// shares one Transcriber.
package stt

import "context"

// Transcriber converts a complete audio recording into text.
type Transcriber interface {
	// Transcribe submits wavData (a self-describing RIFF/WAV file) and returns
	// the recognised text. An empty string with a nil error means the backend
	// heard nothing intelligible.
	Transcribe(ctx context.Context, wavData []byte) (string, error)
}
