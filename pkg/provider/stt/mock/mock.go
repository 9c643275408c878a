// Package mock provides a scriptable stt.Transcriber for tests.
package mock

import (
	"context"
	"sync"

	"github.com/argushq/argus/pkg/provider/stt"
)

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Transcriber is a test double whose results are scripted per call. When the
// script is exhausted the last entry repeats. Safe for concurrent use.
type Transcriber struct {
	mu      sync.Mutex
	results []Result
	calls   int
	inputs  [][]byte
}

// Result is one scripted Transcribe outcome.
type Result struct {
	Text string
	Err  error
}

// NewTranscriber creates a Transcriber that plays back results in order.
func NewTranscriber(results ...Result) *Transcriber {
	return &Transcriber{results: results}
}

// Transcribe implements stt.Transcriber.
func (m *Transcriber) Transcribe(_ context.Context, wavData []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]byte, len(wavData))
	copy(cp, wavData)
	m.inputs = append(m.inputs, cp)

	idx := m.calls
	m.calls++
	if len(m.results) == 0 {
		return "", nil
	}
	if idx >= len(m.results) {
		idx = len(m.results) - 1
	}
	r := m.results[idx]
	return r.Text, r.Err
}

// Calls returns how many times Transcribe has been invoked.
func (m *Transcriber) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Inputs returns copies of every uploaded WAV payload.
func (m *Transcriber) Inputs() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.inputs))
	copy(out, m.inputs)
	return out
}
