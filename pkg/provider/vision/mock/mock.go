// Package mock provides a scriptable vision.Analyzer for tests.
package mock

import (
	"context"
	"sync"

	"github.com/argushq/argus/pkg/provider/vision"
)

// Compile-time assertion that Analyzer implements vision.Analyzer.
var _ vision.Analyzer = (*Analyzer)(nil)

// Analyzer is a test double returning a fixed result (or error) and
// recording every request. Safe for concurrent use.
type Analyzer struct {
	mu       sync.Mutex
	Result   vision.Result
	Err      error
	requests []vision.Request
}

// Analyze implements vision.Analyzer.
func (m *Analyzer) Analyze(_ context.Context, req vision.Request) (vision.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.Err != nil {
		return vision.Result{}, m.Err
	}
	return m.Result, nil
}

// Requests returns every Analyze request seen so far.
func (m *Analyzer) Requests() []vision.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]vision.Request, len(m.requests))
	copy(out, m.requests)
	return out
}
