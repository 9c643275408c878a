// Package mock provides an in-memory realtime.Provider and SessionHandle for
// tests. The test side injects inbound events with Session.Emit and inspects
// everything the code under test sent.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/argushq/argus/pkg/provider/realtime"
)

// Compile-time assertions against the realtime interfaces.
var _ realtime.Provider = (*Provider)(nil)
var _ realtime.SessionHandle = (*Session)(nil)

// Provider is a test double that hands out mock sessions.
type Provider struct {
	mu sync.Mutex

	// ConnectErr, when set, is returned by Connect instead of a session.
	ConnectErr error

	sessions []*Session
	configs  []realtime.SessionConfig
}

// NewProvider creates an empty mock provider.
func NewProvider() *Provider { return &Provider{} }

// Connect implements realtime.Provider.
func (p *Provider) Connect(_ context.Context, cfg realtime.SessionConfig) (realtime.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	s := NewSession()
	p.sessions = append(p.sessions, s)
	p.configs = append(p.configs, cfg)
	return s, nil
}

// Sessions returns every session handed out so far.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, len(p.sessions))
	copy(out, p.sessions)
	return out
}

// Configs returns the SessionConfig of every Connect call.
func (p *Provider) Configs() []realtime.SessionConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]realtime.SessionConfig, len(p.configs))
	copy(out, p.configs)
	return out
}

// ToolOutput records one SendToolOutput call.
type ToolOutput struct {
	CallID string
	Output string
}

// Session is a scriptable realtime.SessionHandle.
type Session struct {
	mu          sync.Mutex
	events      chan realtime.Event
	appended    [][]byte
	commits     int
	responses   int
	toolOutputs []ToolOutput
	closed      bool
	errVal      error
	closeOnce   sync.Once
}

// NewSession creates a standalone mock session (Connect does this for you).
func NewSession() *Session {
	return &Session{events: make(chan realtime.Event, 64)}
}

// Emit delivers an inbound event to the consumer. Events emitted after Close
// are dropped.
func (s *Session) Emit(ev realtime.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

// FailWith records err as the session's fatal error and ends the event
// stream, simulating a remote-initiated disconnect.
func (s *Session) FailWith(err error) {
	s.mu.Lock()
	s.errVal = err
	s.mu.Unlock()
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
}

// AppendAudio implements realtime.SessionHandle.
func (s *Session) AppendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock: session closed")
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.appended = append(s.appended, cp)
	return nil
}

// CommitInput implements realtime.SessionHandle.
func (s *Session) CommitInput() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock: session closed")
	}
	s.commits++
	return nil
}

// CreateResponse implements realtime.SessionHandle.
func (s *Session) CreateResponse() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock: session closed")
	}
	s.responses++
	return nil
}

// SendToolOutput implements realtime.SessionHandle.
func (s *Session) SendToolOutput(callID, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock: session closed")
	}
	s.toolOutputs = append(s.toolOutputs, ToolOutput{CallID: callID, Output: output})
	return nil
}

// Events implements realtime.SessionHandle.
func (s *Session) Events() <-chan realtime.Event { return s.events }

// Err implements realtime.SessionHandle.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close implements realtime.SessionHandle. Idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
	return nil
}

// Closed reports whether Close (or FailWith) has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Appended returns every audio chunk appended so far.
func (s *Session) Appended() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.appended))
	copy(out, s.appended)
	return out
}

// Commits returns the number of CommitInput calls.
func (s *Session) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// ToolOutputs returns every SendToolOutput call in order.
func (s *Session) ToolOutputs() []ToolOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolOutput, len(s.toolOutputs))
	copy(out, s.toolOutputs)
	return out
}
