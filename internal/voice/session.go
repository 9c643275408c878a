// Package voice runs the realtime conversation between a camera and the
// remote agent.
//
// One session exists per camera at most. A session owns its transport
// connection, its audio input pump, and its timers; closing the session for
// any reason (remote disconnect, idle expiry, error, restart) tears all of
// them down and emits exactly one closed notification.
package voice

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/argushq/argus/internal/media"
	"github.com/argushq/argus/internal/observe"
	"github.com/argushq/argus/internal/tools"
	"github.com/argushq/argus/pkg/provider/realtime"
)

// Session timing defaults.
const (
	// DefaultIdleTimeout closes the session when the agent has finished a
	// response and nothing else happens.
	DefaultIdleTimeout = 8 * time.Second

	// DefaultSilenceCommit commits the input buffer after this long without
	// an audio chunk, marking end-of-utterance.
	DefaultSilenceCommit = 5 * time.Second

	// DefaultTickInterval is how often the silence check runs.
	DefaultTickInterval = time.Second
)

// Playback is where synthesised agent audio goes. *media.Playback implements
// it.
type Playback interface {
	Play(ctx context.Context, cam media.Camera, pcm []byte) error
}

// AudioSource acquires the camera's input audio. *media.Resolver implements
// it.
type AudioSource interface {
	Acquire(ctx context.Context, cam media.Camera) io.ReadCloser
}

// Manager owns all live voice sessions, one per camera.
type Manager struct {
	provider   realtime.Provider
	source     AudioSource
	playback   Playback
	dispatcher *tools.Dispatcher
	metrics    *observe.Metrics

	voice    string
	onClosed func(cameraID string)

	idleTimeout   time.Duration
	silenceCommit time.Duration
	tickInterval  time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

// ManagerOption customises a [Manager].
type ManagerOption func(*Manager)

// WithVoice selects the agent voice for all sessions.
func WithVoice(voice string) ManagerOption {
	return func(m *Manager) { m.voice = voice }
}

// WithOnClosed registers a callback fired exactly once per session when it
// ends, with the camera ID.
func WithOnClosed(fn func(cameraID string)) ManagerOption {
	return func(m *Manager) { m.onClosed = fn }
}

// WithTimings overrides the idle-timeout, silence-commit, and tick durations
// (tests).
func WithTimings(idle, silence, tick time.Duration) ManagerOption {
	return func(m *Manager) {
		if idle > 0 {
			m.idleTimeout = idle
		}
		if silence > 0 {
			m.silenceCommit = silence
		}
		if tick > 0 {
			m.tickInterval = tick
		}
	}
}

// WithManagerMetrics overrides the metrics instance (tests).
func WithManagerMetrics(met *observe.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = met }
}

// NewManager creates a session manager.
func NewManager(provider realtime.Provider, source AudioSource, playback Playback, dispatcher *tools.Dispatcher, opts ...ManagerOption) *Manager {
	m := &Manager{
		provider:      provider,
		source:        source,
		playback:      playback,
		dispatcher:    dispatcher,
		idleTimeout:   DefaultIdleTimeout,
		silenceCommit: DefaultSilenceCommit,
		tickInterval:  DefaultTickInterval,
		sessions:      make(map[string]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Start opens a voice session for cam. An existing session for the same
// camera is fully closed first (with its own closed notification), so a
// re-triggered wake phrase replaces the connection instead of leaking it.
func (m *Manager) Start(ctx context.Context, cam media.Camera) error {
	m.mu.Lock()
	if prev, ok := m.sessions[cam.ID]; ok {
		m.mu.Unlock()
		prev.close("replaced")
		m.mu.Lock()
	}
	m.mu.Unlock()

	handle, err := m.provider.Connect(ctx, realtime.SessionConfig{
		Voice:        m.voice,
		Instructions: instructions(cam),
		Tools:        tools.Catalogue(),
	})
	if err != nil {
		return err
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		mgr:    m,
		cam:    cam,
		handle: handle,
		cancel: cancel,
		stream: m.source.Acquire(sessCtx, cam),
	}

	m.mu.Lock()
	m.sessions[cam.ID] = s
	m.mu.Unlock()
	m.metrics.ActiveSessions.Add(ctx, 1)

	slog.Info("voice session started", "camera", cam.ID)
	go s.pumpInput(sessCtx)
	go s.watchSilence(sessCtx)
	go s.consumeEvents(sessCtx)
	return nil
}

// Stop closes the session for cameraID, if any.
func (m *Manager) Stop(cameraID string) {
	m.mu.Lock()
	s, ok := m.sessions[cameraID]
	m.mu.Unlock()
	if ok {
		s.close("stopped")
	}
}

// Active reports whether cameraID has a live session.
func (m *Manager) Active(cameraID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[cameraID]
	return ok
}

// Close tears down every live session. Used at shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	open := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	for _, s := range open {
		s.close("shutdown")
	}
}

// instructions builds the camera-scoped system prompt.
func instructions(cam media.Camera) string {
	name := cam.ID
	return "You are Argus, the household camera assistant, speaking through " +
		"the camera \"" + name + "\". Keep answers short and spoken-friendly. " +
		"Use your tools to look around, remember people, and report detections."
}

// session is one live conversation.
type session struct {
	mgr    *Manager
	cam    media.Camera
	handle realtime.SessionHandle
	stream io.ReadCloser
	cancel context.CancelFunc

	// mu guards the idle timer, the last-chunk timestamp, and the pending
	// (uncommitted) byte count.
	mu        sync.Mutex
	idleTimer *time.Timer
	lastChunk time.Time
	pending   int

	closeOnce sync.Once
}

// pumpInput forwards camera audio to the agent as append events.
func (s *session) pumpInput(ctx context.Context) {
	buf := make([]byte, 4096)
	for ctx.Err() == nil {
		n, err := s.stream.Read(buf)
		if n > 0 {
			if aerr := s.handle.AppendAudio(buf[:n]); aerr != nil {
				slog.Debug("audio append failed", "camera", s.cam.ID, "error", aerr)
				return
			}
			s.mu.Lock()
			s.lastChunk = time.Now()
			s.pending += n
			s.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// watchSilence commits the input buffer once the camera has been quiet for
// the silence-commit window.
func (s *session) watchSilence(ctx context.Context) {
	ticker := time.NewTicker(s.mgr.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			quietFor := time.Since(s.lastChunk)
			shouldCommit := s.pending > 0 && !s.lastChunk.IsZero() && quietFor >= s.mgr.silenceCommit
			if shouldCommit {
				s.pending = 0
			}
			s.mu.Unlock()

			if shouldCommit {
				if err := s.handle.CommitInput(); err != nil {
					slog.Debug("input commit failed", "camera", s.cam.ID, "error", err)
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

// consumeEvents processes the ordered inbound event stream. Tool calls are
// dispatched synchronously so their outputs reach the agent before the next
// event is handled.
func (s *session) consumeEvents(ctx context.Context) {
	for ev := range s.handle.Events() {
		switch ev.Type {
		case realtime.EventAudioDelta:
			if err := s.mgr.playback.Play(ctx, s.cam, ev.Audio); err != nil {
				slog.Warn("talk-back playback failed", "camera", s.cam.ID, "error", err)
			}

		case realtime.EventTextDelta:
			slog.Debug("agent transcript", "camera", s.cam.ID, "text", ev.Text)

		case realtime.EventResponseDone:
			s.armIdleTimer()

		case realtime.EventToolCall:
			output := s.mgr.dispatcher.Dispatch(ctx, s.cam.ID, ev.Name, ev.Arguments)
			if err := s.handle.SendToolOutput(ev.CallID, output); err != nil {
				slog.Warn("tool output send failed",
					"camera", s.cam.ID, "tool", ev.Name, "error", err)
			}

		case realtime.EventError:
			slog.Warn("agent protocol error", "camera", s.cam.ID, "error", ev.Err)
		}
	}

	if err := s.handle.Err(); err != nil {
		slog.Warn("voice session transport failed", "camera", s.cam.ID, "error", err)
	}
	s.close("remote")
}

// armIdleTimer (re)starts the idle-expiry countdown. Each completed response
// replaces the previous timer.
func (s *session) armIdleTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(s.mgr.idleTimeout, func() {
		slog.Info("voice session idle, closing", "camera", s.cam.ID)
		s.close("idle")
	})
}

// close tears the session down exactly once: cancels the idle timer, stops
// the input pump and its audio source, releases the transport, removes the
// session record, and emits the single closed notification.
func (s *session) close(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.idleTimer != nil {
			s.idleTimer.Stop()
			s.idleTimer = nil
		}
		s.mu.Unlock()

		s.cancel()
		s.stream.Close()
		s.handle.Close()

		s.mgr.mu.Lock()
		if s.mgr.sessions[s.cam.ID] == s {
			delete(s.mgr.sessions, s.cam.ID)
		}
		s.mgr.mu.Unlock()
		s.mgr.metrics.ActiveSessions.Add(context.Background(), -1)

		slog.Info("voice session closed", "camera", s.cam.ID, "reason", reason)
		if s.mgr.onClosed != nil {
			s.mgr.onClosed(s.cam.ID)
		}
	})
}
