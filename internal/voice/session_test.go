package voice

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/argushq/argus/internal/media"
	"github.com/argushq/argus/internal/tools"
	"github.com/argushq/argus/pkg/provider/realtime"
	rtmock "github.com/argushq/argus/pkg/provider/realtime/mock"
	"github.com/argushq/argus/pkg/provider/vision"
)

// fakeSource serves one scripted stream per Acquire; blocked streams after
// the script runs out.
type fakeSource struct {
	mu      sync.Mutex
	streams []io.ReadCloser
}

func (f *fakeSource) Acquire(_ context.Context, _ media.Camera) io.ReadCloser {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) > 0 {
		s := f.streams[0]
		f.streams = f.streams[1:]
		return s
	}
	return newBlockedStream()
}

type blockedStream struct {
	once sync.Once
	ch   chan struct{}
}

func newBlockedStream() *blockedStream {
	return &blockedStream{ch: make(chan struct{})}
}

func (b *blockedStream) Read([]byte) (int, error) {
	<-b.ch
	return 0, io.EOF
}

func (b *blockedStream) Close() error {
	b.once.Do(func() { close(b.ch) })
	return nil
}

// dataThenBlock serves data, then blocks until closed.
type dataThenBlock struct {
	r       io.Reader
	blocked *blockedStream
}

func newDataThenBlock(data string) *dataThenBlock {
	return &dataThenBlock{r: strings.NewReader(data), blocked: newBlockedStream()}
}

func (d *dataThenBlock) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if err == io.EOF {
		return d.blocked.Read(p)
	}
	return n, err
}

func (d *dataThenBlock) Close() error { return d.blocked.Close() }

// fakePlayback records played PCM.
type fakePlayback struct {
	mu     sync.Mutex
	played [][]byte
}

func (f *fakePlayback) Play(_ context.Context, _ media.Camera, pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played = append(f.played, append([]byte(nil), pcm...))
	return nil
}

func (f *fakePlayback) playedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.played)
}

// fakeOps satisfies tools.CameraOps with canned answers.
type fakeOps struct{}

func (fakeOps) TakeSnapshot(context.Context, string) (string, error)      { return "snap-1", nil }
func (fakeOps) RegisterPerson(context.Context, string, string) (string, error) {
	return "p-1", nil
}
func (fakeOps) MoveCamera(context.Context, string, string) error { return nil }
func (fakeOps) LatestDetection(string) (vision.Result, bool)     { return vision.Result{}, false }
func (fakeOps) PeopleNames(context.Context) ([]string, error)    { return nil, nil }

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

type testHarness struct {
	provider *rtmock.Provider
	source   *fakeSource
	playback *fakePlayback
	mgr      *Manager
	closed   atomic.Int32
}

func newHarness(t *testing.T, opts ...ManagerOption) *testHarness {
	t.Helper()
	h := &testHarness{
		provider: rtmock.NewProvider(),
		source:   &fakeSource{},
		playback: &fakePlayback{},
	}
	base := []ManagerOption{
		WithVoice("alloy"),
		WithOnClosed(func(string) { h.closed.Add(1) }),
		// Long defaults so timers never fire unless a test opts in.
		WithTimings(time.Hour, time.Hour, time.Hour),
	}
	h.mgr = NewManager(h.provider, h.source, h.playback,
		tools.NewDispatcher(fakeOps{}, nil), append(base, opts...)...)
	t.Cleanup(h.mgr.Close)
	return h
}

func TestStart_SendsCameraScopedConfig(t *testing.T) {
	h := newHarness(t)

	if err := h.mgr.Start(context.Background(), media.Camera{ID: "porch"}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	cfgs := h.provider.Configs()
	if len(cfgs) != 1 {
		t.Fatalf("connects = %d, want 1", len(cfgs))
	}
	if cfgs[0].Voice != "alloy" {
		t.Errorf("voice = %q", cfgs[0].Voice)
	}
	if !strings.Contains(cfgs[0].Instructions, "porch") {
		t.Errorf("instructions %q not camera-scoped", cfgs[0].Instructions)
	}
	if len(cfgs[0].Tools) != 4 {
		t.Errorf("tool catalogue size = %d, want 4", len(cfgs[0].Tools))
	}
	if !h.mgr.Active("porch") {
		t.Error("session not recorded")
	}
}

func TestInputPump_ForwardsAudio(t *testing.T) {
	h := newHarness(t)
	h.source.streams = []io.ReadCloser{newDataThenBlock("pcm-audio-bytes")}

	if err := h.mgr.Start(context.Background(), media.Camera{ID: "porch"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := h.provider.Sessions()[0]

	waitFor(t, func() bool { return len(sess.Appended()) > 0 }, "no audio appended")
	if got := string(sess.Appended()[0]); got != "pcm-audio-bytes" {
		t.Errorf("appended = %q", got)
	}
}

func TestSilenceCommit_FiresOnceAfterQuiet(t *testing.T) {
	h := newHarness(t, WithTimings(time.Hour, 30*time.Millisecond, 10*time.Millisecond))
	h.source.streams = []io.ReadCloser{newDataThenBlock("short utterance")}

	if err := h.mgr.Start(context.Background(), media.Camera{ID: "porch"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := h.provider.Sessions()[0]

	waitFor(t, func() bool { return sess.Commits() == 1 }, "input never committed")

	// No further audio arrives, so no further commits.
	time.Sleep(80 * time.Millisecond)
	if got := sess.Commits(); got != 1 {
		t.Errorf("commits = %d, want exactly 1", got)
	}
}

func TestAudioDelta_GoesToPlayback(t *testing.T) {
	h := newHarness(t)

	if err := h.mgr.Start(context.Background(), media.Camera{ID: "porch"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := h.provider.Sessions()[0]

	sess.Emit(realtime.Event{Type: realtime.EventAudioDelta, Audio: []byte{1, 2, 3}})
	waitFor(t, func() bool { return h.playback.playedCount() == 1 }, "audio delta not played")
}

func TestToolCall_DispatchedSynchronouslyWithCallID(t *testing.T) {
	h := newHarness(t)

	if err := h.mgr.Start(context.Background(), media.Camera{ID: "porch"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := h.provider.Sessions()[0]

	sess.Emit(realtime.Event{
		Type:      realtime.EventToolCall,
		CallID:    "call-42",
		Name:      "take_snapshot",
		Arguments: "{}",
	})
	// The next event is only processed after the tool output was sent.
	sess.Emit(realtime.Event{Type: realtime.EventAudioDelta, Audio: []byte{9}})

	waitFor(t, func() bool { return h.playback.playedCount() == 1 }, "follow-up event not processed")

	outs := sess.ToolOutputs()
	if len(outs) != 1 {
		t.Fatalf("tool outputs = %d, want 1", len(outs))
	}
	if outs[0].CallID != "call-42" {
		t.Errorf("call id = %q, want call-42", outs[0].CallID)
	}
	if !strings.Contains(outs[0].Output, "snap-1") {
		t.Errorf("output = %q, want snapshot reference", outs[0].Output)
	}
}

func TestUnknownTool_GetsSentinelResult(t *testing.T) {
	h := newHarness(t)

	if err := h.mgr.Start(context.Background(), media.Camera{ID: "porch"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := h.provider.Sessions()[0]

	sess.Emit(realtime.Event{
		Type:      realtime.EventToolCall,
		CallID:    "call-1",
		Name:      "open_pod_bay_doors",
		Arguments: "{}",
	})

	waitFor(t, func() bool { return len(sess.ToolOutputs()) == 1 }, "no tool output sent")
	if out := sess.ToolOutputs()[0].Output; !strings.Contains(out, "unknown_tool") {
		t.Errorf("output = %q, want unknown-tool sentinel", out)
	}
}

func TestIdleTimeout_ClosesSessionOnce(t *testing.T) {
	h := newHarness(t, WithTimings(30*time.Millisecond, time.Hour, time.Hour))

	if err := h.mgr.Start(context.Background(), media.Camera{ID: "porch"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := h.provider.Sessions()[0]

	// Each completed response re-arms the timer; the second one replaces the
	// first without firing twice.
	sess.Emit(realtime.Event{Type: realtime.EventResponseDone})
	sess.Emit(realtime.Event{Type: realtime.EventResponseDone})

	waitFor(t, func() bool { return h.closed.Load() == 1 }, "idle close never happened")
	waitFor(t, func() bool { return !h.mgr.Active("porch") }, "session record not removed")
	if !sess.Closed() {
		t.Error("transport not closed")
	}

	time.Sleep(80 * time.Millisecond)
	if got := h.closed.Load(); got != 1 {
		t.Errorf("closed notifications = %d, want exactly 1", got)
	}
}

func TestRemoteClose_EmitsSingleNotification(t *testing.T) {
	h := newHarness(t)

	if err := h.mgr.Start(context.Background(), media.Camera{ID: "porch"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.provider.Sessions()[0].Close()

	waitFor(t, func() bool { return h.closed.Load() == 1 }, "closed notification missing")
	if h.mgr.Active("porch") {
		t.Error("session record not removed after remote close")
	}

	// A later Stop must not produce a second notification.
	h.mgr.Stop("porch")
	time.Sleep(30 * time.Millisecond)
	if got := h.closed.Load(); got != 1 {
		t.Errorf("closed notifications = %d, want exactly 1", got)
	}
}

func TestRestart_ReplacesExistingSession(t *testing.T) {
	h := newHarness(t)
	cam := media.Camera{ID: "porch"}

	if err := h.mgr.Start(context.Background(), cam); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := h.mgr.Start(context.Background(), cam); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	sessions := h.provider.Sessions()
	if len(sessions) != 2 {
		t.Fatalf("connects = %d, want 2", len(sessions))
	}
	if !sessions[0].Closed() {
		t.Error("first session not closed on restart")
	}
	if sessions[1].Closed() {
		t.Error("replacement session should be live")
	}
	waitFor(t, func() bool { return h.closed.Load() == 1 }, "old session notification missing")
	if !h.mgr.Active("porch") {
		t.Error("replacement session not recorded")
	}
}

func TestStop_ClosesStreamAndTransport(t *testing.T) {
	h := newHarness(t)
	stream := newBlockedStream()
	h.source.streams = []io.ReadCloser{stream}

	if err := h.mgr.Start(context.Background(), media.Camera{ID: "porch"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.mgr.Stop("porch")

	waitFor(t, func() bool { return h.closed.Load() == 1 }, "closed notification missing")
	select {
	case <-stream.ch:
	default:
		t.Error("audio stream not closed")
	}
	if !h.provider.Sessions()[0].Closed() {
		t.Error("transport not closed")
	}
}
