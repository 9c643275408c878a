// Package camera supervises attached cameras: it probes the control endpoint,
// runs the wake-phrase detector and the periodic capture/analysis loop, and
// implements the tool operations the voice agent calls.
package camera

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/argushq/argus/internal/archive"
	"github.com/argushq/argus/internal/control"
	"github.com/argushq/argus/internal/media"
	"github.com/argushq/argus/internal/notify"
	"github.com/argushq/argus/internal/observe"
	"github.com/argushq/argus/internal/resilience"
	"github.com/argushq/argus/internal/store"
	"github.com/argushq/argus/internal/tools"
	"github.com/argushq/argus/pkg/provider/vision"
)

// Capture defaults.
const (
	// DefaultCaptureInterval is the period of the snapshot analysis loop.
	DefaultCaptureInterval = 10 * time.Second

	// DefaultMatchThreshold is the minimum cosine similarity for a detected
	// face to count as a known person.
	DefaultMatchThreshold = 0.8
)

// fallbackControlPorts are probed when the configured control port is absent
// or answers nothing. Port 554 is the RTSP streaming port; a camera config
// carrying it as the control port is user error, so it is never probed.
var fallbackControlPorts = []int{80, 2020}

// Grabber extracts single frames from a stream. *media.Grabber implements it.
type Grabber interface {
	Grab(ctx context.Context, rawURL string) ([]byte, error)
}

// Sessions is the voice session manager surface the supervisor drives.
// *voice.Manager implements it.
type Sessions interface {
	Start(ctx context.Context, cam media.Camera) error
	Stop(cameraID string)
}

// Detector is a running wake-phrase loop. *wake.Detector implements it.
type Detector interface {
	Start()
	Stop()
}

// DetectorFactory builds the wake detector for one camera. onWake is invoked
// on every wake-phrase match.
type DetectorFactory func(cam media.Camera, onWake func()) Detector

// PeopleIndex answers nearest-embedding queries in place of a full store
// scan. *postgres.PeopleIndex implements it.
type PeopleIndex interface {
	Add(ctx context.Context, p store.Person) error
	Nearest(ctx context.Context, embedding []float64) (store.Person, float64, bool, error)
	UpdateLastSeen(ctx context.Context, personID, cameraID string, at time.Time) error
}

// Manager owns one supervisor per attached camera.
type Manager struct {
	store       store.Store
	control     control.Client
	grabber     Grabber
	analyzer    vision.Analyzer
	sessions    Sessions
	notifier    notify.Notifier
	archiver    archive.Archiver
	metrics     *observe.Metrics
	breaker     *resilience.CircuitBreaker
	newDetector DetectorFactory
	people      PeopleIndex // nil: match against the store snapshot

	interval  time.Duration
	threshold float64

	// mu guards attached, detections, unknowns, and the cam field of every
	// supervised entry.
	mu         sync.Mutex
	attached   map[string]*supervised
	detections map[string]vision.Result
	unknowns   map[string]vision.Person
}

// Option customises a [Manager].
type Option func(*Manager)

// WithCaptureInterval overrides [DefaultCaptureInterval].
func WithCaptureInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithMatchThreshold overrides [DefaultMatchThreshold].
func WithMatchThreshold(t float64) Option {
	return func(m *Manager) {
		if t > 0 {
			m.threshold = t
		}
	}
}

// WithNotifier sets the event notifier. Defaults to [notify.Nop].
func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithArchiver sets the alarm snapshot archiver. Defaults to [archive.Nop].
func WithArchiver(a archive.Archiver) Option {
	return func(m *Manager) { m.archiver = a }
}

// WithPeopleIndex routes person matching through a dedicated embedding index
// instead of scanning the store snapshot.
func WithPeopleIndex(idx PeopleIndex) Option {
	return func(m *Manager) { m.people = idx }
}

// WithBreaker overrides the vision-service circuit breaker.
func WithBreaker(b *resilience.CircuitBreaker) Option {
	return func(m *Manager) { m.breaker = b }
}

// WithMetrics overrides the metrics instance (tests).
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// NewManager creates a camera lifecycle manager.
func NewManager(st store.Store, ctrl control.Client, grabber Grabber, analyzer vision.Analyzer, sessions Sessions, newDetector DetectorFactory, opts ...Option) *Manager {
	m := &Manager{
		store:       st,
		control:     ctrl,
		grabber:     grabber,
		analyzer:    analyzer,
		sessions:    sessions,
		notifier:    notify.Nop{},
		archiver:    archive.Nop{},
		newDetector: newDetector,
		interval:    DefaultCaptureInterval,
		threshold:   DefaultMatchThreshold,
		attached:    make(map[string]*supervised),
		detections:  make(map[string]vision.Result),
		unknowns:    make(map[string]vision.Person),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	if m.breaker == nil {
		m.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "vision"})
	}
	return m
}

var _ tools.CameraOps = (*Manager)(nil)

// supervised is the running state of one attached camera.
type supervised struct {
	cam      store.Camera
	handle   control.Handle // nil when the camera has no control endpoint
	detector Detector       // nil when the camera carries no audio
	cancel   context.CancelFunc
	done     chan struct{}
}

// Attach starts supervising cam: probes the control endpoint, starts the wake
// detector and the capture loop. An already-attached camera is detached first,
// so Attach doubles as re-attach after a config change.
//
// A configured control client that fails every candidate port fails the
// attach; other cameras are unaffected. Deployments without a control stack
// ([control.Unavailable]) attach without a control connection.
func (m *Manager) Attach(ctx context.Context, cam store.Camera) error {
	if cam.ID == "" {
		return fmt.Errorf("camera: attach: camera ID is required")
	}
	m.Detach(cam.ID)

	handle, port, err := m.connectControl(ctx, cam)
	if err != nil {
		return err
	}
	if handle != nil && port != cam.Port {
		cam.Port = port
		if err := m.store.UpsertCamera(ctx, cam); err != nil {
			slog.Warn("persisting corrected control port failed",
				"camera", cam.ID, "error", err)
		} else {
			slog.Info("control port corrected", "camera", cam.ID, "port", port)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sup := &supervised{
		cam:    cam,
		handle: handle,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if cam.AudioSupported {
		sup.detector = m.newDetector(mediaCamera(cam), func() { m.onWake(cam) })
	}

	m.mu.Lock()
	m.attached[cam.ID] = sup
	m.mu.Unlock()

	if sup.detector != nil {
		sup.detector.Start()
	}
	go m.captureLoop(runCtx, sup)
	m.metrics.ActiveCameras.Add(ctx, 1)

	slog.Info("camera attached",
		"camera", cam.ID, "control", handle != nil, "audio", cam.AudioSupported)
	return nil
}

// Detach stops supervising cameraID: wake detector, capture loop, voice
// session, and control connection are all torn down best-effort. No-op for an
// unknown camera.
func (m *Manager) Detach(cameraID string) {
	m.mu.Lock()
	sup, ok := m.attached[cameraID]
	if ok {
		delete(m.attached, cameraID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	if sup.detector != nil {
		sup.detector.Stop()
	}
	sup.cancel()
	<-sup.done
	m.sessions.Stop(cameraID)
	if sup.handle != nil {
		if err := sup.handle.Close(); err != nil {
			slog.Warn("control handle close failed", "camera", cameraID, "error", err)
		}
	}
	m.metrics.ActiveCameras.Add(context.Background(), -1)
	slog.Info("camera detached", "camera", cameraID)
}

// Close detaches every camera. Used at shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.attached))
	for id := range m.attached {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Detach(id)
	}
}

// Discover probes the local network for cameras answering the control
// protocol.
func (m *Manager) Discover(ctx context.Context) ([]control.Device, error) {
	return m.control.Discover(ctx)
}

// connectControl probes the candidate control ports in order and returns the
// first answering handle with its port. A camera without a host, or a
// deployment without a control stack, connects nothing and errors nothing;
// a configured control client that fails every candidate is an error.
func (m *Manager) connectControl(ctx context.Context, cam store.Camera) (control.Handle, int, error) {
	if cam.Host == "" {
		return nil, 0, nil
	}
	var errs []error
	for _, port := range controlPortCandidates(cam) {
		h, err := m.control.Connect(ctx, control.Endpoint{
			Host:     cam.Host,
			Port:     port,
			Username: cam.Username,
			Password: cam.Password,
		})
		if err != nil {
			slog.Debug("control port did not answer",
				"camera", cam.ID, "port", port, "error", err)
			errs = append(errs, err)
			continue
		}
		return h, port, nil
	}

	err := errors.Join(errs...)
	if errors.Is(err, control.ErrUnavailable) {
		slog.Debug("no control stack configured", "camera", cam.ID)
		return nil, 0, nil
	}
	slog.Warn("no control endpoint answered", "camera", cam.ID, "error", err)
	return nil, 0, fmt.Errorf("camera: attach %s: control connect: %w", cam.ID, err)
}

// controlPortCandidates returns the ordered control ports to probe: the
// explicit configured port (unless it is the RTSP port), then the fallbacks.
func controlPortCandidates(cam store.Camera) []int {
	var out []int
	if cam.Port != 0 && cam.Port != 554 {
		out = append(out, cam.Port)
	}
	for _, p := range fallbackControlPorts {
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

// onWake records the detection, notifies, and opens the voice session.
func (m *Manager) onWake(cam store.Camera) {
	ctx := context.Background()
	entry := store.LogEntry{
		Level:    store.LevelInfo,
		CameraID: cam.ID,
		Message:  "wake phrase detected",
	}
	if err := m.store.AppendLog(ctx, entry); err != nil {
		slog.Warn("wake event log failed", "camera", cam.ID, "error", err)
	}
	if err := m.notifier.Notify(ctx, entry); err != nil {
		slog.Warn("wake event notify failed", "camera", cam.ID, "error", err)
	}
	if err := m.sessions.Start(ctx, mediaCamera(cam)); err != nil {
		slog.Error("voice session start failed", "camera", cam.ID, "error", err)
	}
}

// captureLoop runs the periodic snapshot analysis for one camera.
func (m *Manager) captureLoop(ctx context.Context, sup *supervised) {
	defer close(sup.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.captureAndAnalyze(ctx, sup)
		case <-ctx.Done():
			return
		}
	}
}

// captureAndAnalyze runs one capture round: snapshot, remote analysis, person
// matching, and alarm handling.
func (m *Manager) captureAndAnalyze(ctx context.Context, sup *supervised) {
	camID := sup.cam.ID

	ctx, span := otel.Tracer("github.com/argushq/argus/internal/camera").Start(ctx, "camera.capture",
		trace.WithAttributes(observe.Attr("camera", camID)))
	defer span.End()

	ref, creds, err := m.captureSnapshot(ctx, sup)
	if err != nil {
		span.RecordError(err)
		slog.Warn("snapshot capture failed", "camera", camID, "error", err)
		m.metrics.RecordCapture(ctx, camID, "error")
		return
	}
	m.persistSnapshot(ctx, sup, ref)

	var res vision.Result
	start := time.Now()
	err = m.breaker.Execute(func() error {
		var aerr error
		res, aerr = m.analyzer.Analyze(ctx, vision.Request{
			CameraID:    camID,
			SnapshotURI: ref,
			Credentials: creds,
		})
		return aerr
	})
	m.metrics.AnalyzeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			m.metrics.RecordProviderError(ctx, "vision", "analyze")
		}
		slog.Warn("snapshot analysis failed", "camera", camID, "error", err)
		m.metrics.RecordCapture(ctx, camID, "error")
		return
	}

	m.mu.Lock()
	m.detections[camID] = res
	m.mu.Unlock()

	m.matchPeople(ctx, camID, res.People)
	m.handleAlarms(ctx, camID, res)
	m.metrics.RecordCapture(ctx, camID, "ok")
}

// matchPeople compares every detected face against the known people and
// updates last-seen records. The most recent unmatched face is cached so
// register_person has someone to name.
func (m *Manager) matchPeople(ctx context.Context, cameraID string, people []vision.Person) {
	if len(people) == 0 {
		return
	}

	var known []store.Person
	if m.people == nil {
		state, err := m.store.Snapshot(ctx)
		if err != nil {
			slog.Warn("people lookup failed", "camera", cameraID, "error", err)
			return
		}
		known = state.People
	}

	now := time.Now()
	unknown := 0
	for _, p := range people {
		var (
			best  store.Person
			score float64
			ok    bool
		)
		if m.people != nil {
			var err error
			best, score, ok, err = m.people.Nearest(ctx, p.Embedding)
			if err != nil {
				slog.Warn("people index query failed", "camera", cameraID, "error", err)
				ok = false
			}
		} else {
			best, score, ok = bestMatch(known, p.Embedding)
		}

		if ok && score >= m.threshold {
			if err := m.store.UpdateLastSeen(ctx, best.ID, cameraID, now); err != nil {
				slog.Warn("last-seen update failed",
					"camera", cameraID, "person", best.ID, "error", err)
			}
			if m.people != nil {
				if err := m.people.UpdateLastSeen(ctx, best.ID, cameraID, now); err != nil {
					slog.Warn("people index last-seen update failed",
						"camera", cameraID, "person", best.ID, "error", err)
				}
			}
			slog.Debug("known person in view",
				"camera", cameraID, "person", best.Name, "score", score)
			continue
		}
		unknown++
		m.mu.Lock()
		m.unknowns[cameraID] = p
		m.mu.Unlock()
	}
	if unknown > 0 {
		slog.Info("unknown people in view", "camera", cameraID, "count", unknown)
	}
}

// handleAlarms persists, notifies, and archives alarm-level detections.
func (m *Manager) handleAlarms(ctx context.Context, cameraID string, res vision.Result) {
	for _, alarm := range res.Alarms {
		entry := store.LogEntry{
			Level:    store.LevelAlarm,
			CameraID: cameraID,
			Message:  alarm,
		}
		if err := m.store.AppendLog(ctx, entry); err != nil {
			slog.Warn("alarm log failed", "camera", cameraID, "error", err)
		}
		if err := m.notifier.Notify(ctx, entry); err != nil {
			slog.Warn("alarm notify failed", "camera", cameraID, "error", err)
		}
		slog.Warn("alarm detected", "camera", cameraID, "alarm", alarm)
		m.metrics.Alarms.Add(ctx, 1,
			metric.WithAttributes(observe.Attr("camera", cameraID)))
	}

	if len(res.Alarms) == 0 || res.SnapshotDataURL == "" {
		return
	}
	contentType, data, err := archive.DecodeDataURL(res.SnapshotDataURL)
	if err != nil {
		slog.Warn("alarm snapshot decode failed", "camera", cameraID, "error", err)
		return
	}
	url, err := m.archiver.SaveSnapshot(ctx, cameraID, time.Now(), data, contentType)
	if err != nil {
		slog.Warn("alarm snapshot archive failed", "camera", cameraID, "error", err)
		return
	}
	if url != "" {
		slog.Info("alarm snapshot archived", "camera", cameraID, "url", url)
	}
}

// captureSnapshot produces the reference handed to the vision service: the
// camera's HTTP snapshot URI when the control endpoint advertises one,
// otherwise a data URL grabbed off the best available stream.
func (m *Manager) captureSnapshot(ctx context.Context, sup *supervised) (string, *vision.Credentials, error) {
	m.mu.Lock()
	cam := sup.cam
	m.mu.Unlock()

	if sup.handle != nil {
		if profiles, err := sup.handle.Profiles(ctx); err == nil && len(profiles) > 0 {
			token := profiles[0].Token
			if uri, err := sup.handle.SnapshotURI(ctx, token); err == nil && uri != "" {
				return uri, snapshotCreds(cam), nil
			}
			if uri, err := sup.handle.StreamURI(ctx, token); err == nil && uri != "" {
				return m.grabDataURL(ctx, media.InjectCredentials(uri, cam.Username, cam.Password))
			}
		}
	}

	streamURL := cam.StreamURL
	if streamURL == "" && cam.Host != "" {
		streamURL = "rtsp://" + cam.Host + ":554/stream1"
	}
	if streamURL == "" {
		return "", nil, fmt.Errorf("camera: no snapshot source for %s", cam.ID)
	}
	return m.grabDataURL(ctx, media.InjectCredentials(streamURL, cam.Username, cam.Password))
}

// grabDataURL pulls one frame off rawURL and encodes it as a data URL.
func (m *Manager) grabDataURL(ctx context.Context, rawURL string) (string, *vision.Credentials, error) {
	frame, err := m.grabber.Grab(ctx, rawURL)
	if err != nil {
		return "", nil, err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(frame), nil, nil
}

// persistSnapshot records ref as the camera's most recent snapshot.
func (m *Manager) persistSnapshot(ctx context.Context, sup *supervised, ref string) {
	m.mu.Lock()
	sup.cam.LastSnapshot = ref
	cam := sup.cam
	m.mu.Unlock()

	if err := m.store.UpsertCamera(ctx, cam); err != nil {
		slog.Warn("snapshot persist failed", "camera", cam.ID, "error", err)
	}
}

// snapshotCreds forwards camera HTTP auth to the vision service, or nil when
// the camera is unauthenticated.
func snapshotCreds(cam store.Camera) *vision.Credentials {
	if cam.Username == "" && cam.Password == "" {
		return nil
	}
	return &vision.Credentials{Username: cam.Username, Password: cam.Password}
}

// supervisor returns the supervised entry for cameraID.
func (m *Manager) supervisor(cameraID string) (*supervised, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sup, ok := m.attached[cameraID]
	return sup, ok
}

// TakeSnapshot implements [tools.CameraOps]: captures and persists a fresh
// snapshot and returns a spoken-friendly reference.
func (m *Manager) TakeSnapshot(ctx context.Context, cameraID string) (string, error) {
	sup, ok := m.supervisor(cameraID)
	if !ok {
		return "", fmt.Errorf("camera: %s is not attached", cameraID)
	}
	ref, _, err := m.captureSnapshot(ctx, sup)
	if err != nil {
		return "", err
	}
	m.persistSnapshot(ctx, sup, ref)

	// Inline data URLs are too large to read back to the agent.
	if strings.HasPrefix(ref, "data:") {
		return "snapshot captured and stored", nil
	}
	return ref, nil
}

// RegisterPerson implements [tools.CameraOps]: names the most recently seen
// unknown person on cameraID. The cached face is consumed so a repeated call
// cannot register the same face twice.
func (m *Manager) RegisterPerson(ctx context.Context, cameraID, name string) (string, error) {
	m.mu.Lock()
	unknown, ok := m.unknowns[cameraID]
	if ok {
		delete(m.unknowns, cameraID)
	}
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("camera: no unknown person in view on %s", cameraID)
	}

	p, err := m.store.AddPerson(ctx, store.Person{
		Name:           name,
		Embedding:      unknown.Embedding,
		LastSeenCamera: cameraID,
		LastSeenAt:     time.Now(),
	})
	if err != nil {
		return "", err
	}
	if m.people != nil {
		if err := m.people.Add(ctx, p); err != nil {
			slog.Warn("people index add failed", "person", p.ID, "error", err)
		}
	}

	entry := store.LogEntry{
		Level:    store.LevelInfo,
		CameraID: cameraID,
		Message:  fmt.Sprintf("registered person %q", name),
	}
	if err := m.store.AppendLog(ctx, entry); err != nil {
		slog.Warn("register event log failed", "camera", cameraID, "error", err)
	}
	slog.Info("person registered", "camera", cameraID, "person", name)
	return p.ID, nil
}

// MoveCamera implements [tools.CameraOps]: one PTZ step through the control
// connection.
func (m *Manager) MoveCamera(ctx context.Context, cameraID, direction string) error {
	sup, ok := m.supervisor(cameraID)
	if !ok {
		return fmt.Errorf("camera: %s is not attached", cameraID)
	}
	if sup.handle == nil {
		return fmt.Errorf("camera: %s has no control connection", cameraID)
	}
	profiles, err := sup.handle.Profiles(ctx)
	if err != nil {
		return fmt.Errorf("camera: list profiles on %s: %w", cameraID, err)
	}
	if len(profiles) == 0 {
		return fmt.Errorf("camera: %s advertises no media profiles", cameraID)
	}
	return sup.handle.Move(ctx, profiles[0].Token, direction)
}

// LatestDetection implements [tools.CameraOps]: the cached most recent
// analysis result.
func (m *Manager) LatestDetection(cameraID string) (vision.Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.detections[cameraID]
	return res, ok
}

// PeopleNames implements [tools.CameraOps].
func (m *Manager) PeopleNames(ctx context.Context) ([]string, error) {
	state, err := m.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(state.People))
	for _, p := range state.People {
		names = append(names, p.Name)
	}
	return names, nil
}

// mediaCamera converts the persisted descriptor to the media-layer subset.
func mediaCamera(cam store.Camera) media.Camera {
	return media.Camera{
		ID:        cam.ID,
		Host:      cam.Host,
		StreamURL: cam.StreamURL,
		AudioURL:  cam.AudioURL,
		TalkURL:   cam.TalkURL,
		Username:  cam.Username,
		Password:  cam.Password,
	}
}
