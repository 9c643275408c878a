// Package wake runs the always-on wake-phrase detection loop for one camera.
//
// The loop pulls PCM off the camera's audio stream in ~2.5 s chunks, sends
// each chunk to the transcription service, and fires a callback when the
// transcript contains the configured wake phrase. The loop never gives up:
// any failure pauses briefly and retries, and only Stop ends it.
package wake

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/argushq/argus/internal/media"
	"github.com/argushq/argus/internal/observe"
	"github.com/argushq/argus/internal/resilience"
	"github.com/argushq/argus/pkg/audio"
	"github.com/argushq/argus/pkg/provider/stt"
)

// Chunking and pacing defaults.
const (
	// DefaultChunkBytes is ~2.5 s of mono 16 kHz s16le PCM.
	DefaultChunkBytes = 2 * audio.DefaultSampleRate * 5 / 2

	// DefaultMinBytes is the floor below which a partial chunk is discarded
	// instead of transcribed (~0.5 s). Anything shorter is noise and not
	// worth a remote call.
	DefaultMinBytes = audio.DefaultSampleRate

	// DefaultInactivity flushes a partial chunk when the stream stalls.
	DefaultInactivity = 3 * time.Second

	// DefaultMatchPause suppresses re-triggering right after a detection,
	// while the voice session is starting up.
	DefaultMatchPause = 2 * time.Second

	// DefaultErrorPause backs off after a failed iteration.
	DefaultErrorPause = time.Second
)

// AudioSource acquires a camera's audio stream. *media.Resolver implements it.
type AudioSource interface {
	Acquire(ctx context.Context, cam media.Camera) io.ReadCloser
}

// Detector is the wake-phrase loop for one camera. Create with NewDetector,
// drive with Start/Stop.
type Detector struct {
	cam     media.Camera
	source  AudioSource
	stt     stt.Transcriber
	phrase  string
	onWake  func()
	metrics *observe.Metrics
	breaker *resilience.CircuitBreaker

	chunkBytes int
	minBytes   int
	inactivity time.Duration
	matchPause time.Duration
	errorPause time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option customises a [Detector].
type Option func(*Detector)

// WithChunkBytes overrides [DefaultChunkBytes].
func WithChunkBytes(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.chunkBytes = n
		}
	}
}

// WithMinBytes overrides [DefaultMinBytes].
func WithMinBytes(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.minBytes = n
		}
	}
}

// WithInactivity overrides [DefaultInactivity].
func WithInactivity(t time.Duration) Option {
	return func(d *Detector) {
		if t > 0 {
			d.inactivity = t
		}
	}
}

// WithPauses overrides the post-match and post-error pauses (tests).
func WithPauses(match, errPause time.Duration) Option {
	return func(d *Detector) {
		if match > 0 {
			d.matchPause = match
		}
		if errPause > 0 {
			d.errorPause = errPause
		}
	}
}

// WithMetrics overrides the metrics instance (tests).
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Detector) { d.metrics = m }
}

// WithBreaker sets the circuit breaker in front of the transcription service.
// Detectors for different cameras share one breaker when they share a
// transcription backend.
func WithBreaker(b *resilience.CircuitBreaker) Option {
	return func(d *Detector) { d.breaker = b }
}

// NewDetector creates a detector that listens to cam through source,
// transcribes with transcriber, and calls onWake when the lowercased
// transcript contains phrase.
func NewDetector(cam media.Camera, source AudioSource, transcriber stt.Transcriber, phrase string, onWake func(), opts ...Option) *Detector {
	d := &Detector{
		cam:        cam,
		source:     source,
		stt:        transcriber,
		phrase:     strings.ToLower(phrase),
		onWake:     onWake,
		chunkBytes: DefaultChunkBytes,
		minBytes:   DefaultMinBytes,
		inactivity: DefaultInactivity,
		matchPause: DefaultMatchPause,
		errorPause: DefaultErrorPause,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	if d.breaker == nil {
		d.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "transcription"})
	}
	return d
}

// Start launches the loop. Idempotent: calling Start on a running detector
// does nothing.
func (d *Detector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.run(ctx)
}

// Stop ends the loop after the current iteration and waits for it to exit.
// Idempotent.
func (d *Detector) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	cancel()
	<-done
}

func (d *Detector) run(ctx context.Context) {
	defer close(d.done)

	for ctx.Err() == nil {
		stream := d.source.Acquire(ctx, d.cam)
		matched := d.consume(ctx, stream)
		stream.Close()

		if matched {
			slog.Info("wake phrase detected", "camera", d.cam.ID, "phrase", d.phrase)
			d.metrics.WakeDetections.Add(ctx, 1,
				metric.WithAttributes(observe.Attr("camera", d.cam.ID)))
			d.onWake()
			sleepCtx(ctx, d.matchPause)
			continue
		}
		sleepCtx(ctx, d.errorPause)
	}
}

// consume reads chunks off stream and transcribes them until the wake phrase
// matches, the stream ends, or ctx is cancelled. Reports whether the phrase
// matched.
func (d *Detector) consume(ctx context.Context, stream io.Reader) bool {
	readCtx, stopReads := context.WithCancel(ctx)
	defer stopReads()

	reads := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			buf := make([]byte, 4096)
			n, err := stream.Read(buf)
			if n > 0 {
				select {
				case reads <- buf[:n]:
				case <-readCtx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	var chunk bytes.Buffer
	stall := time.NewTimer(d.inactivity)
	defer stall.Stop()

	for {
		select {
		case data := <-reads:
			chunk.Write(data)
			if !stall.Stop() {
				<-stall.C
			}
			stall.Reset(d.inactivity)

			if chunk.Len() >= d.chunkBytes {
				if d.flush(ctx, &chunk) {
					return true
				}
			}

		case err := <-readErr:
			if err != io.EOF {
				slog.Debug("audio stream ended", "camera", d.cam.ID, "error", err)
			}
			if chunk.Len() >= d.minBytes {
				return d.flush(ctx, &chunk)
			}
			return false

		case <-stall.C:
			if chunk.Len() >= d.minBytes {
				if d.flush(ctx, &chunk) {
					return true
				}
			} else {
				// Too little audio to be worth a remote call.
				chunk.Reset()
			}
			stall.Reset(d.inactivity)

		case <-ctx.Done():
			return false
		}
	}
}

// flush transcribes the buffered PCM and matches it against the wake phrase.
// The buffer is always reset. Pacing after a failure belongs to run.
func (d *Detector) flush(ctx context.Context, chunk *bytes.Buffer) bool {
	pcm := append([]byte(nil), chunk.Bytes()...)
	chunk.Reset()

	var transcript string
	start := time.Now()
	err := d.breaker.Execute(func() error {
		var terr error
		transcript, terr = d.stt.Transcribe(ctx, audio.EncodeWAV(pcm, audio.DefaultSampleRate, 1))
		return terr
	})
	d.metrics.TranscribeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			d.metrics.RecordProviderError(ctx, "stt", "transcription")
		}
		slog.Warn("wake transcription failed", "camera", d.cam.ID, "error", err)
		return false
	}

	matched := strings.Contains(strings.ToLower(transcript), d.phrase)
	if !matched && transcript != "" {
		slog.Debug("transcript without wake phrase", "camera", d.cam.ID, "transcript", transcript)
	}
	return matched
}

// sleepCtx sleeps for t or until ctx is cancelled.
func sleepCtx(ctx context.Context, t time.Duration) {
	timer := time.NewTimer(t)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
