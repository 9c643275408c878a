package media

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/argushq/argus/internal/observe"
	"github.com/argushq/argus/pkg/audio"
)

// DefaultProbeTimeout bounds how long a candidate gets to produce its first
// byte of audio before the resolver moves on.
const DefaultProbeTimeout = 2 * time.Second

// mapStrategies are the ffmpeg stream selectors tried per transport, from
// most to least specific: the named first audio track, any audio track, and
// finally the second positional stream (cameras that mislabel their audio).
var mapStrategies = []string{"0:a:0", "0:a?", "0:1"}

// Resolver turns a camera descriptor into a live PCM audio stream.
//
// Acquire never fails: it walks every candidate URL, transport, and stream
// selector, and returns an empty stream when nothing produces audio, so
// callers (the wake loop above all) can treat a silent camera and a
// misconfigured one the same way.
type Resolver struct {
	runner       Runner
	probeTimeout time.Duration
	metrics      *observe.Metrics
}

// ResolverOption customises a [Resolver].
type ResolverOption func(*Resolver)

// WithProbeTimeout overrides [DefaultProbeTimeout].
func WithProbeTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.probeTimeout = d
		}
	}
}

// WithResolverMetrics overrides the metrics instance (tests).
func WithResolverMetrics(m *observe.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver creates a Resolver running subprocesses through runner.
func NewResolver(runner Runner, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		runner:       runner,
		probeTimeout: DefaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Acquire resolves cam's audio into a mono 16 kHz s16le PCM stream (WAV
// container). The returned stream owns its subprocess: Close kills it.
// When every candidate fails, an empty stream (immediate EOF) is returned.
func (r *Resolver) Acquire(ctx context.Context, cam Camera) io.ReadCloser {
	start := time.Now()
	defer func() {
		r.metrics.ResolveDuration.Record(ctx, time.Since(start).Seconds())
	}()

	for _, cand := range audioCandidates(cam) {
		for _, transport := range transportsFor(cand) {
			for _, mapSpec := range mapStrategies {
				stream, ok := r.probe(ctx, captureArgs(cand, transport, mapSpec))
				if ok {
					r.metrics.RecordResolveAttempt(ctx, cam.ID, "ok")
					slog.Debug("audio source resolved",
						"camera", cam.ID,
						"transport", transport,
						"map", mapSpec)
					return stream
				}
				r.metrics.RecordResolveAttempt(ctx, cam.ID, "error")
			}
		}
	}

	slog.Warn("no audio source answered, serving empty stream", "camera", cam.ID)
	return emptyStream{}
}

// probe starts ffmpeg with args and waits up to the probe timeout for the
// first byte of output. On success the probed byte is spliced back in front
// of the remaining stream.
func (r *Resolver) probe(ctx context.Context, args []string) (io.ReadCloser, bool) {
	stdout, stop, err := r.runner.Start(ctx, args, nil)
	if err != nil {
		slog.Debug("ffmpeg start failed", "error", err)
		return nil, false
	}

	first := make([]byte, 1)
	type readResult struct {
		n   int
		err error
	}
	done := make(chan readResult, 1)
	go func() {
		n, err := stdout.Read(first)
		done <- readResult{n, err}
	}()

	timer := time.NewTimer(r.probeTimeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil || res.n == 0 {
			stop()
			return nil, false
		}
		return &processStream{
			r:    io.MultiReader(bytes.NewReader(first[:res.n]), stdout),
			stop: stop,
		}, true

	case <-timer.C:
		// Killing the process unblocks the pending Read.
		stop()
		return nil, false

	case <-ctx.Done():
		stop()
		return nil, false
	}
}

// Camera is the subset of the persisted camera descriptor the resolver needs.
type Camera struct {
	ID        string
	Host      string
	StreamURL string
	AudioURL  string
	TalkURL   string
	Username  string
	Password  string
}

// audioCandidates returns the ordered candidate URLs for cam with
// credentials injected: the dedicated audio URL, the primary video URL, then
// synthesized vendor defaults from the host.
func audioCandidates(cam Camera) []string {
	var out []string
	add := func(raw string) {
		if raw == "" {
			return
		}
		u := InjectCredentials(raw, cam.Username, cam.Password)
		if !slices.Contains(out, u) {
			out = append(out, u)
		}
	}

	add(cam.AudioURL)
	add(cam.StreamURL)
	if cam.Host != "" {
		add("rtsp://" + cam.Host + ":554/stream1")
		add("rtsp://" + cam.Host + ":554/Streaming/Channels/101")
		add("rtsp://" + cam.Host + ":554/live")
	}
	return out
}

// InjectCredentials embeds percent-encoded credentials into raw. URLs that
// net/url cannot parse get a textual scheme-prefix splice so that cameras
// with technically invalid stream URLs still authenticate.
func InjectCredentials(raw, username, password string) string {
	if username == "" && password == "" {
		return raw
	}
	if u, err := url.Parse(raw); err == nil && u.Scheme != "" && u.Host != "" {
		u.User = url.UserPassword(username, password)
		return u.String()
	}
	if i := strings.Index(raw, "://"); i >= 0 {
		return raw[:i+3] + url.QueryEscape(username) + ":" + url.QueryEscape(password) + "@" + raw[i+3:]
	}
	return raw
}

// transportsFor returns the RTSP transports to try for a URL. Non-RTSP URLs
// get a single attempt without a transport flag.
func transportsFor(rawURL string) []string {
	if strings.HasPrefix(strings.ToLower(rawURL), "rtsp") {
		return []string{"tcp", "udp"}
	}
	return []string{""}
}

// captureArgs builds the ffmpeg argument list that decodes rawURL's audio to
// mono 16 kHz s16le PCM in a WAV container on stdout.
func captureArgs(rawURL, transport, mapSpec string) []string {
	inKw := ffmpeg.KwArgs{}
	if transport != "" {
		inKw["rtsp_transport"] = transport
	}
	return ffmpeg.Input(rawURL, inKw).
		Output("pipe:1", ffmpeg.KwArgs{
			"map":    mapSpec,
			"vn":     "",
			"acodec": "pcm_s16le",
			"ac":     1,
			"ar":     audio.DefaultSampleRate,
			"f":      "wav",
		}).
		GlobalArgs("-hide_banner", "-nostats", "-nostdin", "-loglevel", "error").
		GetArgs()
}

// processStream is a live audio stream backed by an ffmpeg subprocess.
type processStream struct {
	r    io.Reader
	stop func()
}

func (s *processStream) Read(p []byte) (int, error) { return s.r.Read(p) }

// Close kills the subprocess. Idempotent (stop is once-guarded by the runner).
func (s *processStream) Close() error {
	s.stop()
	return nil
}

// emptyStream is the terminal fallback: an already-exhausted audio source.
type emptyStream struct{}

func (emptyStream) Read([]byte) (int, error) { return 0, io.EOF }
func (emptyStream) Close() error             { return nil }
