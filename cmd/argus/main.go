// Command argus is the camera voice-agent supervisor daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/argushq/argus/internal/archive"
	"github.com/argushq/argus/internal/camera"
	"github.com/argushq/argus/internal/config"
	"github.com/argushq/argus/internal/control"
	"github.com/argushq/argus/internal/media"
	"github.com/argushq/argus/internal/notify"
	"github.com/argushq/argus/internal/notify/mqtt"
	"github.com/argushq/argus/internal/observe"
	"github.com/argushq/argus/internal/resilience"
	"github.com/argushq/argus/internal/store"
	"github.com/argushq/argus/internal/store/jsonfile"
	"github.com/argushq/argus/internal/store/postgres"
	"github.com/argushq/argus/internal/tools"
	"github.com/argushq/argus/internal/voice"
	"github.com/argushq/argus/internal/wake"
	"github.com/argushq/argus/pkg/provider/realtime/openai"
	"github.com/argushq/argus/pkg/provider/stt/whisper"
	"github.com/argushq/argus/pkg/provider/vision/visionhttp"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// .env is optional; deployments use it to inject provider secrets.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "argus: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("argus starting",
		"version", version,
		"config", *configPath,
		"cameras", len(cfg.Cameras),
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "argus",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Store ─────────────────────────────────────────────────────────────────
	st, err := jsonfile.Open(cfg.Store.Path)
	if err != nil {
		slog.Error("failed to open store", "path", cfg.Store.Path, "err", err)
		return 1
	}

	var peopleIdx *postgres.PeopleIndex
	if cfg.Store.PostgresDSN != "" {
		peopleIdx, err = postgres.Open(ctx, cfg.Store.PostgresDSN, cfg.Store.EmbeddingDimensions)
		if err != nil {
			slog.Error("failed to open people index", "err", err)
			return 1
		}
		defer peopleIdx.Close()
		if err := seedPeopleIndex(ctx, st, peopleIdx); err != nil {
			slog.Warn("people index seed incomplete", "err", err)
		}
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	transcriber, err := whisper.New(cfg.Providers.Transcription.BaseURL, sttOptions(cfg.Providers.Transcription)...)
	if err != nil {
		slog.Error("failed to create transcription provider", "err", err)
		return 1
	}
	agent := openai.New(cfg.Providers.Agent.APIKey, agentOptions(cfg.Providers.Agent)...)
	analyzer, err := visionhttp.New(cfg.Providers.Vision.BaseURL)
	if err != nil {
		slog.Error("failed to create vision provider", "err", err)
		return 1
	}

	// ── Notifier / archiver ───────────────────────────────────────────────────
	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notify.MQTT != nil {
		notifier, err = mqtt.New(*cfg.Notify.MQTT)
		if err != nil {
			slog.Error("failed to connect MQTT notifier", "err", err)
			return 1
		}
		slog.Info("mqtt notifier connected", "broker", cfg.Notify.MQTT.BrokerURL)
	}
	defer func() {
		if err := notifier.Close(); err != nil {
			slog.Warn("notifier close error", "err", err)
		}
	}()

	var archiver archive.Archiver = archive.Nop{}
	if cfg.Archive.MinIO != nil {
		archiver, err = archive.NewMinIO(ctx, *cfg.Archive.MinIO)
		if err != nil {
			slog.Error("failed to connect snapshot archive", "err", err)
			return 1
		}
		slog.Info("snapshot archive connected", "endpoint", cfg.Archive.MinIO.Endpoint)
	}

	// ── Media pipeline ────────────────────────────────────────────────────────
	runner := &media.ExecRunner{}
	resolver := media.NewResolver(runner)
	grabber := media.NewGrabber(runner)
	playback := media.NewPlayback(runner)

	// ── Supervisor wiring ─────────────────────────────────────────────────────
	// The camera manager and the voice manager reference each other (tool
	// dispatch one way, session start on wake the other), so sessions are
	// bound through an indirection filled in below.
	sessions := &sessionBridge{}

	// All cameras share one whisper backend, so they share one breaker.
	sttBreaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "transcription"})
	detectorFactory := func(cam media.Camera, onWake func()) camera.Detector {
		return wake.NewDetector(cam, resolver, transcriber, cfg.Wake.Phrase, onWake,
			wake.WithBreaker(sttBreaker))
	}

	mgrOpts := []camera.Option{
		camera.WithCaptureInterval(cfg.Capture.Interval),
		camera.WithMatchThreshold(cfg.Capture.MatchThreshold),
		camera.WithNotifier(notifier),
		camera.WithArchiver(archiver),
	}
	if peopleIdx != nil {
		mgrOpts = append(mgrOpts, camera.WithPeopleIndex(peopleIdx))
	}
	mgr := camera.NewManager(st, control.Unavailable{}, grabber, analyzer, sessions, detectorFactory, mgrOpts...)

	dispatcher := tools.NewDispatcher(mgr, nil)
	voiceMgr := voice.NewManager(agent, resolver, playback, dispatcher,
		voice.WithVoice(cfg.Providers.Agent.Voice),
		voice.WithOnClosed(func(cameraID string) {
			entry := store.LogEntry{
				Level:    store.LevelInfo,
				CameraID: cameraID,
				Message:  "voice session closed",
			}
			if err := st.AppendLog(context.Background(), entry); err != nil {
				slog.Warn("session close log failed", "camera", cameraID, "err", err)
			}
			if err := notifier.Notify(context.Background(), entry); err != nil {
				slog.Warn("session close notify failed", "camera", cameraID, "err", err)
			}
		}),
	)
	sessions.mgr = voiceMgr

	// ── Seed and attach cameras ───────────────────────────────────────────────
	if err := seedCameras(ctx, st, cfg.Cameras); err != nil {
		slog.Error("failed to seed cameras", "err", err)
		return 1
	}
	state, err := st.Snapshot(ctx)
	if err != nil {
		slog.Error("failed to read store", "err", err)
		return 1
	}
	for _, cam := range state.Cameras {
		if err := mgr.Attach(ctx, cam); err != nil {
			slog.Error("failed to attach camera", "camera", cam.ID, "err", err)
		}
	}

	// ── Metrics endpoint ──────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Server.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}

		g.Go(func() error {
			slog.Info("metrics endpoint listening", "addr", cfg.Server.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shCtx)
		})
	}

	slog.Info("argus ready — press Ctrl+C to shut down")
	<-ctx.Done()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	mgr.Close()
	voiceMgr.Close()
	if err := g.Wait(); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// sessionBridge defers the camera→voice binding until both managers exist.
type sessionBridge struct {
	mgr *voice.Manager
}

func (b *sessionBridge) Start(ctx context.Context, cam media.Camera) error {
	return b.mgr.Start(ctx, cam)
}

func (b *sessionBridge) Stop(cameraID string) {
	b.mgr.Stop(cameraID)
}

// seedCameras inserts configured cameras that the store does not know yet. A
// camera already present in the store wins over its seed.
func seedCameras(ctx context.Context, st store.Store, seeds []config.CameraConfig) error {
	state, err := st.Snapshot(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(state.Cameras))
	for _, cam := range state.Cameras {
		known[cam.ID] = true
	}

	for _, seed := range seeds {
		if known[seed.ID] {
			continue
		}
		cam := store.Camera{
			ID:             seed.ID,
			Name:           seed.Name,
			Host:           seed.Host,
			Port:           seed.Port,
			StreamURL:      seed.StreamURL,
			AudioURL:       seed.AudioURL,
			TalkURL:        seed.TalkURL,
			Username:       seed.Username,
			Password:       seed.Password,
			AudioSupported: seed.AudioSupported,
		}
		if err := st.UpsertCamera(ctx, cam); err != nil {
			return err
		}
		slog.Info("camera seeded from config", "camera", cam.ID)
	}
	return nil
}

// seedPeopleIndex mirrors the store's known people into the embedding index.
func seedPeopleIndex(ctx context.Context, st store.Store, idx *postgres.PeopleIndex) error {
	state, err := st.Snapshot(ctx)
	if err != nil {
		return err
	}
	for _, p := range state.People {
		if err := idx.Add(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func sttOptions(entry config.ProviderEntry) []whisper.Option {
	var opts []whisper.Option
	if entry.Model != "" {
		opts = append(opts, whisper.WithModel(entry.Model))
	}
	return opts
}

func agentOptions(entry config.ProviderEntry) []openai.Option {
	var opts []openai.Option
	if entry.Model != "" {
		opts = append(opts, openai.WithModel(entry.Model))
	}
	if entry.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(entry.BaseURL))
	}
	return opts
}

// newLogger builds the process-wide slog logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
