package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values and fills in
// defaults for unset tunables. It returns a joined error listing all
// validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Store
	if cfg.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if cfg.Store.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("store.embedding_dimensions %d must not be negative", cfg.Store.EmbeddingDimensions))
	}
	if cfg.Store.PostgresDSN != "" && cfg.Store.EmbeddingDimensions == 0 {
		slog.Warn("store.postgres_dsn is set but store.embedding_dimensions is not; defaulting",
			"default", DefaultEmbeddingDimensions)
		cfg.Store.EmbeddingDimensions = DefaultEmbeddingDimensions
	}

	// Providers
	if cfg.Providers.Transcription.BaseURL == "" {
		errs = append(errs, errors.New("providers.transcription.base_url is required (whisper server endpoint)"))
	}
	if cfg.Providers.Agent.APIKey == "" {
		slog.Warn("providers.agent.api_key is empty; voice sessions will fail to connect")
	}
	if cfg.Providers.Vision.BaseURL == "" {
		errs = append(errs, errors.New("providers.vision.base_url is required (vision service endpoint)"))
	}

	// Wake
	if cfg.Wake.Phrase == "" {
		cfg.Wake.Phrase = DefaultWakePhrase
	}

	// Capture
	if cfg.Capture.Interval < 0 {
		errs = append(errs, fmt.Errorf("capture.interval %s must not be negative", cfg.Capture.Interval))
	}
	if cfg.Capture.Interval == 0 {
		cfg.Capture.Interval = DefaultCaptureInterval
	}
	switch {
	case cfg.Capture.MatchThreshold == 0:
		cfg.Capture.MatchThreshold = DefaultMatchThreshold
	case cfg.Capture.MatchThreshold < 0 || cfg.Capture.MatchThreshold > 1:
		errs = append(errs, fmt.Errorf("capture.match_threshold %.2f is out of range (0, 1]", cfg.Capture.MatchThreshold))
	}

	// Notify
	if m := cfg.Notify.MQTT; m != nil {
		if m.BrokerURL == "" {
			errs = append(errs, errors.New("notify.mqtt.broker_url is required when mqtt is configured"))
		}
		if m.TopicPrefix == "" {
			errs = append(errs, errors.New("notify.mqtt.topic_prefix is required when mqtt is configured"))
		}
	}

	// Archive
	if a := cfg.Archive.MinIO; a != nil {
		if a.Endpoint == "" {
			errs = append(errs, errors.New("archive.minio.endpoint is required when minio is configured"))
		}
		if a.Bucket == "" {
			errs = append(errs, errors.New("archive.minio.bucket is required when minio is configured"))
		}
	}

	// Camera seeds
	idsSeen := make(map[string]int, len(cfg.Cameras))
	for i, cam := range cfg.Cameras {
		prefix := fmt.Sprintf("cameras[%d]", i)
		if cam.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := idsSeen[cam.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of cameras[%d]", prefix, cam.ID, prev))
			}
			idsSeen[cam.ID] = i
		}
		if cam.Host == "" && cam.StreamURL == "" {
			errs = append(errs, fmt.Errorf("%s: either host or stream_url is required", prefix))
		}
		if cam.Port < 0 || cam.Port > 65535 {
			errs = append(errs, fmt.Errorf("%s.port %d is out of range [0, 65535]", prefix, cam.Port))
		}
	}

	return errors.Join(errs...)
}
