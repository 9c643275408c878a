package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/argushq/argus/pkg/audio"
)

// Playback pushes agent speech to a camera's talk-back channel.
type Playback struct {
	runner Runner
}

// NewPlayback creates a Playback running subprocesses through runner.
func NewPlayback(runner Runner) *Playback {
	return &Playback{runner: runner}
}

// Play encodes raw mono 16 kHz s16le PCM and sends it to cam's talk-back
// URL. Cameras without a talk-back channel are a no-op.
func (p *Playback) Play(ctx context.Context, cam Camera, pcm []byte) error {
	if cam.TalkURL == "" || len(pcm) == 0 {
		return nil
	}

	target := InjectCredentials(cam.TalkURL, cam.Username, cam.Password)
	stdout, stop, err := p.runner.Start(ctx, playbackArgs(target), bytes.NewReader(pcm))
	if err != nil {
		return fmt.Errorf("media: playback to camera %s: %w", cam.ID, err)
	}
	defer stop()

	// Drain stdout so ffmpeg never blocks on a full pipe; the process exits
	// when stdin is consumed.
	_, _ = io.Copy(io.Discard, stdout)
	return nil
}

// playbackArgs builds the ffmpeg argument list that reads s16le PCM from
// stdin and streams it to target. RTSP talk-back channels commonly expect
// G.711; everything else gets the PCM re-wrapped as WAV.
func playbackArgs(target string) []string {
	outKw := ffmpeg.KwArgs{"acodec": "pcm_alaw", "ar": 8000, "ac": 1, "f": "wav"}
	if strings.HasPrefix(strings.ToLower(target), "rtsp") {
		outKw["f"] = "rtsp"
	}
	return ffmpeg.Input("pipe:0", ffmpeg.KwArgs{
		"f":  "s16le",
		"ar": audio.DefaultSampleRate,
		"ac": 1,
	}).
		Output(target, outKw).
		GlobalArgs("-hide_banner", "-nostats", "-loglevel", "error").
		GetArgs()
}
