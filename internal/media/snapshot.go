package media

import (
	"context"
	"fmt"
	"io"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Grabber pulls single JPEG frames out of a stream for cameras that do not
// expose a snapshot endpoint.
type Grabber struct {
	runner Runner
}

// NewGrabber creates a Grabber running subprocesses through runner.
func NewGrabber(runner Runner) *Grabber {
	return &Grabber{runner: runner}
}

// Grab decodes one frame from rawURL and returns it as JPEG bytes.
func (g *Grabber) Grab(ctx context.Context, rawURL string) ([]byte, error) {
	stdout, stop, err := g.runner.Start(ctx, grabArgs(rawURL), nil)
	if err != nil {
		return nil, fmt.Errorf("media: grab frame: %w", err)
	}
	defer stop()

	data, err := io.ReadAll(stdout)
	if err != nil {
		return nil, fmt.Errorf("media: read frame: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("media: no frame decoded from %q", redact(rawURL))
	}
	return data, nil
}

// grabArgs builds the ffmpeg argument list for a single-frame JPEG grab.
func grabArgs(rawURL string) []string {
	inKw := ffmpeg.KwArgs{}
	if strings.HasPrefix(strings.ToLower(rawURL), "rtsp") {
		inKw["rtsp_transport"] = "tcp"
	}
	return ffmpeg.Input(rawURL, inKw).
		Output("pipe:1", ffmpeg.KwArgs{
			"vframes": 1,
			"vcodec":  "mjpeg",
			"f":       "image2",
		}).
		GlobalArgs("-hide_banner", "-nostats", "-nostdin", "-loglevel", "error").
		GetArgs()
}

// redact strips userinfo from a URL for log and error messages.
func redact(rawURL string) string {
	if at := strings.Index(rawURL, "@"); at >= 0 {
		if i := strings.Index(rawURL, "://"); i >= 0 && i < at {
			return rawURL[:i+3] + "***" + rawURL[at:]
		}
	}
	return rawURL
}
