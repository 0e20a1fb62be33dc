package localmedia

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	apperr "github.com/yungbote/chorusreel-backend/internal/pkg/errors"
	"github.com/yungbote/chorusreel-backend/internal/platform/ctxutil"
	"github.com/yungbote/chorusreel-backend/internal/platform/logger"
)

// Tools is the glue around the ffmpeg and ffprobe system binaries.
//
// REQUIRED BINARIES in the runtime image:
// - ffmpeg for cutting, transcoding and stitching
// - ffprobe for duration and resolution probes
//
// Every command runs under CommandContext and is waited, so no process or file handle
// outlives the call.
type Tools struct {
	log *logger.Logger

	ffmpegPath  string
	ffprobePath string

	defaultTimeout time.Duration
}

// SpeechSampleRate is the rate ToSpeechWAV produces.
const SpeechSampleRate = 16000

type Option func(*Tools)

func WithBinaries(ffmpeg, ffprobe string) Option {
	return func(t *Tools) {
		if ffmpeg != "" {
			t.ffmpegPath = ffmpeg
		}
		if ffprobe != "" {
			t.ffprobePath = ffprobe
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(t *Tools) {
		if d > 0 {
			t.defaultTimeout = d
		}
	}
}

func New(log *logger.Logger, opts ...Option) *Tools {
	if log == nil {
		log = logger.Nop()
	}
	t := &Tools{
		log:            log.With("service", "MediaTools"),
		ffmpegPath:     "ffmpeg",
		ffprobePath:    "ffprobe",
		defaultTimeout: 10 * time.Minute,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (m *Tools) AssertReady(ctx context.Context) error {
	for _, bin := range []string{m.ffmpegPath, m.ffprobePath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("missing required binary %q in PATH: %w", bin, err)
		}
	}
	return nil
}

// CutClip writes [start, end) seconds of in to out as PCM wav.
func (m *Tools) CutClip(ctx context.Context, in, out string, start, end float64) error {
	ctx = ctxutil.Default(ctx)
	if in == "" || out == "" {
		return apperr.Wrap(apperr.ErrInput, fmt.Errorf("cut clip: input and output paths required"))
	}
	if start < 0 || end <= start {
		return apperr.Wrap(apperr.ErrInput, fmt.Errorf("cut clip: invalid span %.2f-%.2f", start, end))
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("mkdir clip dir: %w", err)
	}
	args := []string{
		"-y",
		"-ss", formatSeconds(start),
		"-t", formatSeconds(end - start),
		"-i", in,
		"-vn",
		"-acodec", "pcm_s16le",
		out,
	}
	if err := m.ffmpeg(ctx, "cut clip", args...); err != nil {
		return err
	}
	if _, err := os.Stat(out); err != nil {
		return fmt.Errorf("clip output missing at %s", out)
	}
	return nil
}

// ToSpeechWAV transcodes in to 16 kHz mono LINEAR16, the input speech recognizers expect.
func (m *Tools) ToSpeechWAV(ctx context.Context, in, out string) error {
	ctx = ctxutil.Default(ctx)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("mkdir wav dir: %w", err)
	}
	args := []string{
		"-y",
		"-i", in,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(SpeechSampleRate),
		"-acodec", "pcm_s16le",
		"-f", "wav",
		out,
	}
	return m.ffmpeg(ctx, "transcode for speech", args...)
}

func (m *Tools) ffmpeg(ctx context.Context, what string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, m.defaultTimeout)
	defer cancel()
	start := time.Now()
	cmd := exec.CommandContext(ctx, m.ffmpegPath, append([]string{"-hide_banner", "-loglevel", "error"}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg %s failed: %w; out=%s", what, err, tail(out, 2048))
	}
	m.log.Debug("ffmpeg finished", "op", what, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}
