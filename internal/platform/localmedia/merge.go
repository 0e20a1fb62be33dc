package localmedia

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	apperr "github.com/yungbote/chorusreel-backend/internal/pkg/errors"
	"github.com/yungbote/chorusreel-backend/internal/platform/ctxutil"
)

const defaultFPS = 24

// MergePlan is the layout of one stitch: every clip letterboxed onto a shared canvas,
// played back to back, under audio cut to the video length.
type MergePlan struct {
	Width  int
	Height int
	FPS    float64
	// VideoDuration is the sum of the clip durations.
	VideoDuration float64
	// AudioDuration is how much of the audio track is kept. It is shorter than
	// VideoDuration only when the audio itself is shorter; audio is never stretched or looped.
	AudioDuration float64
}

// Plan computes the canvas and durations for clips under an audio track of audio.Duration seconds.
func Plan(clips []MediaInfo, audio MediaInfo) (MergePlan, error) {
	if len(clips) == 0 {
		return MergePlan{}, errors.New("no video clips to merge")
	}
	var p MergePlan
	for i, c := range clips {
		if c.Duration <= 0 {
			return MergePlan{}, fmt.Errorf("clip %d has no duration", i)
		}
		if c.Width <= 0 || c.Height <= 0 {
			return MergePlan{}, fmt.Errorf("clip %d has no video stream", i)
		}
		p.VideoDuration += c.Duration
		p.Width = max(p.Width, c.Width)
		p.Height = max(p.Height, c.Height)
		p.FPS = math.Max(p.FPS, c.FPS)
	}
	if audio.Duration <= 0 {
		return MergePlan{}, errors.New("audio track has no duration")
	}
	// libx264 with yuv420p needs even dimensions
	p.Width += p.Width % 2
	p.Height += p.Height % 2
	if p.FPS <= 0 {
		p.FPS = defaultFPS
	}
	p.AudioDuration = math.Min(audio.Duration, p.VideoDuration)
	return p, nil
}

// FilterGraph is the ffmpeg -filter_complex for n clip inputs followed by the audio input.
func (p MergePlan) FilterGraph(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b,
			"[%d:v]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%s,format=yuv420p[v%d];",
			i, p.Width, p.Height, p.Width, p.Height, formatRate(p.FPS), i)
	}
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "[v%d]", i)
	}
	fmt.Fprintf(&b, "concat=n=%d:v=1:a=0[vout];", n)
	fmt.Fprintf(&b, "[%d:a]atrim=0:%s,asetpts=PTS-STARTPTS[aout]", n, formatSeconds(p.AudioDuration))
	return b.String()
}

// OutputName is the stitched file name for clips: their base names joined by "_".
func OutputName(videoPaths []string) string {
	parts := make([]string, 0, len(videoPaths))
	for _, p := range videoPaths {
		base := filepath.Base(p)
		parts = append(parts, strings.TrimSuffix(base, filepath.Ext(base)))
	}
	return strings.Join(parts, "_") + "_stitched.mp4"
}

// Merge concatenates videoPaths in order and lays audioPath under them, truncated to the video length.
func (m *Tools) Merge(ctx context.Context, videoPaths []string, audioPath, outputDir string) (string, error) {
	ctx = ctxutil.Default(ctx)
	if len(videoPaths) == 0 {
		return "", apperr.Wrap(apperr.ErrMerge, errors.New("no videos to stitch"))
	}
	if err := m.AssertReady(ctx); err != nil {
		return "", apperr.Wrap(apperr.ErrMerge, err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", apperr.Wrap(apperr.ErrMerge, fmt.Errorf("mkdir output dir: %w", err))
	}

	clips := make([]MediaInfo, 0, len(videoPaths))
	for _, p := range videoPaths {
		info, err := m.Probe(ctx, p)
		if err != nil {
			return "", apperr.Wrap(apperr.ErrMerge, err)
		}
		clips = append(clips, info)
	}
	audio, err := m.Probe(ctx, audioPath)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrMerge, err)
	}
	plan, err := Plan(clips, audio)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrMerge, err)
	}

	out := filepath.Join(outputDir, OutputName(videoPaths))
	args := []string{"-y"}
	for _, p := range videoPaths {
		args = append(args, "-i", p)
	}
	args = append(args,
		"-i", audioPath,
		"-filter_complex", plan.FilterGraph(len(videoPaths)),
		"-map", "[vout]",
		"-map", "[aout]",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-c:a", "aac",
		"-t", formatSeconds(plan.VideoDuration),
		"-movflags", "+faststart",
		out,
	)
	if err := m.ffmpeg(ctx, "stitch", args...); err != nil {
		_ = os.Remove(out)
		return "", apperr.Wrap(apperr.ErrMerge, err)
	}
	m.log.Info("Stitched video written",
		"path", out,
		"clips", len(videoPaths),
		"video_seconds", plan.VideoDuration,
		"audio_seconds", plan.AudioDuration,
	)
	return out, nil
}

func formatRate(fps float64) string {
	if fps == math.Trunc(fps) {
		return fmt.Sprintf("%d", int(fps))
	}
	return fmt.Sprintf("%.3f", fps)
}
