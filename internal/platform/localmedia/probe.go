package localmedia

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/chorusreel-backend/internal/platform/ctxutil"
)

// MediaInfo is what ffprobe reports about one file. Width/Height/FPS are zero without a video stream.
// VideoDuration and AudioDuration are the first stream of each kind; zero when ffprobe omits it.
type MediaInfo struct {
	Path          string
	Duration      float64
	VideoDuration float64
	AudioDuration float64
	Width         int
	Height        int
	FPS           float64
	HasAudio      bool
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (m *Tools) Probe(ctx context.Context, path string) (MediaInfo, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return MediaInfo{}, fmt.Errorf("ffprobe %s failed: %w", path, err)
	}
	return parseProbe(path, out)
}

func parseProbe(path string, raw []byte) (MediaInfo, error) {
	var p ffprobeOutput
	if err := json.Unmarshal(raw, &p); err != nil {
		return MediaInfo{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	info := MediaInfo{Path: path, Duration: parseFloat(p.Format.Duration)}
	for _, s := range p.Streams {
		switch s.CodecType {
		case "video":
			if info.Width == 0 {
				info.Width, info.Height = s.Width, s.Height
				info.FPS = parseRate(s.AvgFrameRate)
				info.VideoDuration = parseFloat(s.Duration)
			}
			if info.Duration == 0 {
				info.Duration = parseFloat(s.Duration)
			}
		case "audio":
			if !info.HasAudio {
				info.AudioDuration = parseFloat(s.Duration)
			}
			info.HasAudio = true
			if info.Duration == 0 {
				info.Duration = parseFloat(s.Duration)
			}
		}
	}
	if info.Duration <= 0 {
		return MediaInfo{}, fmt.Errorf("ffprobe reported no duration for %s", path)
	}
	return info, nil
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

// parseRate reads ffprobe's "num/den" frame rates.
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return parseFloat(s)
	}
	n, d := parseFloat(num), parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}
