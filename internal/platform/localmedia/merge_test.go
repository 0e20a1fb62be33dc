package localmedia

import (
	"context"
	"errors"
	"math"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	apperr "github.com/yungbote/chorusreel-backend/internal/pkg/errors"
)

func TestPlanTruncatesLongerAudio(t *testing.T) {
	clips := []MediaInfo{
		{Duration: 8, Width: 1280, Height: 720, FPS: 24},
		{Duration: 7.5, Width: 1920, Height: 1080, FPS: 30},
	}
	plan, err := Plan(clips, MediaInfo{Duration: 16 + 3.25})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.VideoDuration != 15.5 {
		t.Fatalf("video duration: want=15.5 got=%v", plan.VideoDuration)
	}
	if plan.AudioDuration != plan.VideoDuration {
		t.Fatalf("audio duration: want=%v got=%v", plan.VideoDuration, plan.AudioDuration)
	}
	if plan.Width != 1920 || plan.Height != 1080 || plan.FPS != 30 {
		t.Fatalf("canvas: got=%dx%d@%v", plan.Width, plan.Height, plan.FPS)
	}
}

func TestPlanKeepsShorterAudio(t *testing.T) {
	plan, err := Plan([]MediaInfo{{Duration: 8, Width: 641, Height: 359}}, MediaInfo{Duration: 5})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.VideoDuration != 8 || plan.AudioDuration != 5 {
		t.Fatalf("durations: want=8/5 got=%v/%v", plan.VideoDuration, plan.AudioDuration)
	}
	if plan.Width != 642 || plan.Height != 360 {
		t.Fatalf("even canvas: got=%dx%d", plan.Width, plan.Height)
	}
	if plan.FPS != defaultFPS {
		t.Fatalf("fps: want=%d got=%v", defaultFPS, plan.FPS)
	}
}

func TestPlanRejectsEmpty(t *testing.T) {
	if _, err := Plan(nil, MediaInfo{Duration: 5}); err == nil {
		t.Fatalf("Plan(nil): want error")
	}
	if _, err := Plan([]MediaInfo{{Duration: 8}}, MediaInfo{Duration: 5}); err == nil {
		t.Fatalf("Plan(no video stream): want error")
	}
}

func TestFilterGraph(t *testing.T) {
	plan := MergePlan{Width: 1280, Height: 720, FPS: 24, VideoDuration: 16, AudioDuration: 16}
	g := plan.FilterGraph(2)
	for _, want := range []string{
		"[0:v]scale=1280:720:force_original_aspect_ratio=decrease,pad=1280:720:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=24",
		"[v0][v1]concat=n=2:v=1:a=0[vout]",
		"[2:a]atrim=0:16.000,asetpts=PTS-STARTPTS[aout]",
	} {
		if !strings.Contains(g, want) {
			t.Fatalf("graph missing %q: %s", want, g)
		}
	}
}

func TestOutputName(t *testing.T) {
	got := OutputName([]string{"/data/videos/r1/0_sample_0.mp4", "/data/videos/r1/1_sample_0.mp4"})
	if got != "0_sample_0_1_sample_0_stitched.mp4" {
		t.Fatalf("OutputName: got=%q", got)
	}
}

func TestParseProbe(t *testing.T) {
	raw := []byte(`{"streams":[{"codec_type":"video","width":1280,"height":720,"avg_frame_rate":"30000/1001","duration":"8.008000"},{"codec_type":"audio","duration":"7.500000"}],"format":{"duration":"8.008000"}}`)
	info, err := parseProbe("clip.mp4", raw)
	if err != nil {
		t.Fatalf("parseProbe: %v", err)
	}
	if info.Duration != 8.008 || info.Width != 1280 || !info.HasAudio {
		t.Fatalf("info: got=%+v", info)
	}
	if math.Abs(info.FPS-29.97) > 0.01 {
		t.Fatalf("fps: want~29.97 got=%v", info.FPS)
	}
	if info.VideoDuration != 8.008 || info.AudioDuration != 7.5 {
		t.Fatalf("stream durations: got video=%v audio=%v", info.VideoDuration, info.AudioDuration)
	}
	if _, err := parseProbe("x", []byte(`{"streams":[],"format":{}}`)); err == nil {
		t.Fatalf("parseProbe(no duration): want error")
	}
}

func TestMergeWithoutVideosIsMergeError(t *testing.T) {
	_, err := New(nil).Merge(context.Background(), nil, "a.wav", t.TempDir())
	if !errors.Is(err, apperr.ErrMerge) {
		t.Fatalf("Merge(nil): want ErrMerge got=%v", err)
	}
}

func requireFFmpeg(t *testing.T) {
	t.Helper()
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not on PATH", bin)
		}
	}
}

func synth(t *testing.T, args ...string) {
	t.Helper()
	cmd := exec.Command("ffmpeg", append([]string{"-hide_banner", "-loglevel", "error", "-y"}, args...)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("synth: %v: %s", err, out)
	}
}

func TestMergeTruncatesAudioToVideo(t *testing.T) {
	requireFFmpeg(t)
	dir := t.TempDir()
	v1 := filepath.Join(dir, "0_a.mp4")
	v2 := filepath.Join(dir, "1_b.mp4")
	audio := filepath.Join(dir, "chorus.wav")
	synth(t, "-f", "lavfi", "-i", "testsrc=size=320x240:rate=24:duration=2", "-pix_fmt", "yuv420p", v1)
	synth(t, "-f", "lavfi", "-i", "testsrc=size=640x360:rate=24:duration=1.5", "-pix_fmt", "yuv420p", v2)
	synth(t, "-f", "lavfi", "-i", "sine=frequency=440:duration=6", audio)

	tools := New(nil)
	out, err := tools.Merge(context.Background(), []string{v1, v2}, audio, filepath.Join(dir, "out"))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if filepath.Base(out) != "0_a_1_b_stitched.mp4" {
		t.Fatalf("output name: got=%s", filepath.Base(out))
	}
	info, err := tools.Probe(context.Background(), out)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if math.Abs(info.Duration-3.5) > 0.2 {
		t.Fatalf("duration: want~3.5 got=%v", info.Duration)
	}
	if info.Width != 640 || info.Height != 360 || !info.HasAudio {
		t.Fatalf("output: got=%+v", info)
	}
	// The 6s chorus must be cut to the stitched video, not just hidden by the container length.
	if math.Abs(info.AudioDuration-3.5) > 0.2 {
		t.Fatalf("audio stream duration: want~3.5 got=%v", info.AudioDuration)
	}
	if math.Abs(info.AudioDuration-info.VideoDuration) > 0.2 {
		t.Fatalf("audio/video drift: audio=%v video=%v", info.AudioDuration, info.VideoDuration)
	}
}

func TestCutClip(t *testing.T) {
	requireFFmpeg(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "song.wav")
	synth(t, "-f", "lavfi", "-i", "sine=frequency=220:duration=10", src)

	tools := New(nil)
	out := filepath.Join(dir, "chorus", "clip.wav")
	if err := tools.CutClip(context.Background(), src, out, 2, 6); err != nil {
		t.Fatalf("CutClip: %v", err)
	}
	info, err := tools.Probe(context.Background(), out)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if math.Abs(info.Duration-4) > 0.1 {
		t.Fatalf("clip duration: want~4 got=%v", info.Duration)
	}
	if err := tools.CutClip(context.Background(), src, out, 6, 2); !errors.Is(err, apperr.ErrInput) {
		t.Fatalf("CutClip(bad span): want ErrInput got=%v", err)
	}
}
