package artifacts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStorePathsAreScopedPerRun(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	up, err := s.UploadPath("run-1", "My Song.mp3")
	if err != nil {
		t.Fatalf("UploadPath: %v", err)
	}
	if filepath.Base(up) != "My_Song.mp3" {
		t.Fatalf("upload name: want=My_Song.mp3 got=%s", filepath.Base(up))
	}
	if !strings.Contains(up, filepath.Join("uploads", "run-1")) {
		t.Fatalf("upload dir: got=%s", up)
	}

	chorus, err := s.ChorusPath("run-1", up)
	if err != nil {
		t.Fatalf("ChorusPath: %v", err)
	}
	if filepath.Base(chorus) != "chorus_clip_My_Song.wav" {
		t.Fatalf("chorus name: got=%s", filepath.Base(chorus))
	}

	v, err := s.VideoPath("run-1", 1, "gs://bucket/out/123/sample_0.mp4")
	if err != nil {
		t.Fatalf("VideoPath: %v", err)
	}
	if filepath.Base(v) != "1_sample_0.mp4" {
		t.Fatalf("video name: want=1_sample_0.mp4 got=%s", filepath.Base(v))
	}

	out, err := s.OutputDir("run-1")
	if err != nil {
		t.Fatalf("OutputDir: %v", err)
	}
	if info, err := os.Stat(out); err != nil || !info.IsDir() {
		t.Fatalf("OutputDir not created: %v", err)
	}
}

func TestStoreRejectsTraversal(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p, err := s.UploadPath("run-1", "../../etc/passwd")
	if err != nil {
		t.Fatalf("UploadPath: %v", err)
	}
	if !s.Contains(p) {
		t.Fatalf("Contains: want=true for %s", p)
	}
	if s.Contains(filepath.Join(s.Root(), "..", "elsewhere")) {
		t.Fatalf("Contains: want=false outside root")
	}
	if _, err := s.OutputDir("  "); err == nil {
		t.Fatalf("OutputDir: expected error for empty run id")
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "a.mp4")
	if Exists(f) {
		t.Fatalf("Exists: want=false before write")
	}
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if !Exists(f) {
		t.Fatalf("Exists: want=true after write")
	}
	if Exists(dir) {
		t.Fatalf("Exists: want=false for directory")
	}
}
