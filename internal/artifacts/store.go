package artifacts

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const (
	dirUploads   = "uploads"
	dirChorus    = "chorus"
	dirVideos    = "videos"
	dirProcessed = "processed_videos"
)

// Store hands out local staging paths for one data root. It never deletes anything;
// stale runs are left for external housekeeping.
type Store struct {
	root string
}

func New(root string) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("artifact root required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir artifact root: %w", err)
	}
	return &Store{root: abs}, nil
}

func (s *Store) Root() string { return s.root }

// UploadPath is where an uploaded source track is saved.
func (s *Store) UploadPath(runID, filename string) (string, error) {
	return s.file(dirUploads, runID, sanitizeName(filename, "audio"))
}

// ChorusPath is where the extracted chorus clip of source is written.
func (s *Store) ChorusPath(runID, source string) (string, error) {
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	return s.file(dirChorus, runID, "chorus_clip_"+sanitizeName(base, "track")+".wav")
}

// VideoPath names the local copy of generated clip index (0-based) fetched from remoteURI.
func (s *Store) VideoPath(runID string, index int, remoteURI string) (string, error) {
	name := sanitizeName(path.Base(strings.TrimSpace(remoteURI)), "clip.mp4")
	return s.file(dirVideos, runID, fmt.Sprintf("%d_%s", index, name))
}

// OutputDir is the directory stitched videos of a run are written to.
func (s *Store) OutputDir(runID string) (string, error) {
	return s.dir(dirProcessed, runID)
}

// Contains reports whether p resolves inside the store root.
func (s *Store) Contains(p string) bool {
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func Exists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

func (s *Store) dir(kind, runID string) (string, error) {
	runID = sanitizeName(runID, "")
	if runID == "" {
		return "", fmt.Errorf("run id required")
	}
	d := filepath.Join(s.root, kind, runID)
	if err := os.MkdirAll(d, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", kind, err)
	}
	return d, nil
}

func (s *Store) file(kind, runID, name string) (string, error) {
	d, err := s.dir(kind, runID)
	if err != nil {
		return "", err
	}
	return filepath.Join(d, name), nil
}

func sanitizeName(name, fallback string) string {
	name = strings.TrimSpace(filepath.Base(filepath.Clean("/" + name)))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return fallback
	}
	return out
}
