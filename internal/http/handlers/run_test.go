package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	types "github.com/yungbote/chorusreel-backend/internal/domain"
	"github.com/yungbote/chorusreel-backend/internal/jobs/runstatus"
	apperr "github.com/yungbote/chorusreel-backend/internal/pkg/errors"
	"github.com/yungbote/chorusreel-backend/internal/platform/logger"
	"github.com/yungbote/chorusreel-backend/internal/realtime"
)

type fakeRuns struct {
	mu       sync.Mutex
	startErr error
	runs     map[string]types.PipelineRun
	finals   map[string]string

	gotFilename string
	gotModel    string
	gotBody     string
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{runs: map[string]types.PipelineRun{}, finals: map[string]string{}}
}

func (f *fakeRuns) StartUpload(_ context.Context, filename string, audio io.Reader, model string) (types.PipelineRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return types.PipelineRun{}, f.startErr
	}
	b, _ := io.ReadAll(audio)
	f.gotFilename, f.gotModel, f.gotBody = filename, model, string(b)
	snap := types.PipelineRun{ID: "run-new", Stage: types.StageIdle, ModelName: model}
	f.runs[snap.ID] = snap
	return snap, nil
}

func (f *fakeRuns) Status(_ context.Context, runID string) (types.PipelineRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.runs[runID]
	if !ok {
		return types.PipelineRun{}, fmt.Errorf("%w: run %s", apperr.ErrNotFound, runID)
	}
	return snap, nil
}

func (f *fakeRuns) Latest(_ context.Context) (types.PipelineRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *types.PipelineRun
	for _, r := range f.runs {
		r := r
		if latest == nil || r.StartedAt.After(latest.StartedAt) {
			latest = &r
		}
	}
	if latest == nil {
		return types.PipelineRun{}, apperr.ErrNotFound
	}
	return *latest, nil
}

func (f *fakeRuns) Recent(_ context.Context, limit int) ([]types.PipelineRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []types.PipelineRun{}
	for _, r := range f.runs {
		if len(out) == limit {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRuns) FinalArtifactPath(_ context.Context, runID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.runs[runID]
	if !ok {
		return "", apperr.ErrNotFound
	}
	if !snap.Done || !snap.Succeeded {
		return "", fmt.Errorf("%w: run %s has no final video", apperr.ErrNotReady, runID)
	}
	return f.finals[runID], nil
}

func (f *fakeRuns) put(snap types.PipelineRun) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[snap.ID] = snap
}

func newRunRouter(runs RunService, maxUpload int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewRunHandler(logger.Nop(), runs, maxUpload)
	r := gin.New()
	r.POST("/api/runs", h.CreateRun)
	r.GET("/api/status", h.LatestStatus)
	r.GET("/api/runs", h.ListRuns)
	r.GET("/api/runs/:id", h.GetRun)
	r.GET("/api/runs/:id/download", h.Download)
	return r
}

func uploadRequest(t *testing.T, field, filename string, content []byte, model string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := fw.Write(content); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if model != "" {
		if err := mw.WriteField("model", model); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/runs", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeRun(t *testing.T, body []byte) types.PipelineRun {
	t.Helper()
	var out struct {
		Run types.PipelineRun `json:"run"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v body=%s", err, body)
	}
	return out.Run
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decode error envelope: %v body=%s", err, body)
	}
	return env.Error.Code
}

func TestCreateRunAccepted(t *testing.T) {
	runs := newFakeRuns()
	r := newRunRouter(runs, 0)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, uploadRequest(t, "audio", "../My Song.mp3", []byte("ID3data"), "gemini-1.5-flash"))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: want=%d got=%d body=%s", http.StatusAccepted, rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "/api/runs/run-new" {
		t.Fatalf("location: want=/api/runs/run-new got=%q", loc)
	}
	if got := decodeRun(t, rec.Body.Bytes()); got.ID != "run-new" || got.ModelName != "gemini-1.5-flash" {
		t.Fatalf("run: got=%+v", got)
	}
	if runs.gotFilename != "My Song.mp3" {
		t.Fatalf("filename: want base name got=%q", runs.gotFilename)
	}
	if runs.gotBody != "ID3data" {
		t.Fatalf("body: want=ID3data got=%q", runs.gotBody)
	}
}

func TestCreateRunRejectsWhileActive(t *testing.T) {
	runs := newFakeRuns()
	runs.startErr = runstatus.ErrRunActive
	r := newRunRouter(runs, 0)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, uploadRequest(t, "audio", "song.mp3", []byte("x"), ""))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status: want=%d got=%d", http.StatusConflict, rec.Code)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != "run_active" {
		t.Fatalf("code: want=run_active got=%q", code)
	}
}

func TestCreateRunErrors(t *testing.T) {
	tests := []struct {
		name     string
		startErr error
		field    string
		status   int
		code     string
	}{
		{name: "missing file", field: "", status: http.StatusBadRequest, code: "missing_audio"},
		{name: "unsupported model", startErr: fmt.Errorf("%w: unsupported model \"x\"", apperr.ErrInput), field: "audio", status: http.StatusBadRequest, code: "invalid_input"},
		{name: "internal", startErr: fmt.Errorf("disk full"), field: "audio", status: http.StatusInternalServerError, code: "internal"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			runs := newFakeRuns()
			runs.startErr = tc.startErr
			r := newRunRouter(runs, 0)

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, uploadRequest(t, tc.field, "song.mp3", []byte("x"), "x"))

			if rec.Code != tc.status {
				t.Fatalf("status: want=%d got=%d body=%s", tc.status, rec.Code, rec.Body.String())
			}
			if code := errorCode(t, rec.Body.Bytes()); code != tc.code {
				t.Fatalf("code: want=%s got=%s", tc.code, code)
			}
		})
	}
}

func TestCreateRunTooLarge(t *testing.T) {
	r := newRunRouter(newFakeRuns(), 1024)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, uploadRequest(t, "audio", "song.mp3", bytes.Repeat([]byte("a"), 8192), ""))

	if rec.Code != http.StatusRequestEntityTooLarge && rec.Code != http.StatusBadRequest {
		t.Fatalf("status: want 413 or 400 got=%d", rec.Code)
	}
}

func TestGetRunAndLatest(t *testing.T) {
	runs := newFakeRuns()
	now := time.Now()
	runs.put(types.PipelineRun{ID: "old", Stage: types.StageDone, Done: true, Succeeded: true, StartedAt: now.Add(-time.Hour)})
	runs.put(types.PipelineRun{ID: "new", Stage: types.StageTranscribing, StartedAt: now})
	r := newRunRouter(runs, 0)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/old", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status: want=200 got=%d", rec.Code)
	}
	if got := decodeRun(t, rec.Body.Bytes()); got.ID != "old" || got.Stage != types.StageDone {
		t.Fatalf("get run: got=%+v", got)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if got := decodeRun(t, rec.Body.Bytes()); got.ID != "new" {
		t.Fatalf("latest: want=new got=%q", got.ID)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing: want=404 got=%d", rec.Code)
	}
}

func TestLatestWithNoRuns(t *testing.T) {
	r := newRunRouter(newFakeRuns(), 0)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: want=404 got=%d", rec.Code)
	}
}

func TestListRunsLimit(t *testing.T) {
	runs := newFakeRuns()
	for i := 0; i < 3; i++ {
		runs.put(types.PipelineRun{ID: fmt.Sprintf("r%d", i)})
	}
	r := newRunRouter(runs, 0)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs?limit=2", nil))
	var out struct {
		Runs []types.PipelineRun `json:"runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Runs) != 2 {
		t.Fatalf("runs: want=2 got=%d", len(out.Runs))
	}
}

func TestDownload(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "final_output.mp4")
	if err := os.WriteFile(final, []byte("mp4bytes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	runs := newFakeRuns()
	runs.put(types.PipelineRun{ID: "done", Stage: types.StageDone, Done: true, Succeeded: true})
	runs.put(types.PipelineRun{ID: "busy", Stage: types.StageGeneratingVideo})
	runs.finals["done"] = final
	r := newRunRouter(runs, 0)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/done/download", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("download: want=200 got=%d", rec.Code)
	}
	if rec.Body.String() != "mp4bytes" {
		t.Fatalf("download body: got=%q", rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "final_output.mp4") {
		t.Fatalf("content-disposition: got=%q", cd)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/busy/download", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("not ready: want=409 got=%d", rec.Code)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != "not_ready" {
		t.Fatalf("code: want=not_ready got=%q", code)
	}
}

func TestRunEventsStreamsUntilFinished(t *testing.T) {
	gin.SetMode(gin.TestMode)
	runs := newFakeRuns()
	runs.put(types.PipelineRun{ID: "r1", Stage: types.StageTranscribing})
	hub := realtime.NewSSEHub(logger.Nop())
	h := NewRealtimeHandler(logger.Nop(), hub, runs)
	r := gin.New()
	r.GET("/api/runs/:id/events", h.RunEvents)

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/runs/r1/events")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type: got=%q", ct)
	}

	finished := types.PipelineRun{ID: "r1", Stage: types.StageDone, Done: true, Succeeded: true}
	runs.put(finished)
	hub.OnUpdate(finished)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	text := string(body)
	if !strings.Contains(text, "event: RunUpdated") {
		t.Fatalf("missing initial snapshot: %s", text)
	}
	if !strings.Contains(text, "event: RunFinished") {
		t.Fatalf("missing finished event: %s", text)
	}
}

func TestRunEventsUnknownRun(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewRealtimeHandler(logger.Nop(), realtime.NewSSEHub(logger.Nop()), newFakeRuns())
	r := gin.New()
	r.GET("/api/runs/:id/events", h.RunEvents)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/nope/events", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: want=404 got=%d", rec.Code)
	}
}
