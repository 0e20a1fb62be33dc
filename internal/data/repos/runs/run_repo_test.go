package runs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yungbote/chorusreel-backend/internal/data/repos/testutil"
	types "github.com/yungbote/chorusreel-backend/internal/domain"
	"github.com/yungbote/chorusreel-backend/internal/pkg/dbctx"
	apperr "github.com/yungbote/chorusreel-backend/internal/pkg/errors"
)

func snapshot(id string, stage types.Stage, lines ...string) types.PipelineRun {
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	snap := types.PipelineRun{
		ID:        id,
		Stage:     stage,
		Message:   "working",
		ModelName: "gpt4o",
		AudioPath: "/data/uploads/" + id + "/song.mp3",
		StartedAt: start,
		Log:       []types.LogEntry{},
	}
	for i, l := range lines {
		snap.Log = append(snap.Log, types.LogEntry{At: start.Add(time.Duration(i) * time.Second), Text: l})
	}
	return snap
}

func TestRecorderPersistsIncrementally(t *testing.T) {
	conn := testutil.DB(t)
	rec := NewRecorder(testutil.Logger(t), NewRunRepo(conn, testutil.Logger(t)))
	ctx := context.Background()

	rec.OnUpdate(snapshot("run-1", types.StageIdle))
	rec.OnUpdate(snapshot("run-1", types.StageTranscribing, "Using model: gpt4o"))
	rec.OnUpdate(snapshot("run-1", types.StageExtractingChorus, "Using model: gpt4o", "Transcription complete (12 words)"))

	final := snapshot("run-1", types.StageDone, "Using model: gpt4o", "Transcription complete (12 words)", "Final video ready: a_b_stitched.mp4")
	lyrics := "we are young"
	final.Done, final.Succeeded = true, true
	final.Artifacts = types.Artifacts{Lyrics: &lyrics, Videos: []string{"a.mp4", "b.mp4"}, FinalVideo: "/out/a_b_stitched.mp4"}
	finished := final.StartedAt.Add(time.Minute)
	final.FinishedAt = &finished
	rec.OnUpdate(final)

	got, err := rec.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Stage != types.StageDone || !got.Done || !got.Succeeded {
		t.Fatalf("state: got stage=%s done=%v ok=%v", got.Stage, got.Done, got.Succeeded)
	}
	if len(got.Log) != 3 || got.Log[2].Text != "Final video ready: a_b_stitched.mp4" {
		t.Fatalf("log: got=%+v", got.Log)
	}
	if got.Artifacts.Lyrics == nil || *got.Artifacts.Lyrics != lyrics || len(got.Artifacts.Videos) != 2 {
		t.Fatalf("artifacts: got=%+v", got.Artifacts)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Fatalf("finished_at: want=%v got=%v", finished, got.FinishedAt)
	}
}

func TestRecorderLoadMissing(t *testing.T) {
	rec := NewRecorder(nil, NewRunRepo(testutil.DB(t), nil))
	if _, err := rec.Load(context.Background(), "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("want ErrNotFound got=%v", err)
	}
}

func TestRunRepoRecentAndInterrupted(t *testing.T) {
	conn := testutil.DB(t)
	repo := NewRunRepo(conn, nil)
	dbc := dbctx.Context{Ctx: context.Background()}

	older, _ := ToRecord(snapshot("run-old", types.StageDone))
	older.Done, older.Succeeded = true, true
	newer, _ := ToRecord(snapshot("run-new", types.StageGeneratingVideo))
	newer.StartedAt = older.StartedAt.Add(time.Hour)
	for _, r := range []*types.RunRecord{older, newer} {
		if err := repo.Save(dbc, r); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	recent, err := repo.ListRecent(dbc, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "run-new" {
		t.Fatalf("recent: got=%d first=%v", len(recent), recent)
	}

	n, err := repo.MarkInterrupted(dbc, "interrupted by restart", time.Now().UTC())
	if err != nil || n != 1 {
		t.Fatalf("MarkInterrupted: n=%d err=%v", n, err)
	}
	got, err := repo.GetByID(dbc, "run-new")
	if err != nil || got == nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !got.Done || got.Succeeded || got.Stage != string(types.StageFailed) || got.FailedStage != string(types.StageGeneratingVideo) {
		t.Fatalf("interrupted: got=%+v", got)
	}
	kept, _ := repo.GetByID(dbc, "run-old")
	if kept == nil || !kept.Succeeded {
		t.Fatalf("finished run must be untouched: got=%+v", kept)
	}
}

func TestRunRepoTxRollback(t *testing.T) {
	conn := testutil.DB(t)
	repo := NewRunRepo(conn, nil)
	tx := testutil.Tx(t, conn)
	r, _ := ToRecord(snapshot("run-tx", types.StageIdle))
	if err := repo.Save(dbctx.Context{Ctx: context.Background(), Tx: tx}, r); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := tx.Rollback().Error; err != nil {
		t.Fatalf("rollback: %v", err)
	}
	got, err := repo.GetByID(dbctx.Context{Ctx: context.Background()}, "run-tx")
	if err != nil || got != nil {
		t.Fatalf("want no row after rollback, got=%+v err=%v", got, err)
	}
}
