package runstatus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	types "github.com/yungbote/chorusreel-backend/internal/domain"
)

// Run is the live status record of one pipeline run. Exactly one goroutine writes to it;
// any number of observers read Snapshot. Once Done, every mutator is a no-op.
type Run struct {
	mu  sync.Mutex
	rec types.PipelineRun

	// notifyMu orders listener callbacks with mutations without blocking Snapshot.
	notifyMu sync.Mutex
	notify   func(types.PipelineRun)
	onDone   func(*Run)
	now      func() time.Time
}

func newRun(id, audioPath, model string, now func() time.Time) *Run {
	if now == nil {
		now = time.Now
	}
	return &Run{
		now: now,
		rec: types.PipelineRun{
			ID:        id,
			Stage:     types.StageIdle,
			Message:   "Queued",
			Log:       []types.LogEntry{},
			ModelName: model,
			AudioPath: audioPath,
			StartedAt: now().UTC(),
		},
	}
}

func (r *Run) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec.ID
}

func (r *Run) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec.Done
}

// Snapshot returns a deep copy that shares nothing with the live record.
func (r *Run) Snapshot() types.PipelineRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Run) snapshotLocked() types.PipelineRun {
	out := r.rec
	out.Log = append([]types.LogEntry(nil), r.rec.Log...)
	if out.Log == nil {
		out.Log = []types.LogEntry{}
	}
	out.Artifacts = r.rec.Artifacts.Clone()
	if r.rec.FinishedAt != nil {
		t := *r.rec.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

// SetStage moves the run to stage. index is only kept for per-video stages.
func (r *Run) SetStage(stage types.Stage, index int, message string) {
	r.mutate(func(rec *types.PipelineRun) bool {
		if stage.IsTerminal() {
			return false
		}
		rec.Stage = stage
		rec.StageIndex = 0
		if stage.Indexed() {
			rec.StageIndex = index
		}
		rec.Message = message
		return true
	})
}

func (r *Run) AppendLog(text string) {
	r.mutate(func(rec *types.PipelineRun) bool {
		rec.Log = append(rec.Log, types.LogEntry{At: r.now().UTC(), Text: text})
		return true
	})
}

func (r *Run) Logf(format string, args ...interface{}) {
	r.AppendLog(fmt.Sprintf(format, args...))
}

func (r *Run) SetLyrics(text string) {
	r.mutate(func(rec *types.PipelineRun) bool {
		rec.Artifacts.Lyrics = &text
		return true
	})
}

func (r *Run) SetChorus(span types.ChorusSpan) {
	r.mutate(func(rec *types.PipelineRun) bool {
		rec.Artifacts.Chorus = &span
		return true
	})
}

func (r *Run) SetAudioEmotion(em types.AudioEmotion) {
	r.mutate(func(rec *types.PipelineRun) bool {
		cl := types.Artifacts{AudioEmotion: &em}.Clone()
		rec.Artifacts.AudioEmotion = cl.AudioEmotion
		return true
	})
}

func (r *Run) SetLyricEmotion(em types.LyricEmotion) {
	r.mutate(func(rec *types.PipelineRun) bool {
		cl := types.Artifacts{LyricEmotion: &em}.Clone()
		rec.Artifacts.LyricEmotion = cl.LyricEmotion
		return true
	})
}

func (r *Run) SetPrompts(prompts []string) {
	r.mutate(func(rec *types.PipelineRun) bool {
		rec.Artifacts.Prompts = append([]string{}, prompts...)
		return true
	})
}

// AddVideo appends one staged clip; the order of calls is the stitching order.
func (r *Run) AddVideo(path string) {
	r.mutate(func(rec *types.PipelineRun) bool {
		rec.Artifacts.Videos = append(rec.Artifacts.Videos, path)
		return true
	})
}

// Succeed records the final video and closes the run.
func (r *Run) Succeed(finalVideo, message string) {
	r.mutate(func(rec *types.PipelineRun) bool {
		if finalVideo == "" {
			rec.Stage = types.StageFailed
			rec.FailedStage = types.StageStitching
			rec.Error = "merge produced no output"
			rec.Message = rec.Error
			rec.Log = append(rec.Log, types.LogEntry{At: r.now().UTC(), Text: "Failed: " + rec.Error})
			r.closeLocked(rec, false)
			return true
		}
		rec.Artifacts.FinalVideo = finalVideo
		rec.Stage = types.StageDone
		rec.StageIndex = 0
		rec.Message = message
		rec.Log = append(rec.Log, types.LogEntry{At: r.now().UTC(), Text: message})
		r.closeLocked(rec, true)
		return true
	})
}

// Fail closes the run with the stage it failed in and a reason that is also appended to the log.
func (r *Run) Fail(stage types.Stage, err error) {
	if err == nil {
		err = errors.New("unknown failure")
	}
	r.mutate(func(rec *types.PipelineRun) bool {
		if stage == "" || stage.IsTerminal() {
			stage = rec.Stage
		}
		rec.FailedStage = stage
		rec.Stage = types.StageFailed
		rec.Error = err.Error()
		rec.Message = fmt.Sprintf("Failed during %s", stage)
		rec.Log = append(rec.Log, types.LogEntry{At: r.now().UTC(), Text: "Error: " + err.Error()})
		r.closeLocked(rec, false)
		return true
	})
}

// Finish is the generic terminal transition. Success without a final video is recorded as a failure.
func (r *Run) Finish(success bool, message string) {
	if success {
		r.Succeed(r.Snapshot().Artifacts.FinalVideo, message)
		return
	}
	r.Fail("", errors.New(message))
}

func (r *Run) closeLocked(rec *types.PipelineRun, succeeded bool) {
	now := r.now().UTC()
	rec.Done = true
	rec.Succeeded = succeeded
	rec.FinishedAt = &now
}

func (r *Run) mutate(fn func(rec *types.PipelineRun) bool) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	if r.rec.Done || !fn(&r.rec) {
		r.mu.Unlock()
		return
	}
	snap := r.snapshotLocked()
	notify, onDone := r.notify, r.onDone
	r.mu.Unlock()

	if notify != nil {
		notify(snap)
	}
	if snap.Done && onDone != nil {
		onDone(r)
	}
}
