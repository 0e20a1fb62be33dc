package runs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gorm.io/datatypes"

	types "github.com/yungbote/chorusreel-backend/internal/domain"
	"github.com/yungbote/chorusreel-backend/internal/pkg/dbctx"
	apperr "github.com/yungbote/chorusreel-backend/internal/pkg/errors"
	"github.com/yungbote/chorusreel-backend/internal/platform/logger"
)

const writeTimeout = 5 * time.Second

// Recorder persists every published snapshot so finished runs outlive the process.
// It is registered as a run status listener.
type Recorder struct {
	log  *logger.Logger
	repo RunRepo

	mu        sync.Mutex
	persisted map[string]int
}

func NewRecorder(log *logger.Logger, repo RunRepo) *Recorder {
	if log == nil {
		log = logger.Nop()
	}
	return &Recorder{
		log:       log.With("service", "RunRecorder"),
		repo:      repo,
		persisted: map[string]int{},
	}
}

// OnUpdate writes the snapshot row and the log entries not stored yet. Failures are logged, never raised.
func (r *Recorder) OnUpdate(snap types.PipelineRun) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	dbc := dbctx.Context{Ctx: ctx}

	rec, err := ToRecord(snap)
	if err != nil {
		r.log.Error("Encode run record failed", "run_id", snap.ID, "error", err)
		return
	}
	if err := r.repo.Save(dbc, rec); err != nil {
		r.log.Error("Save run record failed", "run_id", snap.ID, "error", err)
		return
	}

	r.mu.Lock()
	from := r.persisted[snap.ID]
	r.mu.Unlock()
	if from < len(snap.Log) {
		entries := make([]*types.RunLogEntry, 0, len(snap.Log)-from)
		for i := from; i < len(snap.Log); i++ {
			entries = append(entries, &types.RunLogEntry{
				RunID:     snap.ID,
				Seq:       i,
				Text:      snap.Log[i].Text,
				CreatedAt: snap.Log[i].At,
			})
		}
		if err := r.repo.AppendLog(dbc, entries); err != nil {
			r.log.Error("Append run log failed", "run_id", snap.ID, "error", err)
			return
		}
	}

	r.mu.Lock()
	if snap.Done {
		delete(r.persisted, snap.ID)
	} else {
		r.persisted[snap.ID] = len(snap.Log)
	}
	r.mu.Unlock()
}

// Load rebuilds a snapshot from storage. Unknown ids are ErrNotFound.
func (r *Recorder) Load(ctx context.Context, id string) (types.PipelineRun, error) {
	dbc := dbctx.Context{Ctx: ctx}
	rec, err := r.repo.GetByID(dbc, id)
	if err != nil {
		return types.PipelineRun{}, err
	}
	if rec == nil {
		return types.PipelineRun{}, fmt.Errorf("%w: run %s", apperr.ErrNotFound, id)
	}
	entries, err := r.repo.ListLog(dbc, id)
	if err != nil {
		return types.PipelineRun{}, err
	}
	return FromRecord(rec, entries)
}

// Recent returns up to limit stored runs, newest first, without their logs.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]types.PipelineRun, error) {
	recs, err := r.repo.ListRecent(dbctx.Context{Ctx: ctx}, limit)
	if err != nil {
		return nil, err
	}
	out := make([]types.PipelineRun, 0, len(recs))
	for _, rec := range recs {
		run, err := FromRecord(rec, nil)
		if err != nil {
			r.log.Warn("Skipping undecodable run record", "run_id", rec.ID, "error", err)
			continue
		}
		out = append(out, run)
	}
	return out, nil
}

func ToRecord(snap types.PipelineRun) (*types.RunRecord, error) {
	arts, err := json.Marshal(snap.Artifacts)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &types.RunRecord{
		ID:          snap.ID,
		Stage:       string(snap.Stage),
		StageIndex:  snap.StageIndex,
		Message:     snap.Message,
		Done:        snap.Done,
		Succeeded:   snap.Succeeded,
		FailedStage: string(snap.FailedStage),
		Error:       snap.Error,
		ModelName:   snap.ModelName,
		AudioPath:   snap.AudioPath,
		FinalVideo:  snap.Artifacts.FinalVideo,
		Artifacts:   datatypes.JSON(arts),
		StartedAt:   snap.StartedAt,
		FinishedAt:  snap.FinishedAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func FromRecord(rec *types.RunRecord, entries []*types.RunLogEntry) (types.PipelineRun, error) {
	run := types.PipelineRun{
		ID:          rec.ID,
		Stage:       types.Stage(rec.Stage),
		StageIndex:  rec.StageIndex,
		Message:     rec.Message,
		Done:        rec.Done,
		Succeeded:   rec.Succeeded,
		FailedStage: types.Stage(rec.FailedStage),
		Error:       rec.Error,
		ModelName:   rec.ModelName,
		AudioPath:   rec.AudioPath,
		StartedAt:   rec.StartedAt,
		FinishedAt:  rec.FinishedAt,
		Log:         make([]types.LogEntry, 0, len(entries)),
	}
	if len(rec.Artifacts) > 0 {
		if err := json.Unmarshal(rec.Artifacts, &run.Artifacts); err != nil {
			return types.PipelineRun{}, fmt.Errorf("decode artifacts: %w", err)
		}
	}
	for _, e := range entries {
		run.Log = append(run.Log, types.LogEntry{At: e.CreatedAt, Text: e.Text})
	}
	return run, nil
}
