package runs

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/chorusreel-backend/internal/domain"
	"github.com/yungbote/chorusreel-backend/internal/pkg/dbctx"
	"github.com/yungbote/chorusreel-backend/internal/platform/logger"
)

type RunRepo interface {
	Save(dbc dbctx.Context, rec *types.RunRecord) error
	AppendLog(dbc dbctx.Context, entries []*types.RunLogEntry) error
	GetByID(dbc dbctx.Context, id string) (*types.RunRecord, error)
	ListLog(dbc dbctx.Context, runID string) ([]*types.RunLogEntry, error)
	ListRecent(dbc dbctx.Context, limit int) ([]*types.RunRecord, error)
	MarkInterrupted(dbc dbctx.Context, reason string, at time.Time) (int64, error)
}

type runRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRunRepo(db *gorm.DB, baseLog *logger.Logger) RunRepo {
	if baseLog == nil {
		baseLog = logger.Nop()
	}
	return &runRepo{
		db:  db,
		log: baseLog.With("repo", "RunRepo"),
	}
}

// Save inserts rec or overwrites every mutable column of the existing row.
func (r *runRepo) Save(dbc dbctx.Context, rec *types.RunRecord) error {
	if rec == nil || rec.ID == "" {
		return nil
	}
	return dbc.Conn(r.db).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"stage", "stage_index", "message", "done", "succeeded", "failed_stage", "error",
				"final_video", "artifacts", "finished_at", "updated_at",
			}),
		}).
		Create(rec).Error
}

// AppendLog inserts entries; rows already stored under the same (run_id, seq) are kept as is.
func (r *runRepo) AppendLog(dbc dbctx.Context, entries []*types.RunLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return dbc.Conn(r.db).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entries).Error
}

func (r *runRepo) GetByID(dbc dbctx.Context, id string) (*types.RunRecord, error) {
	if id == "" {
		return nil, nil
	}
	var rec types.RunRecord
	err := dbc.Conn(r.db).
		Where("id = ?", id).
		Limit(1).
		Find(&rec).Error
	if err != nil {
		return nil, err
	}
	if rec.ID == "" {
		return nil, nil
	}
	return &rec, nil
}

func (r *runRepo) ListLog(dbc dbctx.Context, runID string) ([]*types.RunLogEntry, error) {
	var out []*types.RunLogEntry
	if runID == "" {
		return out, nil
	}
	if err := dbc.Conn(r.db).
		Where("run_id = ?", runID).
		Order("seq ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *runRepo) ListRecent(dbc dbctx.Context, limit int) ([]*types.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []*types.RunRecord
	if err := dbc.Conn(r.db).
		Order("started_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// MarkInterrupted fails every run a previous process left unfinished.
func (r *runRepo) MarkInterrupted(dbc dbctx.Context, reason string, at time.Time) (int64, error) {
	res := dbc.Conn(r.db).
		Model(&types.RunRecord{}).
		Where("done = ?", false).
		Updates(map[string]interface{}{
			"done":         true,
			"succeeded":    false,
			"failed_stage": gorm.Expr("stage"),
			"stage":        string(types.StageFailed),
			"message":      reason,
			"error":        reason,
			"finished_at":  at,
			"updated_at":   at,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		r.log.Warn("Marked interrupted runs as failed", "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}
