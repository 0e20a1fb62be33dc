package jobs

import (
	"time"

	"gorm.io/datatypes"
)

// RunRecord is the persisted row for one pipeline run.
type RunRecord struct {
	ID          string         `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	Stage       string         `gorm:"column:stage;not null;index" json:"stage"`
	StageIndex  int            `gorm:"column:stage_index;not null;default:0" json:"stage_index"`
	Message     string         `gorm:"column:message;type:text" json:"message"`
	Done        bool           `gorm:"column:done;not null;default:false;index" json:"done"`
	Succeeded   bool           `gorm:"column:succeeded;not null;default:false" json:"succeeded"`
	FailedStage string         `gorm:"column:failed_stage" json:"failed_stage,omitempty"`
	Error       string         `gorm:"column:error;type:text" json:"error,omitempty"`
	ModelName   string         `gorm:"column:model_name" json:"model_name"`
	AudioPath   string         `gorm:"column:audio_path;type:text" json:"audio_path"`
	FinalVideo  string         `gorm:"column:final_video;type:text" json:"final_video,omitempty"`
	Artifacts   datatypes.JSON `gorm:"column:artifacts" json:"artifacts"`
	StartedAt   time.Time      `gorm:"column:started_at;not null;index" json:"started_at"`
	FinishedAt  *time.Time     `gorm:"column:finished_at" json:"finished_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

func (RunRecord) TableName() string { return "pipeline_run" }

// RunLogEntry is the append-only status timeline of a run; Seq preserves insertion order.
type RunLogEntry struct {
	RunID     string    `gorm:"column:run_id;type:varchar(36);primaryKey" json:"run_id"`
	Seq       int       `gorm:"column:seq;primaryKey;autoIncrement:false" json:"seq"`
	Text      string    `gorm:"column:text;type:text;not null" json:"text"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (RunLogEntry) TableName() string { return "pipeline_run_log" }
