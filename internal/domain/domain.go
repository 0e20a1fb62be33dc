package domain

import (
	"github.com/yungbote/chorusreel-backend/internal/domain/jobs"
	"github.com/yungbote/chorusreel-backend/internal/domain/pipeline"
)

type (
	Stage        = pipeline.Stage
	PipelineRun  = pipeline.PipelineRun
	Artifacts    = pipeline.Artifacts
	LogEntry     = pipeline.LogEntry
	ChorusSpan   = pipeline.ChorusSpan
	MoodTag      = pipeline.MoodTag
	AudioEmotion = pipeline.AudioEmotion
	LyricEmotion = pipeline.LyricEmotion

	ExternalJob      = jobs.ExternalJob
	ExternalJobState = jobs.ExternalJobState
	RunRecord        = jobs.RunRecord
	RunLogEntry      = jobs.RunLogEntry
)

const (
	StageIdle                  = pipeline.StageIdle
	StageTranscribing          = pipeline.StageTranscribing
	StageExtractingChorus      = pipeline.StageExtractingChorus
	StageAnalyzingAudioEmotion = pipeline.StageAnalyzingAudioEmotion
	StageAnalyzingLyricEmotion = pipeline.StageAnalyzingLyricEmotion
	StageGeneratingPrompts     = pipeline.StageGeneratingPrompts
	StageGeneratingVideo       = pipeline.StageGeneratingVideo
	StageRetrievingArtifact    = pipeline.StageRetrievingArtifact
	StageStitching             = pipeline.StageStitching
	StageDone                  = pipeline.StageDone
	StageFailed                = pipeline.StageFailed

	ExternalJobSubmitted = jobs.ExternalJobSubmitted
	ExternalJobPolling   = jobs.ExternalJobPolling
	ExternalJobSucceeded = jobs.ExternalJobSucceeded
	ExternalJobFailed    = jobs.ExternalJobFailed
	ExternalJobTimedOut  = jobs.ExternalJobTimedOut
)
