package pipeline

// Stage is the run status enum observers poll.
type Stage string

const (
	StageIdle                  Stage = "idle"
	StageTranscribing          Stage = "transcribing"
	StageExtractingChorus      Stage = "extracting_chorus"
	StageAnalyzingAudioEmotion Stage = "analyzing_audio_emotion"
	StageAnalyzingLyricEmotion Stage = "analyzing_lyric_emotion"
	StageGeneratingPrompts     Stage = "generating_prompts"
	StageGeneratingVideo       Stage = "generating_video"
	StageRetrievingArtifact    Stage = "retrieving_artifact"
	StageStitching             Stage = "stitching"
	StageDone                  Stage = "done"
	StageFailed                Stage = "failed"
)

// Ordinal gives the position of a stage in the fixed sequence. Failed and unknown stages return -1.
func (s Stage) Ordinal() int {
	switch s {
	case StageIdle:
		return 0
	case StageTranscribing:
		return 1
	case StageExtractingChorus:
		return 2
	case StageAnalyzingAudioEmotion:
		return 3
	case StageAnalyzingLyricEmotion:
		return 4
	case StageGeneratingPrompts:
		return 5
	case StageGeneratingVideo:
		return 6
	case StageRetrievingArtifact:
		return 7
	case StageStitching:
		return 8
	case StageDone:
		return 9
	default:
		return -1
	}
}

func (s Stage) IsTerminal() bool {
	return s == StageDone || s == StageFailed
}

// Indexed reports whether the stage carries a per-video index.
func (s Stage) Indexed() bool {
	return s == StageGeneratingVideo || s == StageRetrievingArtifact
}
