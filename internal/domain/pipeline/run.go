package pipeline

import "time"

type LogEntry struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

type ChorusSpan struct {
	Path  string  `json:"path"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type MoodTag struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type AudioEmotion struct {
	Tags    []MoodTag `json:"tags"`
	Valence *float64  `json:"valence,omitempty"`
	Arousal *float64  `json:"arousal,omitempty"`
	RawText string    `json:"raw_text,omitempty"`
}

type LyricEmotion struct {
	Label      string             `json:"label"`
	Confidence float64            `json:"confidence"`
	Scores     map[string]float64 `json:"scores,omitempty"`
	ModelUsed  string             `json:"model_used,omitempty"`
}

// Artifacts holds what each stage produced so far. Nil/empty fields were never set.
type Artifacts struct {
	Lyrics       *string       `json:"lyrics,omitempty"`
	Chorus       *ChorusSpan   `json:"chorus,omitempty"`
	AudioEmotion *AudioEmotion `json:"audio_emotion,omitempty"`
	LyricEmotion *LyricEmotion `json:"lyric_emotion,omitempty"`
	Prompts      []string      `json:"prompts,omitempty"`
	Videos       []string      `json:"videos,omitempty"`
	FinalVideo   string        `json:"final_video,omitempty"`
}

// PipelineRun is a read-only snapshot of one run.
type PipelineRun struct {
	ID          string     `json:"id"`
	Stage       Stage      `json:"stage"`
	StageIndex  int        `json:"stage_index,omitempty"`
	Message     string     `json:"message"`
	Done        bool       `json:"done"`
	Succeeded   bool       `json:"succeeded"`
	FailedStage Stage      `json:"failed_stage,omitempty"`
	Error       string     `json:"error,omitempty"`
	Log         []LogEntry `json:"log"`
	Artifacts   Artifacts  `json:"artifacts"`
	ModelName   string     `json:"model_name"`
	AudioPath   string     `json:"audio_path"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Clone returns a deep copy so callers never alias the live run.
func (a Artifacts) Clone() Artifacts {
	out := Artifacts{FinalVideo: a.FinalVideo}
	if a.Lyrics != nil {
		s := *a.Lyrics
		out.Lyrics = &s
	}
	if a.Chorus != nil {
		c := *a.Chorus
		out.Chorus = &c
	}
	if a.AudioEmotion != nil {
		ae := *a.AudioEmotion
		ae.Tags = append([]MoodTag(nil), a.AudioEmotion.Tags...)
		if a.AudioEmotion.Valence != nil {
			v := *a.AudioEmotion.Valence
			ae.Valence = &v
		}
		if a.AudioEmotion.Arousal != nil {
			v := *a.AudioEmotion.Arousal
			ae.Arousal = &v
		}
		out.AudioEmotion = &ae
	}
	if a.LyricEmotion != nil {
		le := *a.LyricEmotion
		if a.LyricEmotion.Scores != nil {
			le.Scores = make(map[string]float64, len(a.LyricEmotion.Scores))
			for k, v := range a.LyricEmotion.Scores {
				le.Scores[k] = v
			}
		}
		out.LyricEmotion = &le
	}
	if a.Prompts != nil {
		out.Prompts = append([]string(nil), a.Prompts...)
	}
	if a.Videos != nil {
		out.Videos = append([]string(nil), a.Videos...)
	}
	return out
}
