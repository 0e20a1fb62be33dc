package pipeline

import (
	"context"

	types "github.com/yungbote/chorusreel-backend/internal/domain"
)

// Transcriber turns the source track into lyric text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// ChorusExtractor locates the chorus of audioPath and writes it as a clip to clipPath.
type ChorusExtractor interface {
	ExtractChorus(ctx context.Context, audioPath, clipPath string) (types.ChorusSpan, error)
}

type AudioEmotionAnalyzer interface {
	AnalyzeAudio(ctx context.Context, clipPath string) (types.AudioEmotion, error)
}

type LyricEmotionAnalyzer interface {
	AnalyzeLyrics(ctx context.Context, lyrics string) (types.LyricEmotion, error)
}

// PromptInput is everything the prompt backend sees about the track.
type PromptInput struct {
	Lyrics       string
	AudioEmotion types.AudioEmotion
	LyricEmotion types.LyricEmotion
}

// PromptGenerator returns ordered prompts, one per video segment. Unknown models are an input error.
type PromptGenerator interface {
	GeneratePrompts(ctx context.Context, model string, in PromptInput) ([]string, error)
}

// ArtifactFetcher copies a remote object to a local path.
type ArtifactFetcher interface {
	FetchToFile(ctx context.Context, uri, dest string) error
}

// Merger stitches clips in order under the given audio track.
type Merger interface {
	Merge(ctx context.Context, videoPaths []string, audioPath, outputDir string) (string, error)
}
