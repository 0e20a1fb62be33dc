package analysis

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	types "github.com/yungbote/chorusreel-backend/internal/domain"
	apperr "github.com/yungbote/chorusreel-backend/internal/pkg/errors"
	"github.com/yungbote/chorusreel-backend/internal/pkg/pointers"
)

// AnalyzeAudio scores the mood of a clip. Structured fields win; otherwise the model's text report is parsed.
func (c *Client) AnalyzeAudio(ctx context.Context, clipPath string) (types.AudioEmotion, error) {
	var dto audioEmotionDTO
	fields := map[string]string{"threshold": strconv.FormatFloat(c.threshold, 'f', -1, 64)}
	if err := c.postFile(ctx, "/emotion/audio", clipPath, fields, &dto); err != nil {
		return types.AudioEmotion{}, fmt.Errorf("audio emotion: %w", err)
	}
	out := types.AudioEmotion{Valence: dto.Valence, Arousal: dto.Arousal, RawText: strings.TrimSpace(dto.RawText)}
	for _, t := range dto.Tags {
		if label := strings.TrimSpace(t.Label); label != "" {
			out.Tags = append(out.Tags, types.MoodTag{Label: label, Score: t.Score})
		}
	}
	if len(out.Tags) == 0 && out.Valence == nil && out.Arousal == nil {
		if out.RawText == "" {
			return types.AudioEmotion{}, apperr.Wrap(apperr.ErrCollaborator, errors.New("audio emotion: empty result"))
		}
		parsed := ParseMoodReport(out.RawText)
		parsed.RawText = out.RawText
		return parsed, nil
	}
	return out, nil
}

var (
	moodLineRe = regexp.MustCompile(`(?s)Predicted Mood Tags:\s*(.+?)(?:💖|\n\s*\n|Valence:|$)`)
	moodTagRe  = regexp.MustCompile(`([\w\- ]+)\s*\(([\d.]+)\)`)
	valenceRe  = regexp.MustCompile(`Valence:\s*([\d.]+)`)
	arousalRe  = regexp.MustCompile(`Arousal:\s*([\d.]+)`)
)

// ParseMoodReport reads the mood tagger's free-text report:
//
//	Predicted Mood Tags: christmas (0.97), holiday (0.94), 💖 Valence: 4.05 Arousal: 2.79
func ParseMoodReport(text string) types.AudioEmotion {
	var out types.AudioEmotion
	if m := moodLineRe.FindStringSubmatch(text); m != nil {
		tags := strings.TrimRight(strings.TrimSpace(m[1]), ",")
		for _, tm := range moodTagRe.FindAllStringSubmatch(tags, -1) {
			score, err := strconv.ParseFloat(tm[2], 64)
			if err != nil {
				continue
			}
			out.Tags = append(out.Tags, types.MoodTag{Label: strings.TrimSpace(tm[1]), Score: score})
		}
	}
	if m := valenceRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			out.Valence = pointers.Float64(v)
		}
	}
	if m := arousalRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			out.Arousal = pointers.Float64(v)
		}
	}
	return out
}

// AnalyzeLyrics classifies the dominant emotion of the lyric text.
func (c *Client) AnalyzeLyrics(ctx context.Context, lyrics string) (types.LyricEmotion, error) {
	lyrics = strings.TrimSpace(lyrics)
	if lyrics == "" {
		return types.LyricEmotion{}, apperr.Wrap(apperr.ErrInput, errors.New("lyric emotion: empty lyrics"))
	}
	var dto lyricEmotionDTO
	req := map[string]string{"text": lyrics, "model": c.lyricModel}
	if err := c.postJSON(ctx, "/emotion/lyrics", req, &dto); err != nil {
		return types.LyricEmotion{}, fmt.Errorf("lyric emotion: %w", err)
	}
	if strings.TrimSpace(dto.Label) == "" {
		return types.LyricEmotion{}, apperr.Wrap(apperr.ErrCollaborator, errors.New("lyric emotion: no label"))
	}
	model := dto.ModelUsed
	if model == "" {
		model = c.lyricModel
	}
	return types.LyricEmotion{
		Label:      strings.TrimSpace(dto.Label),
		Confidence: dto.Confidence,
		Scores:     dto.AllScores,
		ModelUsed:  model,
	}, nil
}
