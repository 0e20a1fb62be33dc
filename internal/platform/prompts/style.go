package prompts

import (
	"fmt"
	"strings"

	types "github.com/yungbote/chorusreel-backend/internal/domain"
)

const marker = "CHORUSREEL_STORYBOARD_V1"

// systemPrompt is the fixed guidance sent ahead of every storyboard request.
func systemPrompt(character string) string {
	var b strings.Builder
	b.WriteString(marker)
	b.WriteString("\nYou write storyboards for short AI-generated music videos.")
	b.WriteString("\nThe main character is " + character + ".")
	b.WriteString("\nOutput only the storyboard text.")
	b.WriteString("\nNo dialogue or text overlays.")
	return b.String()
}

func lyricMood(em types.LyricEmotion) string {
	if label := strings.TrimSpace(em.Label); label != "" {
		return label
	}
	return "emotionally expressive"
}

// audioMood renders the audio emotion as a short phrase: top tags, then valence and arousal.
func audioMood(em types.AudioEmotion) string {
	parts := make([]string, 0, len(em.Tags)+2)
	for i, t := range em.Tags {
		if i == 5 {
			break
		}
		parts = append(parts, fmt.Sprintf("%s (%.2f)", t.Label, t.Score))
	}
	if em.Valence != nil {
		parts = append(parts, fmt.Sprintf("valence %.2f", *em.Valence))
	}
	if em.Arousal != nil {
		parts = append(parts, fmt.Sprintf("arousal %.2f", *em.Arousal))
	}
	if len(parts) == 0 {
		if raw := strings.TrimSpace(em.RawText); raw != "" {
			return raw
		}
		return "unknown"
	}
	return strings.Join(parts, ", ")
}

func openingPrompt(seconds int, lyrics, lyricEmotion, audioEmotion, character string) string {
	return fmt.Sprintf("Generate a prompt for a %d-second cinematic video using the following inputs:\n\n"+
		"Lyrics: '%s'\n"+
		"Emotion from lyrics: '%s'\n"+
		"Emotion from audio: '%s'\n\n"+
		"Make the prompt detailed and structure-aware: break it down by second or beat. "+
		"Include expressive visuals, cinematic camera movements, and dynamic actions of the main character, "+
		"who is %s. Emphasize active scenes and forward narrative motion. "+
		"End the prompt with a clear note on tone and visual style (e.g. Pixar, 3D, painterly).",
		seconds, lyrics, lyricEmotion, audioEmotion, character)
}

func continuationPrompt(part, total, seconds int, previous, lyrics, lyricEmotion, audioEmotion, character string) string {
	return fmt.Sprintf("Continue the storyboard to create Part %d (next %d seconds) of a cinematic %d-second sequence.\n\n"+
		"--- PART %d ---\n%s\n\n"+
		"Now write Part %d using the same character, %s, continuing the emotional tone of '%s' "+
		"and the audio mood '%s'.\n\n"+
		"The lyrics playing are: '%s'.\n\n"+
		"Break the sequence into clear 2-second cinematic beats. Include dynamic character actions, expressive visuals, creative transitions, and impactful camera movements. "+
		"Maintain continuity with Part %d while deepening the narrative emotion. End with a strong or surprising moment that makes viewers want to see more. "+
		"Keep the tone visually stylized and active. No dialogue or text overlays.",
		part, seconds, total*seconds, part-1, previous, part, character, lyricEmotion, audioEmotion, lyrics, part-1)
}
