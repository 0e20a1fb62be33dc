package analysis

import (
	"context"
	"fmt"

	types "github.com/yungbote/chorusreel-backend/internal/domain"
)

type ClipCutter interface {
	CutClip(ctx context.Context, in, out string, start, end float64) error
}

// ChorusExtractor detects the chorus remotely and cuts the clip locally.
type ChorusExtractor struct {
	client *Client
	cutter ClipCutter
}

func NewChorusExtractor(client *Client, cutter ClipCutter) *ChorusExtractor {
	return &ChorusExtractor{client: client, cutter: cutter}
}

func (e *ChorusExtractor) ExtractChorus(ctx context.Context, audioPath, clipPath string) (types.ChorusSpan, error) {
	res, err := e.client.DetectChorus(ctx, audioPath)
	if err != nil {
		return types.ChorusSpan{}, err
	}
	start, end := res.Span()
	// The clip covers the whole ChorusClipSeconds window even when the reported span is shorter.
	clipEnd := max(end, start+ChorusClipSeconds)
	if err := e.cutter.CutClip(ctx, audioPath, clipPath, start, clipEnd); err != nil {
		return types.ChorusSpan{}, fmt.Errorf("cut chorus clip: %w", err)
	}
	e.client.log.Debug("Chorus clip written", "path", clipPath, "start", start, "end", end, "clip_end", clipEnd)
	return types.ChorusSpan{Path: clipPath, Start: start, End: end}, nil
}
