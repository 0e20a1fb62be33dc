package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	apperr "github.com/yungbote/chorusreel-backend/internal/pkg/errors"
	"github.com/yungbote/chorusreel-backend/internal/pkg/httpx"
	"github.com/yungbote/chorusreel-backend/internal/platform/ctxutil"
	"github.com/yungbote/chorusreel-backend/internal/platform/logger"
)

const (
	// ChorusClipSeconds is the clip length requested from the detector.
	ChorusClipSeconds = 16
	// ChorusSpanSeconds is the span assumed when the detector reports only a start.
	ChorusSpanSeconds = 8

	DefaultMoodThreshold = 0.5
	DefaultLyricModel    = "27labels"
)

type Config struct {
	BaseURL       string
	Timeout       time.Duration
	MaxRetries    int
	MoodThreshold float64
	LyricModel    string
}

// Client calls the audio analysis sidecar that hosts the chorus detector and the emotion models.
type Client struct {
	log        *logger.Logger
	baseURL    string
	threshold  float64
	lyricModel string
	httpClient *http.Client
	retry      httpx.Retrier
}

func NewClient(log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		log = logger.Nop()
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, apperr.Wrap(apperr.ErrInput, errors.New("missing analysis base url"))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.MoodThreshold <= 0 {
		cfg.MoodThreshold = DefaultMoodThreshold
	}
	if strings.TrimSpace(cfg.LyricModel) == "" {
		cfg.LyricModel = DefaultLyricModel
	}
	slog := log.With("service", "AnalysisClient", "base_url", baseURL)
	return &Client{
		log:        slog,
		baseURL:    baseURL,
		threshold:  cfg.MoodThreshold,
		lyricModel: cfg.LyricModel,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      httpx.Retrier{Service: "analysis", Log: slog, MaxRetries: cfg.MaxRetries},
	}, nil
}

// ChorusResult is where the detector found the chorus. End is nil when the detector only reports a start.
type ChorusResult struct {
	Start float64  `json:"start"`
	End   *float64 `json:"end,omitempty"`
}

// Span resolves the chorus bounds, assuming ChorusSpanSeconds when no end was reported.
func (r ChorusResult) Span() (float64, float64) {
	if r.End != nil && *r.End > r.Start {
		return r.Start, *r.End
	}
	return r.Start, r.Start + ChorusSpanSeconds
}

// DetectChorus uploads the track and asks for a ChorusClipSeconds long chorus.
func (c *Client) DetectChorus(ctx context.Context, audioPath string) (ChorusResult, error) {
	var out ChorusResult
	fields := map[string]string{"clip_length": strconv.Itoa(ChorusClipSeconds)}
	if err := c.postFile(ctx, "/chorus", audioPath, fields, &out); err != nil {
		return ChorusResult{}, fmt.Errorf("detect chorus: %w", err)
	}
	if out.Start < 0 {
		return ChorusResult{}, apperr.Wrap(apperr.ErrCollaborator, fmt.Errorf("detect chorus: negative start %.2f", out.Start))
	}
	return out, nil
}

type moodTagDTO struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type audioEmotionDTO struct {
	Tags    []moodTagDTO `json:"tags"`
	Valence *float64     `json:"valence"`
	Arousal *float64     `json:"arousal"`
	RawText string       `json:"raw_text"`
}

type lyricEmotionDTO struct {
	Label      string             `json:"label"`
	Confidence float64            `json:"confidence"`
	AllScores  map[string]float64 `json:"all_scores"`
	ModelUsed  string             `json:"model_used"`
}

func (c *Client) postFile(ctx context.Context, path, filePath string, fields map[string]string, out any) error {
	ctx = ctxutil.Default(ctx)
	data, err := os.ReadFile(filePath)
	if err != nil {
		return apperr.Wrap(apperr.ErrInput, fmt.Errorf("read %s: %w", filepath.Base(filePath), err))
	}
	body, contentType, err := multipartBody(filepath.Base(filePath), data, fields)
	if err != nil {
		return err
	}
	return c.do(ctx, path, contentType, body, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	ctx = ctxutil.Default(ctx)
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.do(ctx, path, "application/json", body, out)
}

func (c *Client) do(ctx context.Context, path, contentType string, body []byte, out any) error {
	start := time.Now()
	raw, err := c.retry.Do(ctx, c.httpClient, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return apperr.Wrap(apperr.ErrCollaborator, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.Wrap(apperr.ErrCollaborator, fmt.Errorf("decode %s response: %w", path, err))
	}
	c.log.Debug("Analysis call finished", "path", path, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func multipartBody(filename string, data []byte, fields map[string]string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(fw, bytes.NewReader(data)); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
