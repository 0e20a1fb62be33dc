package openai

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
	"strings"
	"time"

	apperr "github.com/yungbote/chorusreel-backend/internal/pkg/errors"
	"github.com/yungbote/chorusreel-backend/internal/pkg/httpx"
	"github.com/yungbote/chorusreel-backend/internal/platform/ctxutil"
	"github.com/yungbote/chorusreel-backend/internal/platform/logger"
)

const (
	DefaultBaseURL         = "https://api.openai.com/v1"
	DefaultTranscribeModel = "whisper-1"
)

type Config struct {
	APIKey string
	// BaseURL includes the API version, e.g. https://api.openai.com/v1 or
	// https://generativelanguage.googleapis.com/v1beta/openai for OpenAI-compatible backends.
	BaseURL         string
	TranscribeModel string
	Timeout         time.Duration
	MaxRetries      int
}

// Client talks to OpenAI or any OpenAI-compatible chat completions endpoint.
type Client struct {
	log             *logger.Logger
	baseURL         string
	apiKey          string
	transcribeModel string
	httpClient      *http.Client
	retry           httpx.Retrier
}

func NewClient(log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		log = logger.Nop()
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, apperr.Wrap(apperr.ErrInput, errors.New("missing api key"))
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = DefaultTranscribeModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 180 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	slog := log.With("service", "OpenAIClient", "base_url", baseURL)
	return &Client{
		log:             slog,
		baseURL:         baseURL,
		apiKey:          apiKey,
		transcribeModel: cfg.TranscribeModel,
		httpClient:      &http.Client{Timeout: cfg.Timeout},
		retry:           httpx.Retrier{Service: "openai", Log: slog, MaxRetries: cfg.MaxRetries},
	}, nil
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Chat returns the first choice's content. A model that rejects temperature is retried once without it.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (string, error) {
	ctx = ctxutil.Default(ctx)
	out, err := c.chatOnce(ctx, req)
	if err != nil && req.Temperature != nil && isUnsupportedTemperatureParam(err) {
		c.log.Warn("Model rejected temperature; retrying without it", "model", req.Model)
		req.Temperature = nil
		out, err = c.chatOnce(ctx, req)
	}
	if err != nil {
		return "", apperr.Wrap(apperr.ErrCollaborator, fmt.Errorf("chat completion (%s): %w", req.Model, err))
	}
	return out, nil
}

func (c *Client) chatOnce(ctx context.Context, req ChatRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	start := time.Now()
	raw, err := c.retry.Do(ctx, c.httpClient, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Authorization", "Bearer "+c.apiKey)
		r.Header.Set("Content-Type", "application/json")
		return r, nil
	})
	if err != nil {
		return "", err
	}
	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat response has no choices")
	}
	c.log.Debug("Chat completion finished",
		"model", req.Model,
		"duration_ms", time.Since(start).Milliseconds(),
		"input_tokens", resp.Usage.PromptTokens,
		"output_tokens", resp.Usage.CompletionTokens,
	)
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads audioPath to the audio transcription endpoint and returns the text.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (string, error) {
	ctx = ctxutil.Default(ctx)
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrInput, fmt.Errorf("read audio: %w", err))
	}
	payload, contentType, err := transcriptionForm(c.transcribeModel, filepath.Base(audioPath), audio)
	if err != nil {
		return "", err
	}
	raw, err := c.retry.Do(ctx, c.httpClient, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Authorization", "Bearer "+c.apiKey)
		r.Header.Set("Content-Type", contentType)
		return r, nil
	})
	if err != nil {
		return "", apperr.Wrap(apperr.ErrCollaborator, fmt.Errorf("transcription (%s): %w", c.transcribeModel, err))
	}
	var resp transcriptionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", apperr.Wrap(apperr.ErrCollaborator, fmt.Errorf("decode transcription: %w", err))
	}
	return strings.TrimSpace(resp.Text), nil
}

func transcriptionForm(model, filename string, audio []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("model", model); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("response_format", "json"); err != nil {
		return nil, "", err
	}
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(fw, bytes.NewReader(audio)); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func isUnsupportedTemperatureParam(err error) bool {
	var se *httpx.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest {
		return false
	}
	msg := strings.ToLower(se.Body)
	if !strings.Contains(msg, "temperature") {
		return false
	}
	for _, hint := range []string{"unsupported parameter", "unknown parameter", "unrecognized parameter", "not supported", "does not support", "only the default", "unsupported_value"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
