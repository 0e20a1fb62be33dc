package gcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"

	apperr "github.com/yungbote/chorusreel-backend/internal/pkg/errors"
	"github.com/yungbote/chorusreel-backend/internal/platform/ctxutil"
	"github.com/yungbote/chorusreel-backend/internal/platform/logger"
)

// AudioTranscoder converts arbitrary audio into 16 kHz mono LINEAR16 wav.
type AudioTranscoder interface {
	ToSpeechWAV(ctx context.Context, in, out string) error
}

type SpeechConfig struct {
	LanguageCode string
	Model        string
	SampleRate   int
}

// Speech transcribes lyrics with Cloud Speech-to-Text long running recognition.
type Speech struct {
	log        *logger.Logger
	client     *speech.Client
	transcoder AudioTranscoder
	cfg        SpeechConfig
	maxRetries int
}

func NewSpeech(ctx context.Context, log *logger.Logger, transcoder AudioTranscoder, cfg SpeechConfig) (*Speech, error) {
	if log == nil {
		log = logger.Nop()
	}
	if transcoder == nil {
		return nil, fmt.Errorf("speech: transcoder required")
	}
	c, err := speech.NewClient(ctxutil.Default(ctx), ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "en-US"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &Speech{
		log:        log.With("service", "gcp.Speech"),
		client:     c,
		transcoder: transcoder,
		cfg:        cfg,
		maxRetries: 4,
	}, nil
}

func (s *Speech) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Speech) Transcribe(ctx context.Context, audioPath string) (string, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 15*time.Minute)
	defer cancel()

	tmpDir, err := os.MkdirTemp("", "chorusreel-speech-*")
	if err != nil {
		return "", fmt.Errorf("speech temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	wav := filepath.Join(tmpDir, "speech.wav")
	if err := s.transcoder.ToSpeechWAV(ctx, audioPath, wav); err != nil {
		return "", apperr.Wrap(apperr.ErrInput, fmt.Errorf("prepare audio for speech: %w", err))
	}
	audio, err := os.ReadFile(wav)
	if err != nil {
		return "", fmt.Errorf("read speech wav: %w", err)
	}

	req := &speechpb.LongRunningRecognizeRequest{
		Config: buildRecognitionConfig(s.cfg),
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: audio}},
	}
	resp, err := retryGRPC(ctx, s.log, "LongRunningRecognize", s.maxRetries, func() (*speechpb.LongRunningRecognizeResponse, error) {
		op, err := s.client.LongRunningRecognize(ctx, req)
		if err != nil {
			return nil, err
		}
		return op.Wait(ctx)
	})
	if err != nil {
		return "", apperr.Wrap(apperr.ErrCollaborator, fmt.Errorf("speech longrunningrecognize: %w", err))
	}
	text := transcriptText(resp)
	s.log.Debug("Speech transcription finished", "chars", len(text))
	return text, nil
}

func buildRecognitionConfig(cfg SpeechConfig) *speechpb.RecognitionConfig {
	return &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:            int32(cfg.SampleRate),
		AudioChannelCount:          1,
		LanguageCode:               cfg.LanguageCode,
		Model:                      cfg.Model,
		EnableAutomaticPunctuation: true,
	}
}

// transcriptText joins the top alternative of every result.
func transcriptText(resp *speechpb.LongRunningRecognizeResponse) string {
	if resp == nil {
		return ""
	}
	parts := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		if t := strings.TrimSpace(r.Alternatives[0].Transcript); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
