package prompts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/yungbote/chorusreel-backend/internal/jobs/pipeline"
	apperr "github.com/yungbote/chorusreel-backend/internal/pkg/errors"
	"github.com/yungbote/chorusreel-backend/internal/platform/logger"
	"github.com/yungbote/chorusreel-backend/internal/platform/openai"
)

// ChatClient is the slice of the chat completions client the generator needs.
type ChatClient interface {
	Chat(ctx context.Context, req openai.ChatRequest) (string, error)
}

type ClientFactory func(spec ModelSpec, apiKey string) (ChatClient, error)

// Generator writes a multi-part storyboard where every part continues the previous one.
type Generator struct {
	log       *logger.Logger
	catalog   Catalog
	lookupEnv func(string) string
	newClient ClientFactory

	mu      sync.Mutex
	clients map[string]ChatClient
}

type Option func(*Generator)

func WithEnv(lookup func(string) string) Option {
	return func(g *Generator) {
		if lookup != nil {
			g.lookupEnv = lookup
		}
	}
}

func WithClientFactory(f ClientFactory) Option {
	return func(g *Generator) {
		if f != nil {
			g.newClient = f
		}
	}
}

func NewGenerator(log *logger.Logger, catalog Catalog, opts ...Option) *Generator {
	if log == nil {
		log = logger.Nop()
	}
	g := &Generator{
		log:       log.With("service", "PromptGenerator"),
		catalog:   catalog,
		lookupEnv: os.Getenv,
		clients:   map[string]ChatClient{},
	}
	g.newClient = func(spec ModelSpec, apiKey string) (ChatClient, error) {
		return openai.NewClient(g.log, openai.Config{APIKey: apiKey, BaseURL: spec.BaseURL, MaxRetries: 2})
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

var _ pipeline.PromptGenerator = (*Generator)(nil)

func (g *Generator) GeneratePrompts(ctx context.Context, model string, in pipeline.PromptInput) ([]string, error) {
	spec, err := g.catalog.Lookup(model)
	if err != nil {
		return nil, err
	}
	client, err := g.client(spec)
	if err != nil {
		return nil, err
	}

	character := g.catalog.Character
	seconds := g.catalog.SegmentSeconds
	total := g.catalog.Segments
	lyrics := strings.TrimSpace(in.Lyrics)
	lyricEm := lyricMood(in.LyricEmotion)
	audioEm := audioMood(in.AudioEmotion)

	parts := make([]string, 0, total)
	for part := 1; part <= total; part++ {
		var user string
		if part == 1 {
			user = openingPrompt(seconds, lyrics, lyricEm, audioEm, character)
		} else {
			user = continuationPrompt(part, total, seconds, parts[part-2], lyrics, lyricEm, audioEm, character)
		}
		text, err := client.Chat(ctx, openai.ChatRequest{
			Model: spec.Model,
			Messages: []openai.ChatMessage{
				{Role: "system", Content: systemPrompt(character)},
				{Role: "user", Content: user},
			},
			Temperature: spec.Temperature,
		})
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrCollaborator, fmt.Errorf("generate part %d: %w", part, err))
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, apperr.Wrap(apperr.ErrCollaborator, fmt.Errorf("generate part %d: empty response", part))
		}
		parts = append(parts, text)
	}
	g.log.Info("Storyboard generated", "model", spec.Name, "parts", len(parts))
	return parts, nil
}

func (g *Generator) client(spec ModelSpec) (ChatClient, error) {
	key := strings.TrimSpace(g.lookupEnv(spec.APIKeyEnv))
	if key == "" {
		return nil, apperr.Wrap(apperr.ErrInput, fmt.Errorf("missing API key: set %s", spec.APIKeyEnv))
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.clients[spec.Name]; ok {
		return c, nil
	}
	c, err := g.newClient(spec, key)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errors.New("prompt client factory returned nil")
	}
	g.clients[spec.Name] = c
	return c, nil
}
