package prompts

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	apperr "github.com/yungbote/chorusreel-backend/internal/pkg/errors"
)

//go:embed models.yaml
var defaultCatalog []byte

type ModelSpec struct {
	Name        string   `yaml:"name"`
	Model       string   `yaml:"model"`
	BaseURL     string   `yaml:"base_url"`
	APIKeyEnv   string   `yaml:"api_key_env"`
	Temperature *float64 `yaml:"temperature"`
}

// Catalog lists the selectable prompt backends and the storyboard shape they are asked for.
type Catalog struct {
	Character      string      `yaml:"character"`
	SegmentSeconds int         `yaml:"segment_seconds"`
	Segments       int         `yaml:"segments"`
	Models         []ModelSpec `yaml:"models"`
}

// DefaultCatalog is the catalog compiled into the binary.
func DefaultCatalog() (Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads path, or returns the default catalog when path is empty.
func LoadCatalog(path string) (Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read prompt catalog: %w", err)
	}
	return ParseCatalog(raw)
}

func ParseCatalog(raw []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse prompt catalog: %w", err)
	}
	if c.SegmentSeconds <= 0 {
		c.SegmentSeconds = 8
	}
	if c.Segments <= 0 {
		c.Segments = 2
	}
	if strings.TrimSpace(c.Character) == "" {
		c.Character = "a human-like capybara"
	}
	if len(c.Models) == 0 {
		return Catalog{}, errors.New("prompt catalog: no models")
	}
	seen := map[string]bool{}
	for i, m := range c.Models {
		key := strings.ToLower(strings.TrimSpace(m.Name))
		switch {
		case key == "":
			return Catalog{}, fmt.Errorf("prompt catalog: model %d has no name", i)
		case strings.TrimSpace(m.Model) == "":
			return Catalog{}, fmt.Errorf("prompt catalog: model %q has no provider model", m.Name)
		case strings.TrimSpace(m.APIKeyEnv) == "":
			return Catalog{}, fmt.Errorf("prompt catalog: model %q has no api_key_env", m.Name)
		case seen[key]:
			return Catalog{}, fmt.Errorf("prompt catalog: duplicate model %q", m.Name)
		}
		seen[key] = true
	}
	return c, nil
}

// Lookup matches names case-insensitively. Unknown names are an input error.
func (c Catalog) Lookup(name string) (ModelSpec, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for _, m := range c.Models {
		if strings.ToLower(strings.TrimSpace(m.Name)) == key {
			return m, nil
		}
	}
	return ModelSpec{}, apperr.Wrap(apperr.ErrInput, fmt.Errorf("unsupported model: %q", name))
}

func (c Catalog) Names() []string {
	out := make([]string, 0, len(c.Models))
	for _, m := range c.Models {
		out = append(out, m.Name)
	}
	return out
}
