package pricing

import (
	"fmt"
	"os"
	"strings"

	"github.com/signalnine/docprobe/internal/remote"
	"gopkg.in/yaml.v3"
)

type ModelPricing struct {
	Input       float64 `yaml:"input"`
	Output      float64 `yaml:"output"`
	CachedInput float64 `yaml:"cached_input"`
}

type Table struct {
	Providers map[string]map[string]ModelPricing
}

func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pricing file: %w", err)
	}
	var providers map[string]map[string]ModelPricing
	if err := yaml.Unmarshal(data, &providers); err != nil {
		return nil, fmt.Errorf("parsing pricing file: %w", err)
	}
	return &Table{Providers: providers}, nil
}

// Cost estimates the price of one call for a routed model id such as
// "anthropic/claude-sonnet-4". Prices are per 1K tokens. Cached prompt tokens
// are billed at CachedInput when it is set. The bool is false when the model
// is not in the table.
func (t *Table) Cost(model string, u remote.Usage) (float64, bool) {
	if t == nil || t.Providers == nil {
		return 0, false
	}
	provider, name, ok := strings.Cut(model, "/")
	if !ok {
		return 0, false
	}
	models, ok := t.Providers[provider]
	if !ok {
		return 0, false
	}
	p, ok := models[name]
	if !ok {
		return 0, false
	}
	prompt := float64(u.PromptTokens)
	var cached float64
	if p.CachedInput > 0 && u.CachedTokens > 0 {
		cached = float64(u.CachedTokens)
		prompt -= cached
	}
	return (prompt/1000.0)*p.Input + (cached/1000.0)*p.CachedInput + (float64(u.CompletionTokens)/1000.0)*p.Output, true
}
