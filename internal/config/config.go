package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Model       string        `yaml:"model"`
	Instruction string        `yaml:"instruction"`
	Engine      string        `yaml:"engine"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxTokens   int           `yaml:"max_tokens"`
	Reasoning   string        `yaml:"reasoning"`
	Usage       bool          `yaml:"usage_accounting"`
	Fixtures    Fixtures      `yaml:"fixtures"`
	CacheProbe  CacheProbe    `yaml:"cache_probe"`
	Attribution Attribution   `yaml:"attribution"`
	Pricing     string        `yaml:"pricing"`
	Secrets     Secrets       `yaml:"secrets"`
	Results     Results       `yaml:"results"`
}

type Fixtures struct {
	Dir     string   `yaml:"dir"`
	Classes []string `yaml:"classes"`
}

type CacheProbe struct {
	Model       string        `yaml:"model"`
	Delay       time.Duration `yaml:"delay"`
	Instruction string        `yaml:"instruction"`
	// PrefixFile holds the long, stable context that should be cached.
	PrefixFile string `yaml:"prefix_file"`
}

type Attribution struct {
	Referer string `yaml:"referer"`
	Title   string `yaml:"title"`
}

type Secrets struct {
	EnvFile string `yaml:"env_file"`
}

type Results struct {
	Dir string `yaml:"dir"`
}

var (
	classPattern = regexp.MustCompile(`^[a-z][a-z0-9]*$`)
	validEngines = map[string]bool{"": true, "pdf-text": true, "mistral-ocr": true, "native": true}
)

// ValidEngine reports whether e names a supported file-parser engine. The
// empty string leaves the choice to the server.
func ValidEngine(e string) bool {
	return validEngines[e]
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	cfg := &Config{}
	if err := validate(cfg); err != nil {
		panic(err)
	}
	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Model == "" {
		cfg.Model = "anthropic/claude-sonnet-4"
	}
	if !validEngines[cfg.Engine] {
		return fmt.Errorf("engine %q: must be pdf-text, mistral-ocr or native", cfg.Engine)
	}
	if cfg.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative")
	}
	if cfg.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.Fixtures.Dir == "" {
		cfg.Fixtures.Dir = "fixtures"
	}
	if len(cfg.Fixtures.Classes) == 0 {
		cfg.Fixtures.Classes = []string{"small", "medium", "large", "xlarge"}
	}
	seen := make(map[string]bool)
	for i, c := range cfg.Fixtures.Classes {
		if !classPattern.MatchString(c) {
			return fmt.Errorf("fixtures.classes[%d]: invalid size class %q", i, c)
		}
		if seen[c] {
			return fmt.Errorf("fixtures.classes[%d]: duplicate size class %q", i, c)
		}
		seen[c] = true
	}
	if cfg.CacheProbe.Model == "" {
		cfg.CacheProbe.Model = cfg.Model
	}
	if cfg.CacheProbe.Delay < 0 {
		return fmt.Errorf("cache_probe.delay must not be negative")
	}
	if cfg.CacheProbe.Delay == 0 {
		cfg.CacheProbe.Delay = time.Second
	}
	if cfg.Attribution.Title == "" {
		cfg.Attribution.Title = "docprobe"
	}
	if cfg.Results.Dir == "" {
		cfg.Results.Dir = "results"
	}
	return nil
}
