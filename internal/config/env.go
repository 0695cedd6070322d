package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/signalnine/docprobe/internal/remote"
	"github.com/spf13/viper"
)

const (
	APIKeyEnv  = "OPENROUTER_API_KEY"
	BaseURLEnv = "OPENROUTER_BASE_URL"
)

// ErrMissingAPIKey is a configuration error reported before any network call.
var ErrMissingAPIKey = errors.New(APIKeyEnv + " is not set")

// Env holds the settings read from the process environment. It is built
// once at startup and passed to whatever needs it.
type Env struct {
	APIKey  string
	BaseURL string
}

// LoadEnv reads the API key and base URL. A missing key is an error.
func LoadEnv() (*Env, error) {
	v := viper.New()
	v.SetDefault("base_url", remote.DefaultBaseURL)
	if err := v.BindEnv("api_key", APIKeyEnv); err != nil {
		return nil, fmt.Errorf("binding %s: %w", APIKeyEnv, err)
	}
	if err := v.BindEnv("base_url", BaseURLEnv); err != nil {
		return nil, fmt.Errorf("binding %s: %w", BaseURLEnv, err)
	}

	env := &Env{
		APIKey:  strings.TrimSpace(v.GetString("api_key")),
		BaseURL: strings.TrimSpace(v.GetString("base_url")),
	}
	if env.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if env.BaseURL == "" {
		env.BaseURL = remote.DefaultBaseURL
	}
	return env, nil
}

// ApplyEnvFile loads KEY=VALUE pairs from path into the process environment,
// leaving variables that are already set untouched. It returns the keys it set.
func ApplyEnvFile(path string) ([]string, error) {
	vars, err := ParseEnvFile(path)
	if err != nil {
		return nil, err
	}
	var applied []string
	for k, v := range vars {
		if _, ok := os.LookupEnv(k); ok {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return applied, fmt.Errorf("setting %s: %w", k, err)
		}
		applied = append(applied, k)
	}
	return applied, nil
}

// ParseEnvFile reads a dotenv-style file. Blank lines and # comments are
// skipped, an "export " prefix is allowed, and matching quotes are stripped.
func ParseEnvFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading env file %s: %w", path, err)
	}
	vars := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		s := strings.TrimSpace(line)
		if s == "" || s[0] == '#' {
			continue
		}
		s = strings.TrimPrefix(s, "export ")
		key, val, ok := strings.Cut(s, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		vars[key] = stripQuotes(strings.TrimSpace(val))
	}
	return vars, nil
}

func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
