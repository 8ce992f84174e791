package settings

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"horse.fit/newsai/internal/config"
	"horse.fit/newsai/internal/provider"
)

type providersFile struct {
	Providers []provider.Config `yaml:"providers"`
}

// Defaults builds the static configuration from the environment and the
// optional NEWS_AI_PROVIDERS_FILE.
func Defaults(cfg *config.Config) (Effective, error) {
	if cfg == nil {
		return Effective{}, fmt.Errorf("config is nil")
	}
	strategy, err := provider.ParseStrategy(cfg.Strategy)
	if err != nil {
		return Effective{}, fmt.Errorf("NEWS_AI_STRATEGY: %w", err)
	}
	format, err := provider.ParseFormatMode(cfg.ResponseFormat)
	if err != nil {
		return Effective{}, fmt.Errorf("NEWS_AI_RESPONSE_FORMAT: %w", err)
	}

	defaults := Effective{
		Enabled:        cfg.Enabled,
		Strategy:       strategy,
		ResponseFormat: format,
		MaxAttempts:    clamp(cfg.MaxAttempts, MinMaxAttempts, MaxMaxAttempts),
		BatchSize:      clamp(cfg.BatchSize, MinBatchSize, MaxBatchSize),
	}

	path := strings.TrimSpace(cfg.ProvidersFile)
	if path == "" {
		return defaults, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return Effective{}, fmt.Errorf("open providers file: %w", err)
	}
	defer file.Close()

	providers, err := DecodeProvidersYAML(file)
	if err != nil {
		return Effective{}, fmt.Errorf("providers file %s: %w", path, err)
	}
	defaults.Providers = providers
	return defaults, nil
}

// DecodeProvidersYAML reads a `providers:` document. Unknown keys are rejected,
// which also keeps literal credentials out of the file format.
func DecodeProvidersYAML(r io.Reader) ([]provider.Config, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var doc providersFile
	if err := decoder.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := ValidateProviders(doc.Providers); err != nil {
		return nil, err
	}
	return doc.Providers, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
