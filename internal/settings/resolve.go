package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"horse.fit/newsai/internal/db"
	"horse.fit/newsai/internal/provider"
)

// KeyPrefix namespaces every runtime override this package reads.
const KeyPrefix = "news_ai."

const (
	KeyEnabled        = "enabled"
	KeyProviders      = "providers"
	KeyStrategy       = "strategy"
	KeyResponseFormat = "response_format"
	KeyMaxAttempts    = "max_attempts"
	KeyBatchSize      = "batch_size"
)

const (
	MinMaxAttempts = 1
	MaxMaxAttempts = 10
	MinBatchSize   = 1
	MaxBatchSize   = 1000
)

var knownKeys = []string{KeyEnabled, KeyProviders, KeyStrategy, KeyResponseFormat, KeyMaxAttempts, KeyBatchSize}

var ErrCredentialField = errors.New("credential values must not be stored in settings")

type Override = db.SettingOverride

// Effective is the configuration one tick runs with.
type Effective struct {
	Enabled        bool
	Providers      []provider.Config
	Strategy       provider.Strategy
	ResponseFormat provider.FormatMode
	MaxAttempts    int
	BatchSize      int
}

func (e Effective) Clone() Effective {
	out := e
	out.Providers = append([]provider.Config(nil), e.Providers...)
	return out
}

// EnabledProviders returns the enabled provider configs in declaration order.
func (e Effective) EnabledProviders() []provider.Config {
	out := make([]provider.Config, 0, len(e.Providers))
	for _, cfg := range e.Providers {
		if cfg.Enabled {
			out = append(out, cfg)
		}
	}
	return out
}

// ConfigError reports an override that was ignored.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("setting %s: %v", e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Resolve layers overrides on top of defaults. For every logical key the most
// specific override wins ("<key>.<tier>" over "<key>"). An invalid value keeps
// the value from prior when one exists and the default otherwise.
func Resolve(defaults Effective, prior *Effective, overrides []Override, tier string) (Effective, []*ConfigError) {
	out := defaults.Clone()
	fallback := defaults
	if prior != nil {
		fallback = prior.Clone()
	}

	var errs []*ConfigError
	tier = strings.ToLower(strings.TrimSpace(tier))

	generic := make(map[string]Override, len(overrides))
	tiered := make(map[string]Override, len(overrides))
	for _, override := range overrides {
		key := strings.ToLower(strings.TrimSpace(override.Key))
		if isCredentialShaped(key) {
			errs = append(errs, &ConfigError{Key: override.Key, Err: ErrCredentialField})
			continue
		}
		name, ok := strings.CutPrefix(key, KeyPrefix)
		if !ok {
			continue
		}
		field, suffix, hasSuffix := strings.Cut(name, ".")
		if !isKnownKey(field) {
			errs = append(errs, &ConfigError{Key: override.Key, Err: fmt.Errorf("unknown setting")})
			continue
		}
		switch {
		case !hasSuffix:
			generic[field] = override
		case suffix == tier && tier != "":
			tiered[field] = override
		}
	}

	for _, field := range knownKeys {
		override, ok := tiered[field]
		if !ok {
			override, ok = generic[field]
		}
		if !ok {
			continue
		}
		if err := apply(&out, field, override.Value); err != nil {
			errs = append(errs, &ConfigError{Key: override.Key, Err: err})
			keep(&out, fallback, field)
		}
	}
	return out, errs
}

func apply(out *Effective, field, raw string) error {
	value := strings.TrimSpace(raw)
	switch field {
	case KeyEnabled:
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", raw)
		}
		out.Enabled = parsed
	case KeyProviders:
		configs, err := ParseProviders([]byte(value))
		if err != nil {
			return err
		}
		out.Providers = configs
	case KeyStrategy:
		strategy, err := provider.ParseStrategy(value)
		if err != nil {
			return err
		}
		out.Strategy = strategy
	case KeyResponseFormat:
		format, err := provider.ParseFormatMode(value)
		if err != nil {
			return err
		}
		out.ResponseFormat = format
	case KeyMaxAttempts:
		n, err := parseBounded(value, MinMaxAttempts, MaxMaxAttempts)
		if err != nil {
			return err
		}
		out.MaxAttempts = n
	case KeyBatchSize:
		n, err := parseBounded(value, MinBatchSize, MaxBatchSize)
		if err != nil {
			return err
		}
		out.BatchSize = n
	}
	return nil
}

func keep(out *Effective, fallback Effective, field string) {
	switch field {
	case KeyEnabled:
		out.Enabled = fallback.Enabled
	case KeyProviders:
		out.Providers = append([]provider.Config(nil), fallback.Providers...)
	case KeyStrategy:
		out.Strategy = fallback.Strategy
	case KeyResponseFormat:
		out.ResponseFormat = fallback.ResponseFormat
	case KeyMaxAttempts:
		out.MaxAttempts = fallback.MaxAttempts
	case KeyBatchSize:
		out.BatchSize = fallback.BatchSize
	}
}

func parseBounded(raw string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("value %d out of range [%d, %d]", n, lo, hi)
	}
	return n, nil
}

// ParseProviders decodes a JSON provider list strictly: unknown or
// credential-shaped fields, invalid entries and duplicate names fail the
// whole list.
func ParseProviders(raw []byte) ([]provider.Config, error) {
	var generic []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("providers must be a JSON array of objects: %w", err)
	}
	for i, entry := range generic {
		for field := range entry {
			if isCredentialShaped(field) {
				return nil, fmt.Errorf("providers[%d].%s: %w", i, field, ErrCredentialField)
			}
		}
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	var configs []provider.Config
	if err := decoder.Decode(&configs); err != nil {
		return nil, fmt.Errorf("decode providers: %w", err)
	}
	if err := ValidateProviders(configs); err != nil {
		return nil, err
	}
	return configs, nil
}

func ValidateProviders(configs []provider.Config) error {
	seen := make(map[string]struct{}, len(configs))
	for i, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("providers[%d]: %w", i, err)
		}
		name := provider.NormalizeName(cfg.Name)
		if _, exists := seen[name]; exists {
			return fmt.Errorf("providers[%d]: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

var credentialMarkers = []string{"api_key", "apikey", "secret", "token", "password", "credential"}

func isCredentialShaped(key string) bool {
	lower := strings.ToLower(key)
	lower = strings.ReplaceAll(lower, "credential_ref", "")
	for _, marker := range credentialMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func isKnownKey(field string) bool {
	for _, key := range knownKeys {
		if key == field {
			return true
		}
	}
	return false
}

// ValidateOverride checks a single override the way Resolve would apply it.
func ValidateOverride(key, value string) error {
	normalized := strings.ToLower(strings.TrimSpace(key))
	name, ok := strings.CutPrefix(normalized, KeyPrefix)
	if !ok {
		return &ConfigError{Key: key, Err: fmt.Errorf("setting keys must start with %q", KeyPrefix)}
	}
	_, tier, _ := strings.Cut(name, ".")
	_, errs := Resolve(Effective{}, nil, []Override{{Key: normalized, Value: value}}, tier)
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
