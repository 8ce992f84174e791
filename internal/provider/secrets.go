package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"
)

var ErrSecretNotFound = errors.New("secret not found")

// SecretSource resolves a logical credential name to its value.
type SecretSource interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// EnvSecrets reads credentials from the process environment. A ref "openai"
// maps to NEWS_AI_SECRET_OPENAI; "env:VAR" reads VAR directly.
type EnvSecrets struct {
	Prefix string
	Lookup func(string) (string, bool)
}

func (s EnvSecrets) Resolve(_ context.Context, ref string) (string, error) {
	name := s.VariableName(ref)
	if name == "" {
		return "", fmt.Errorf("%w: empty credential reference", ErrSecretNotFound)
	}
	lookup := s.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	value, ok := lookup(name)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%w: %s is not set", ErrSecretNotFound, name)
	}
	return strings.TrimSpace(value), nil
}

// VariableName returns the environment variable that backs ref.
func (s EnvSecrets) VariableName(ref string) string {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return ""
	}
	if explicit, ok := strings.CutPrefix(trimmed, "env:"); ok {
		return strings.TrimSpace(explicit)
	}

	prefix := s.Prefix
	if prefix == "" {
		prefix = "NEWS_AI_SECRET_"
	}
	var b strings.Builder
	b.WriteString(prefix)
	for _, r := range strings.ToUpper(trimmed) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}
