package settings

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// OverrideSource lists runtime overrides whose key starts with prefix.
type OverrideSource interface {
	ListSettingOverrides(ctx context.Context, prefix string) ([]Override, error)
}

// Resolver resolves the effective configuration once per tick and remembers
// the last result so invalid overrides fall back to the prior valid value.
type Resolver struct {
	source   OverrideSource
	defaults Effective
	tier     string
	logger   zerolog.Logger

	mu   sync.Mutex
	last *Effective
}

func NewResolver(source OverrideSource, defaults Effective, tier string, logger zerolog.Logger) *Resolver {
	return &Resolver{
		source:   source,
		defaults: defaults.Clone(),
		tier:     tier,
		logger:   logger,
	}
}

// Resolve never fails: when overrides cannot be loaded the last effective
// configuration (or the defaults) is returned.
func (r *Resolver) Resolve(ctx context.Context) Effective {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.source == nil {
		return r.remember(r.defaults.Clone())
	}

	overrides, err := r.source.ListSettingOverrides(ctx, KeyPrefix)
	if err != nil {
		r.logger.Warn().Err(err).Msg("load setting overrides failed; keeping previous configuration")
		if r.last != nil {
			return r.last.Clone()
		}
		return r.defaults.Clone()
	}

	effective, errs := Resolve(r.defaults, r.last, overrides, r.tier)
	for _, cfgErr := range errs {
		r.logger.Warn().Str("key", cfgErr.Key).Err(cfgErr.Err).Msg("ignoring invalid setting override")
	}
	return r.remember(effective)
}

// Last returns the most recently resolved configuration, if any.
func (r *Resolver) Last() (Effective, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Effective{}, false
	}
	return r.last.Clone(), true
}

func (r *Resolver) remember(effective Effective) Effective {
	stored := effective.Clone()
	r.last = &stored
	return effective
}
