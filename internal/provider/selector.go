package provider

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
)

type Strategy string

const (
	StrategyPriority   Strategy = "priority"
	StrategyRoundRobin Strategy = "round_robin"
	StrategyRandom     Strategy = "random"
)

func ParseStrategy(raw string) (Strategy, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	switch Strategy(normalized) {
	case StrategyPriority:
		return StrategyPriority, nil
	case StrategyRoundRobin, "roundrobin":
		return StrategyRoundRobin, nil
	case StrategyRandom:
		return StrategyRandom, nil
	default:
		return "", fmt.Errorf("unknown provider strategy %q", raw)
	}
}

// Selector orders the enabled providers for one article. It is safe for
// concurrent use by the per-tick workers.
type Selector struct {
	strategy Strategy

	mu      sync.Mutex
	counter uint64
	rng     *rand.Rand
}

// NewSelector returns a selector. A nil rng seeds a private PCG source.
func NewSelector(strategy Strategy, rng *rand.Rand) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Selector{strategy: strategy, rng: rng}
}

func (s *Selector) Strategy() Strategy {
	return s.strategy
}

// Order returns the attempt order for one article.
func (s *Selector) Order(entries []Entry) ([]Entry, error) {
	if len(entries) == 0 {
		return nil, ErrNoProviders
	}
	ordered := make([]Entry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Config.Priority != ordered[j].Config.Priority {
			return ordered[i].Config.Priority < ordered[j].Config.Priority
		}
		return ordered[i].Index < ordered[j].Index
	})

	switch s.strategy {
	case StrategyRoundRobin:
		s.mu.Lock()
		offset := int(s.counter % uint64(len(ordered)))
		s.counter++
		s.mu.Unlock()
		return append(ordered[offset:], ordered[:offset]...), nil
	case StrategyRandom:
		s.mu.Lock()
		keys := make([]float64, len(ordered))
		for i, entry := range ordered {
			weight := float64(entry.Config.Weight)
			if weight <= 0 {
				weight = 1
			}
			// Efraimidis-Spirakis: larger u^(1/w) sorts first.
			keys[i] = math.Pow(s.rng.Float64(), 1/weight)
		}
		s.mu.Unlock()
		idx := make([]int, len(ordered))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool { return keys[idx[a]] > keys[idx[b]] })
		shuffled := make([]Entry, len(ordered))
		for i, from := range idx {
			shuffled[i] = ordered[from]
		}
		return shuffled, nil
	default:
		return ordered, nil
	}
}
