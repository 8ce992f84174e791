package status

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"horse.fit/newsai/internal/globaltime"
)

const (
	DefaultErrorLogSize = 50
	topListSize         = 5
)

type ProviderHealth struct {
	Name          string     `json:"name"`
	Endpoint      string     `json:"endpoint"`
	Requests      int64      `json:"requests"`
	Successes     int64      `json:"successes"`
	Failures      int64      `json:"failures"`
	LastErrorCode string     `json:"last_error_code,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	LastErrorAt   *time.Time `json:"last_error_at,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
}

type ErrorLogEntry struct {
	RequestID string    `json:"request_id"`
	Provider  string    `json:"provider"`
	Endpoint  string    `json:"endpoint"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

type Count struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// TickSummary describes the last scheduler tick.
type TickSummary struct {
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Skipped      bool      `json:"skipped"`
	Enabled      bool      `json:"enabled"`
	Candidates   int       `json:"candidates"`
	Annotated    int       `json:"annotated"`
	FallbackUsed int       `json:"fallback_used"`
	Failed       int       `json:"failed"`
	Reconciled   int64     `json:"reconciled"`
	Error        string    `json:"error,omitempty"`
}

type Snapshot struct {
	Providers     []ProviderHealth `json:"providers"`
	ErrorsTotal   int64            `json:"errors_total"`
	RecentErrors  []ErrorLogEntry  `json:"recent_errors"`
	TopErrorCodes []Count          `json:"top_error_codes"`
	TopEndpoints  []Count          `json:"top_endpoints"`
	Backlog       int64            `json:"backlog"`
	LastTick      *TickSummary     `json:"last_tick,omitempty"`
}

// Reporter aggregates provider health and pipeline progress in memory.
type Reporter struct {
	mu sync.Mutex

	providers   map[string]*ProviderHealth
	order       []string
	errorsTotal int64
	codeCounts  map[string]int64
	endpoints   map[string]int64
	backlog     int64
	lastTick    *TickSummary

	ring     []ErrorLogEntry
	ringNext int
	ringLen  int
}

func NewReporter(errorLogSize int) *Reporter {
	if errorLogSize <= 0 {
		errorLogSize = DefaultErrorLogSize
	}
	r := &Reporter{ring: make([]ErrorLogEntry, errorLogSize)}
	r.resetLocked()
	return r
}

func (r *Reporter) RecordRequest(provider, endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providerLocked(provider, endpoint).Requests++
}

func (r *Reporter) RecordSuccess(provider, endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := globaltime.UTC()
	health := r.providerLocked(provider, endpoint)
	health.Successes++
	health.LastSuccessAt = &now
}

// RecordError stores one failed provider call and returns its request id.
func (r *Reporter) RecordError(provider, endpoint, code, message string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := globaltime.UTC()
	code = strings.TrimSpace(code)
	if code == "" {
		code = "error"
	}
	health := r.providerLocked(provider, endpoint)
	health.Failures++
	health.LastErrorCode = code
	health.LastError = message
	health.LastErrorAt = &now

	r.errorsTotal++
	r.codeCounts[code]++
	if endpoint != "" {
		r.endpoints[endpoint]++
	}

	entry := ErrorLogEntry{
		RequestID: uuid.NewString(),
		Provider:  provider,
		Endpoint:  endpoint,
		Code:      code,
		Message:   message,
		At:        now,
	}
	r.ring[r.ringNext] = entry
	r.ringNext = (r.ringNext + 1) % len(r.ring)
	if r.ringLen < len(r.ring) {
		r.ringLen++
	}
	return entry.RequestID
}

func (r *Reporter) SetBacklog(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backlog = n
}

func (r *Reporter) RecordTick(summary TickSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastTick = &summary
}

// Snapshot returns a copy that is safe to hand to callers.
func (r *Reporter) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		Providers:     make([]ProviderHealth, 0, len(r.order)),
		ErrorsTotal:   r.errorsTotal,
		RecentErrors:  make([]ErrorLogEntry, 0, r.ringLen),
		TopErrorCodes: topCounts(r.codeCounts, topListSize),
		TopEndpoints:  topCounts(r.endpoints, topListSize),
		Backlog:       r.backlog,
	}
	for _, name := range r.order {
		health := *r.providers[name]
		health.LastErrorAt = copyTime(health.LastErrorAt)
		health.LastSuccessAt = copyTime(health.LastSuccessAt)
		snap.Providers = append(snap.Providers, health)
	}
	// Newest first.
	for i := 0; i < r.ringLen; i++ {
		idx := (r.ringNext - 1 - i + len(r.ring)) % len(r.ring)
		snap.RecentErrors = append(snap.RecentErrors, r.ring[idx])
	}
	if r.lastTick != nil {
		tick := *r.lastTick
		snap.LastTick = &tick
	}
	return snap
}

func (r *Reporter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
}

func (r *Reporter) resetLocked() {
	r.providers = make(map[string]*ProviderHealth)
	r.order = nil
	r.errorsTotal = 0
	r.codeCounts = make(map[string]int64)
	r.endpoints = make(map[string]int64)
	r.backlog = 0
	r.lastTick = nil
	clear(r.ring)
	r.ringNext = 0
	r.ringLen = 0
}

func (r *Reporter) providerLocked(name, endpoint string) *ProviderHealth {
	health, ok := r.providers[name]
	if !ok {
		health = &ProviderHealth{Name: name}
		r.providers[name] = health
		r.order = append(r.order, name)
	}
	if endpoint != "" {
		health.Endpoint = endpoint
	}
	return health
}

func topCounts(counts map[string]int64, limit int) []Count {
	out := make([]Count, 0, len(counts))
	for key, count := range counts {
		out = append(out, Count{Key: key, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
