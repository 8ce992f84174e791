package annotate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/newsai/internal/db"
	"horse.fit/newsai/internal/globaltime"
	"horse.fit/newsai/internal/langdetect"
	"horse.fit/newsai/internal/provider"
	"horse.fit/newsai/internal/reader"
	"horse.fit/newsai/internal/settings"
)

// GeneratedByFallback marks annotations produced without a provider.
const GeneratedByFallback = db.GeneratedByFallback

// Store is the persistence the pipeline runs against.
type Store interface {
	AnnotationWriter
	ListCandidates(ctx context.Context, filter db.CandidateFilter, limit int) ([]db.CandidateArticle, error)
	CountCandidates(ctx context.Context, filter db.CandidateFilter) (int64, error)
	FindDuplicateArticle(ctx context.Context, articleID int64, title string, createdAt time.Time) (*int64, error)
	ReconcileAnnotations(ctx context.Context) (int64, error)
	LoadModerationWords(ctx context.Context) (db.ModerationWordLists, error)
	GetAnnotation(ctx context.Context, articleID int64) (*db.AnnotationRecord, error)
	ForceReprocess(ctx context.Context, articleID int64) error
	DeleteArticle(ctx context.Context, articleID int64) (bool, error)
}

// ConfigSource yields the effective configuration for one tick.
type ConfigSource interface {
	Resolve(ctx context.Context) settings.Effective
}

// Reporter is the status sink the pipeline feeds.
type Reporter interface {
	Recorder
	SetBacklog(n int64)
}

type Options struct {
	Workers          int
	RequestTimeout   time.Duration
	MaxResponseBytes int64
	Filter           db.CandidateFilter
}

// Pipeline annotates one batch of candidates per RunOnce call.
type Pipeline struct {
	store    Store
	config   ConfigSource
	secrets  provider.SecretSource
	builder  provider.Builder
	reporter Reporter
	logger   zerolog.Logger
	opts     Options

	detectLanguage func(string) string
	extractText    func(string) string

	mu    sync.Mutex
	words db.ModerationWordLists
}

func NewPipeline(store Store, config ConfigSource, secrets provider.SecretSource, builder provider.Builder, reporter Reporter, logger zerolog.Logger, opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if builder == nil {
		builder = provider.HTTPBuilder{}
	}
	return &Pipeline{
		store:          store,
		config:         config,
		secrets:        secrets,
		builder:        builder,
		reporter:       reporter,
		logger:         logger,
		opts:           opts,
		detectLanguage: langdetect.Detect,
		extractText:    reader.PlainText,
	}
}

// TickStats summarizes one RunOnce call.
type TickStats struct {
	Enabled      bool
	Providers    int
	Backlog      int64
	Reconciled   int64
	Candidates   int
	Annotated    int
	FallbackUsed int
	Skipped      int
	Failed       int
}

type tickPlan struct {
	enabled     bool
	registry    *provider.Registry
	selector    *provider.Selector
	executor    *Executor
	maxAttempts int
	classifier  *RiskClassifier
	writer      *Writer
}

// RunOnce resolves configuration, selects candidates and annotates them with
// a bounded worker pool. Per-article failures are logged and counted; only
// failures that prevent the batch from starting are returned.
func (p *Pipeline) RunOnce(ctx context.Context) (TickStats, error) {
	effective := p.config.Resolve(ctx)
	stats := TickStats{Enabled: effective.Enabled}

	words := p.loadWords(ctx)

	reconciled, err := p.store.ReconcileAnnotations(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("reconcile annotations failed")
	}
	stats.Reconciled = reconciled

	backlog, err := p.store.CountCandidates(ctx, p.opts.Filter)
	if err != nil {
		p.logger.Warn().Err(err).Msg("count candidates failed")
	} else {
		stats.Backlog = backlog
		if p.reporter != nil {
			p.reporter.SetBacklog(backlog)
		}
	}

	candidates, err := p.store.ListCandidates(ctx, p.opts.Filter, effective.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("list candidates: %w", err)
	}
	stats.Candidates = len(candidates)
	if len(candidates) == 0 {
		return stats, nil
	}

	plan := tickPlan{
		enabled:     effective.Enabled,
		maxAttempts: effective.MaxAttempts,
		classifier:  NewRiskClassifier(words.Sensitive, words.Ad),
		writer:      NewWriter(p.store),
	}
	if effective.Enabled {
		registry, buildErrs := provider.BuildRegistry(ctx, effective.EnabledProviders(), p.secrets, p.builder)
		for _, buildErr := range buildErrs {
			p.logger.Warn().Err(buildErr).Msg("provider skipped for this tick")
		}
		defer func() {
			if err := registry.Close(); err != nil {
				p.logger.Warn().Err(err).Msg("close providers failed")
			}
		}()
		plan.registry = registry
		// Selection state, round-robin position included, starts fresh each tick.
		plan.selector = provider.NewSelector(effective.Strategy, nil)
		plan.executor = &Executor{
			Format:           effective.ResponseFormat,
			Timeout:          p.opts.RequestTimeout,
			MaxResponseBytes: p.opts.MaxResponseBytes,
			Recorder:         p.recorder(),
			Logger:           p.logger,
		}
		stats.Providers = registry.Len()
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(p.opts.Workers)
	for _, candidate := range candidates {
		g.Go(func() error {
			usedAI, err := p.processArticle(ctx, plan, candidate)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, db.ErrArticleChanged):
				stats.Skipped++
				p.logger.Info().Int64("article_id", candidate.ID).Msg("article changed during annotation; result dropped")
			case err != nil:
				stats.Failed++
				p.logger.Error().Err(err).Int64("article_id", candidate.ID).Msg("annotate article failed")
			case usedAI:
				stats.Annotated++
			default:
				stats.FallbackUsed++
			}
			return nil
		})
	}
	_ = g.Wait()

	return stats, nil
}

// processArticle annotates and persists one article. It reports whether a
// provider produced the result.
func (p *Pipeline) processArticle(ctx context.Context, plan tickPlan, article db.CandidateArticle) (bool, error) {
	text := p.extractText(article.Content)
	language := langdetect.Normalize(p.detectLanguage(strings.TrimSpace(article.Title + "\n" + text)))

	// Nothing to send when extraction left no text.
	hasText := strings.TrimSpace(article.Title+text) != ""

	var run RunResult
	if plan.enabled && hasText && plan.registry.Len() > 0 {
		ordered, err := plan.selector.Order(plan.registry.Entries())
		if err == nil {
			systemPrompt, prompt := BuildPrompt(article.Title, text, language)
			run = plan.executor.Annotate(ctx, ordered, systemPrompt, prompt, plan.maxAttempts)
		}
	}

	fallback := Fallback(article.Title, text)
	annotation := Annotation{
		Article:     article,
		Language:    language,
		GeneratedBy: GeneratedByFallback,
		RetryCount:  run.Failed(),
		ProcessedAt: globaltime.UTC(),
	}

	if run.Success != nil {
		result := run.Success.Result
		if result.Summary == "" {
			result.Summary = fallback.Summary
		}
		if len(result.Highlights) == 0 {
			result.Highlights = fallback.Highlights
		}
		if len(result.Keywords) == 0 {
			result.Keywords = fallback.Keywords
		}
		annotation.Result = result
		annotation.GeneratedBy = run.Success.Provider
		annotation.ModelName = run.Success.Model
	} else {
		annotation.Result = fallback
		if failure := run.LastFailure(); failure != nil {
			annotation.LastError = fmt.Sprintf("%s: %s: %v", failure.Provider, failure.Code, failure.Err)
			p.logger.Warn().
				Int64("article_id", article.ID).
				Int("attempts", len(run.Attempts)).
				Str("last_code", failure.Code).
				Msg("providers exhausted; using local fallback")
		}
	}

	level, matched := plan.classifier.Classify(annotation.Result.RiskLevel, article.Title, text)
	annotation.Result.RiskLevel = level
	annotation.SensitiveWords = matched

	duplicateOf, err := p.store.FindDuplicateArticle(ctx, article.ID, article.Title, article.CreatedAt)
	if err != nil {
		p.logger.Warn().Err(err).Int64("article_id", article.ID).Msg("duplicate lookup failed")
	}
	annotation.DuplicateOf = duplicateOf

	if err := plan.writer.Write(ctx, annotation); err != nil {
		return false, err
	}
	return run.Success != nil, nil
}

func (p *Pipeline) loadWords(ctx context.Context) db.ModerationWordLists {
	words, err := p.store.LoadModerationWords(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.logger.Warn().Err(err).Msg("load moderation words failed; keeping previous lists")
		return p.words
	}
	p.words = words
	return words
}

func (p *Pipeline) recorder() Recorder {
	if p.reporter == nil {
		return nopRecorder{}
	}
	return p.reporter
}

// GetAnnotation returns the served annotation of a live article, or nil.
func (p *Pipeline) GetAnnotation(ctx context.Context, articleID int64) (*db.AnnotationRecord, error) {
	return p.store.GetAnnotation(ctx, articleID)
}

// ForceReprocess makes the article a candidate again on the next tick.
func (p *Pipeline) ForceReprocess(ctx context.Context, articleID int64) error {
	return p.store.ForceReprocess(ctx, articleID)
}

// OnArticleDeleted handles a deletion notice from the content system.
func (p *Pipeline) OnArticleDeleted(ctx context.Context, articleID int64) (bool, error) {
	return p.store.DeleteArticle(ctx, articleID)
}

func (p *Pipeline) Reconcile(ctx context.Context) (int64, error) {
	return p.store.ReconcileAnnotations(ctx)
}
