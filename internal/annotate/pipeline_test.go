package annotate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newsai/internal/db"
	"horse.fit/newsai/internal/provider"
	"horse.fit/newsai/internal/settings"
	"horse.fit/newsai/internal/status"
)

type memArticle struct {
	db.CandidateArticle
	Published bool
	Deleted   bool
}

type memStore struct {
	mu          sync.Mutex
	articles    map[int64]*memArticle
	annotations map[int64]db.AnnotationRecord
	words       db.ModerationWordLists
	wordsErr    error
	failUpserts int
	beforeWrite func(articleID int64)
	upserts     int
	clock       int64
}

func newMemStore(articles ...memArticle) *memStore {
	store := &memStore{
		articles:    make(map[int64]*memArticle),
		annotations: make(map[int64]db.AnnotationRecord),
	}
	for i := range articles {
		article := articles[i]
		store.articles[article.ID] = &article
	}
	return store
}

// nowLocked is a strictly increasing stand-in for the database clock.
func (s *memStore) nowLocked() time.Time {
	s.clock++
	return time.Unix(0, s.clock).UTC()
}

func liveArticle(id int64, title, content string) memArticle {
	created := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Minute)
	return memArticle{
		CandidateArticle: db.CandidateArticle{ID: id, Title: title, Content: content, CreatedAt: created, UpdatedAt: created},
		Published:        true,
	}
}

func (s *memStore) isCandidateLocked(article *memArticle) bool {
	if !article.Published || article.Deleted {
		return false
	}
	ann, ok := s.annotations[article.ID]
	switch {
	case !ok:
		return true
	case !ann.ArticleCreatedAt.Equal(article.CreatedAt):
		return true
	case ann.ProcessedAt == nil || ann.ForceReprocess:
		return true
	case (len(ann.Highlights) == 0 || len(ann.Keywords) == 0) && article.Title+article.Content != "" && ann.GeneratedBy != GeneratedByFallback:
		return true
	}
	return false
}

func (s *memStore) ListCandidates(_ context.Context, filter db.CandidateFilter, limit int) ([]db.CandidateArticle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []db.CandidateArticle
	selectedAt := s.nowLocked()
	for _, article := range s.articles {
		if s.isCandidateLocked(article) {
			candidate := article.CandidateArticle
			candidate.SelectedAt = selectedAt
			out = append(out, candidate)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) CountCandidates(ctx context.Context, filter db.CandidateFilter) (int64, error) {
	candidates, err := s.ListCandidates(ctx, filter, 1<<30)
	return int64(len(candidates)), err
}

func (s *memStore) UpsertAnnotation(_ context.Context, params db.UpsertAnnotationParams) error {
	if s.beforeWrite != nil {
		s.beforeWrite(params.ArticleID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failUpserts > 0 {
		s.failUpserts--
		return errors.New("connection reset by peer")
	}
	article, ok := s.articles[params.ArticleID]
	if !ok || article.Deleted || !article.CreatedAt.Equal(params.ArticleCreatedAt) {
		return db.ErrArticleChanged
	}
	processed := params.ProcessedAt
	previous, exists := s.annotations[params.ArticleID]
	keepFlag := exists && previous.ForceReprocess && !params.SelectedAt.IsZero() && previous.UpdatedAt.After(params.SelectedAt)
	s.annotations[params.ArticleID] = db.AnnotationRecord{
		ArticleID:            params.ArticleID,
		ArticleCreatedAt:     params.ArticleCreatedAt,
		Summary:              params.Summary,
		Highlights:           params.Highlights,
		Keywords:             params.Keywords,
		RiskLevel:            params.RiskLevel,
		SensitiveWords:       params.SensitiveWords,
		DuplicateOfArticleID: params.DuplicateOfArticleID,
		Language:             params.Language,
		GeneratedBy:          params.GeneratedBy,
		ModelName:            params.ModelName,
		ProcessedAt:          &processed,
		RetryCount:           params.RetryCount,
		LastError:            params.LastError,
		LastErrorAt:          params.LastErrorAt,
		ForceReprocess:       keepFlag,
		UpdatedAt:            s.nowLocked(),
	}
	s.upserts++
	return nil
}

func (s *memStore) FindDuplicateArticle(context.Context, int64, string, time.Time) (*int64, error) {
	return nil, nil
}

func (s *memStore) ReconcileAnnotations(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, ann := range s.annotations {
		article, ok := s.articles[id]
		if !ok || article.Deleted || !article.CreatedAt.Equal(ann.ArticleCreatedAt) {
			delete(s.annotations, id)
			removed++
		}
	}
	return removed, nil
}

func (s *memStore) LoadModerationWords(context.Context) (db.ModerationWordLists, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.words, s.wordsErr
}

func (s *memStore) GetAnnotation(_ context.Context, articleID int64) (*db.AnnotationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	article, ok := s.articles[articleID]
	ann, annotated := s.annotations[articleID]
	if !ok || article.Deleted || !annotated || !ann.ArticleCreatedAt.Equal(article.CreatedAt) {
		return nil, nil
	}
	return &ann, nil
}

func (s *memStore) ForceReprocess(_ context.Context, articleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	article, ok := s.articles[articleID]
	if !ok || article.Deleted {
		return db.ErrArticleNotFound
	}
	if ann, annotated := s.annotations[articleID]; annotated {
		ann.ForceReprocess = true
		ann.UpdatedAt = s.nowLocked()
		s.annotations[articleID] = ann
	}
	return nil
}

func (s *memStore) DeleteArticle(_ context.Context, articleID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, annotated := s.annotations[articleID]
	delete(s.annotations, articleID)
	if article, ok := s.articles[articleID]; ok {
		article.Deleted = true
	}
	return annotated, nil
}

func (s *memStore) annotation(t *testing.T, articleID int64) db.AnnotationRecord {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	ann, ok := s.annotations[articleID]
	if !ok {
		t.Fatalf("article %d has no annotation", articleID)
	}
	return ann
}

type staticConfig struct {
	effective settings.Effective
}

func (c staticConfig) Resolve(context.Context) settings.Effective {
	return c.effective.Clone()
}

func aiConfig(names ...string) settings.Effective {
	effective := settings.Effective{
		Enabled:        true,
		Strategy:       provider.StrategyPriority,
		ResponseFormat: provider.FormatJSONObject,
		MaxAttempts:    3,
		BatchSize:      50,
	}
	for i, name := range names {
		effective.Providers = append(effective.Providers, provider.Config{
			Name:     name,
			Model:    name + "-model",
			Priority: i,
			Enabled:  true,
		})
	}
	return effective
}

func scriptedBuilder(providers ...*scriptedProvider) provider.Builder {
	byName := make(map[string]*scriptedProvider, len(providers))
	for _, p := range providers {
		byName[p.name] = p
	}
	return provider.BuilderFunc(func(_ context.Context, cfg provider.Config, _ string) (provider.Provider, error) {
		p, ok := byName[cfg.Name]
		if !ok {
			return nil, fmt.Errorf("no scripted provider %q", cfg.Name)
		}
		return p, nil
	})
}

func newTestPipeline(store *memStore, effective settings.Effective, builder provider.Builder, reporter Reporter) *Pipeline {
	p := NewPipeline(store, staticConfig{effective: effective}, nil, builder, reporter, zerolog.Nop(), Options{Workers: 3})
	p.detectLanguage = func(string) string { return "zh" }
	return p
}

func TestRunOnceWithAIDisabledFlagsSensitiveArticle(t *testing.T) {
	t.Parallel()

	store := newMemStore(liveArticle(1, "警方通报", "警方破获一起毒品交易案，同时查处多起电信诈骗。涉案人员已被刑事拘留。"))
	effective := aiConfig("a")
	effective.Enabled = false
	a := &scriptedProvider{name: "a", replies: []scriptedReply{{text: validCompletion}}}

	stats, err := newTestPipeline(store, effective, scriptedBuilder(a), nil).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if stats.FallbackUsed != 1 || stats.Annotated != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if a.calls() != 0 {
		t.Fatalf("provider called while AI disabled: %d calls", a.calls())
	}

	ann := store.annotation(t, 1)
	if ann.GeneratedBy != GeneratedByFallback {
		t.Fatalf("unexpected generator: got %q want %q", ann.GeneratedBy, GeneratedByFallback)
	}
	if ann.RiskLevel != string(RiskDanger) {
		t.Fatalf("unexpected risk: got %q want %q", ann.RiskLevel, RiskDanger)
	}
	if len(ann.SensitiveWords) != 2 || ann.SensitiveWords[0] != "毒品" || ann.SensitiveWords[1] != "诈骗" {
		t.Fatalf("unexpected sensitive words: %v", ann.SensitiveWords)
	}
	if ann.LastError != nil || ann.RetryCount != 0 {
		t.Fatalf("unexpected error bookkeeping: last_error=%v retry_count=%d", ann.LastError, ann.RetryCount)
	}
	if ann.Summary == nil || len(ann.Highlights) == 0 || len(ann.Keywords) == 0 {
		t.Fatalf("fallback left fields empty: %+v", ann)
	}
}

func TestRunOnceFailsOverAndCountsRetries(t *testing.T) {
	t.Parallel()

	store := newMemStore(liveArticle(1, "Contract ruling", "The appellate court upheld the contract ruling."))
	a := &scriptedProvider{name: "a", replies: []scriptedReply{{err: unavailable("a")}}}
	b := &scriptedProvider{name: "b", replies: []scriptedReply{{text: validCompletion}}}
	reporter := status.NewReporter(10)

	stats, err := newTestPipeline(store, aiConfig("a", "b"), scriptedBuilder(a, b), reporter).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if stats.Annotated != 1 || stats.Providers != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	ann := store.annotation(t, 1)
	if ann.GeneratedBy != "b" || ann.RetryCount != 1 {
		t.Fatalf("unexpected annotation: generated_by=%q retry_count=%d", ann.GeneratedBy, ann.RetryCount)
	}
	if ann.ModelName == nil || *ann.ModelName != "b-model" {
		t.Fatalf("unexpected model: %v", ann.ModelName)
	}
	if ann.LastError != nil {
		t.Fatalf("unexpected last error on success: %q", *ann.LastError)
	}

	snapshot := reporter.Snapshot()
	if snapshot.ErrorsTotal != 1 {
		t.Fatalf("unexpected errors total: got %d want 1", snapshot.ErrorsTotal)
	}
	if snapshot.Backlog != 1 {
		t.Fatalf("unexpected backlog: got %d want 1", snapshot.Backlog)
	}
}

func TestRunOnceIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newMemStore(
		liveArticle(1, "Ruling one", "First ruling text."),
		liveArticle(2, "Ruling two", "Second ruling text."),
	)
	a := &scriptedProvider{name: "a", replies: []scriptedReply{{text: validCompletion}}}
	pipeline := newTestPipeline(store, aiConfig("a"), scriptedBuilder(a), nil)

	first, err := pipeline.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Annotated != 2 {
		t.Fatalf("unexpected first stats: %+v", first)
	}

	second, err := pipeline.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Candidates != 0 {
		t.Fatalf("unexpected candidates on second run: got %d want 0", second.Candidates)
	}
	if a.calls() != 2 || store.upserts != 2 {
		t.Fatalf("second run did work: calls=%d upserts=%d", a.calls(), store.upserts)
	}
}

func TestRunOnceRecordsLastErrorWhenProvidersExhausted(t *testing.T) {
	t.Parallel()

	store := newMemStore(liveArticle(1, "Tax tribunal", "The tax tribunal ruled against the importer."))
	a := &scriptedProvider{name: "a", replies: []scriptedReply{{err: unavailable("a")}}}
	b := &scriptedProvider{name: "b", replies: []scriptedReply{{err: unavailable("b")}}}

	stats, err := newTestPipeline(store, aiConfig("a", "b"), scriptedBuilder(a, b), nil).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if stats.FallbackUsed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	ann := store.annotation(t, 1)
	if ann.GeneratedBy != GeneratedByFallback || ann.RetryCount != 2 {
		t.Fatalf("unexpected annotation: generated_by=%q retry_count=%d", ann.GeneratedBy, ann.RetryCount)
	}
	if ann.LastError == nil || ann.LastErrorAt == nil {
		t.Fatalf("expected last error to be recorded")
	}
	if len(ann.Highlights) == 0 || len(ann.Keywords) == 0 {
		t.Fatalf("fallback left fields empty: %+v", ann)
	}
}

func TestRunOnceKeepsArticleCandidateAfterPersistenceError(t *testing.T) {
	t.Parallel()

	store := newMemStore(liveArticle(1, "Ruling", "Court text."))
	store.failUpserts = 1
	a := &scriptedProvider{name: "a", replies: []scriptedReply{{text: validCompletion}}}
	pipeline := newTestPipeline(store, aiConfig("a"), scriptedBuilder(a), nil)

	first, err := pipeline.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Failed != 1 {
		t.Fatalf("unexpected first stats: %+v", first)
	}

	second, err := pipeline.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Candidates != 1 || second.Annotated != 1 {
		t.Fatalf("unexpected second stats: %+v", second)
	}
}

func TestRunOnceDropsResultForArticleDeletedMidRun(t *testing.T) {
	t.Parallel()

	store := newMemStore(liveArticle(1, "Ruling", "Court text."))
	store.beforeWrite = func(articleID int64) {
		store.mu.Lock()
		defer store.mu.Unlock()
		store.articles[articleID].Deleted = true
	}
	a := &scriptedProvider{name: "a", replies: []scriptedReply{{text: validCompletion}}}

	stats, err := newTestPipeline(store, aiConfig("a"), scriptedBuilder(a), nil).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if stats.Skipped != 1 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(store.annotations) != 0 {
		t.Fatalf("annotation written for deleted article")
	}
}

func TestDeletedArticleIDReuseIsReannotated(t *testing.T) {
	t.Parallel()

	store := newMemStore(liveArticle(1, "Old ruling", "Old text."))
	a := &scriptedProvider{name: "a", replies: []scriptedReply{{text: validCompletion}}}
	pipeline := newTestPipeline(store, aiConfig("a"), scriptedBuilder(a), nil)
	ctx := context.Background()

	if _, err := pipeline.RunOnce(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	removed, err := pipeline.OnArticleDeleted(ctx, 1)
	if err != nil || !removed {
		t.Fatalf("unexpected delete result: removed=%v err=%v", removed, err)
	}
	if ann, err := pipeline.GetAnnotation(ctx, 1); err != nil || ann != nil {
		t.Fatalf("annotation still served after delete: %+v err=%v", ann, err)
	}

	reused := liveArticle(1, "New ruling", "Entirely new text.")
	reused.CreatedAt = reused.CreatedAt.Add(24 * time.Hour)
	store.mu.Lock()
	store.articles[1] = &reused
	store.mu.Unlock()

	stats, err := pipeline.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.Candidates != 1 || stats.Annotated != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	ann, err := pipeline.GetAnnotation(ctx, 1)
	if err != nil || ann == nil {
		t.Fatalf("expected annotation for reused id, got %+v err=%v", ann, err)
	}
	if !ann.ArticleCreatedAt.Equal(reused.CreatedAt) {
		t.Fatalf("annotation bound to wrong article: got %v want %v", ann.ArticleCreatedAt, reused.CreatedAt)
	}
}

func TestForceReprocessMakesArticleCandidateAgain(t *testing.T) {
	t.Parallel()

	store := newMemStore(liveArticle(1, "Ruling", "Court text."))
	a := &scriptedProvider{name: "a", replies: []scriptedReply{{text: validCompletion}}}
	pipeline := newTestPipeline(store, aiConfig("a"), scriptedBuilder(a), nil)
	ctx := context.Background()

	if _, err := pipeline.RunOnce(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := pipeline.ForceReprocess(ctx, 1); err != nil {
		t.Fatalf("force reprocess: %v", err)
	}
	stats, err := pipeline.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.Annotated != 1 || a.calls() != 2 {
		t.Fatalf("unexpected reprocess: stats=%+v calls=%d", stats, a.calls())
	}
	if ann := store.annotation(t, 1); ann.ForceReprocess {
		t.Fatalf("force flag not cleared by write")
	}
	if err := pipeline.ForceReprocess(ctx, 99); !errors.Is(err, db.ErrArticleNotFound) {
		t.Fatalf("expected ErrArticleNotFound, got %v", err)
	}
}

func TestRunOnceProcessesBatchWithWorkerPool(t *testing.T) {
	t.Parallel()

	var articles []memArticle
	for id := int64(1); id <= 12; id++ {
		articles = append(articles, liveArticle(id, fmt.Sprintf("Ruling %d", id), "Court text."))
	}
	store := newMemStore(articles...)
	a := &scriptedProvider{name: "a", replies: []scriptedReply{{text: validCompletion}}}
	effective := aiConfig("a")
	effective.BatchSize = 10

	stats, err := newTestPipeline(store, effective, scriptedBuilder(a), nil).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if stats.Candidates != 10 || stats.Annotated != 10 || stats.Backlog != 12 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if a.calls() != 10 {
		t.Fatalf("unexpected provider calls: got %d want 10", a.calls())
	}
}

func TestRunOnceKeepsPreviousWordListsWhenLoadFails(t *testing.T) {
	t.Parallel()

	store := newMemStore(liveArticle(1, "Notice", "承接代写论文业务。"))
	store.words = db.ModerationWordLists{Sensitive: []string{"代写论文"}}
	effective := aiConfig()
	effective.Enabled = false
	pipeline := newTestPipeline(store, effective, nil, nil)
	ctx := context.Background()

	if got := pipeline.loadWords(ctx); len(got.Sensitive) != 1 {
		t.Fatalf("unexpected initial words: %+v", got)
	}
	store.wordsErr = errors.New("relation does not exist")

	if _, err := pipeline.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if ann := store.annotation(t, 1); ann.RiskLevel != string(RiskDanger) {
		t.Fatalf("unexpected risk: got %q want %q", ann.RiskLevel, RiskDanger)
	}
}

func TestRunOnceReconcilesAnnotationsOfDeletedArticles(t *testing.T) {
	t.Parallel()

	store := newMemStore(liveArticle(1, "Ruling", "Court text."), liveArticle(2, "Notice", "Filing deadline moved."))
	effective := aiConfig()
	effective.Enabled = false
	pipeline := newTestPipeline(store, effective, nil, nil)
	ctx := context.Background()

	if _, err := pipeline.RunOnce(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Deleted by the content system without a notification.
	store.mu.Lock()
	store.articles[2].Deleted = true
	store.mu.Unlock()

	stats, err := pipeline.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.Reconciled != 1 || stats.Candidates != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if ann, err := pipeline.GetAnnotation(ctx, 2); err != nil || ann != nil {
		t.Fatalf("annotation of deleted article still served: %+v err=%v", ann, err)
	}
	if removed, err := pipeline.Reconcile(ctx); err != nil || removed != 0 {
		t.Fatalf("unexpected second reconcile: removed=%d err=%v", removed, err)
	}
}

func TestRoundRobinRestartsAtFirstProviderEachTick(t *testing.T) {
	t.Parallel()

	store := newMemStore(liveArticle(1, "Ruling", "Court text."))
	a := &scriptedProvider{name: "a", replies: []scriptedReply{{text: validCompletion}}}
	b := &scriptedProvider{name: "b", replies: []scriptedReply{{text: validCompletion}}}
	effective := aiConfig("a", "b")
	effective.Strategy = provider.StrategyRoundRobin
	pipeline := newTestPipeline(store, effective, scriptedBuilder(a, b), nil)
	ctx := context.Background()

	if _, err := pipeline.RunOnce(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	next := liveArticle(2, "Notice", "Filing deadline moved.")
	store.mu.Lock()
	store.articles[2] = &next
	store.mu.Unlock()
	if _, err := pipeline.RunOnce(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}

	for _, id := range []int64{1, 2} {
		if got := store.annotation(t, id).GeneratedBy; got != "a" {
			t.Fatalf("unexpected generator for article %d: got %q want %q", id, got, "a")
		}
	}
	if b.calls() != 0 {
		t.Fatalf("unexpected calls to second provider: %d", b.calls())
	}
}

func TestRunOnceDoesNotRetryArticlesWithoutExtractableText(t *testing.T) {
	t.Parallel()

	store := newMemStore(liveArticle(1, "", `<p><img src="x.jpg"></p>`))
	a := &scriptedProvider{name: "a", replies: []scriptedReply{{text: validCompletion}}}
	pipeline := newTestPipeline(store, aiConfig("a"), scriptedBuilder(a), nil)
	pipeline.extractText = func(string) string { return "" }
	ctx := context.Background()

	first, err := pipeline.RunOnce(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Candidates != 1 || first.FallbackUsed != 1 {
		t.Fatalf("unexpected first tick: %+v", first)
	}
	for tick := 2; tick <= 3; tick++ {
		stats, err := pipeline.RunOnce(ctx)
		if err != nil {
			t.Fatalf("run %d: %v", tick, err)
		}
		if stats.Candidates != 0 || stats.Backlog != 0 {
			t.Fatalf("unexpected tick %d: %+v", tick, stats)
		}
	}
	if a.calls() != 0 {
		t.Fatalf("provider called for article without text: %d calls", a.calls())
	}
	if ann := store.annotation(t, 1); ann.GeneratedBy != GeneratedByFallback {
		t.Fatalf("unexpected generator: got %q want %q", ann.GeneratedBy, GeneratedByFallback)
	}
}

func TestReprocessRequestDuringAnnotationSurvivesWrite(t *testing.T) {
	t.Parallel()

	store := newMemStore(liveArticle(1, "Ruling", "Court text."))
	a := &scriptedProvider{name: "a", replies: []scriptedReply{{text: validCompletion}}}
	pipeline := newTestPipeline(store, aiConfig("a"), scriptedBuilder(a), nil)
	ctx := context.Background()

	if _, err := pipeline.RunOnce(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := pipeline.ForceReprocess(ctx, 1); err != nil {
		t.Fatalf("force reprocess: %v", err)
	}

	var once sync.Once
	store.beforeWrite = func(articleID int64) {
		once.Do(func() {
			if err := pipeline.ForceReprocess(ctx, articleID); err != nil {
				t.Errorf("force reprocess in flight: %v", err)
			}
		})
	}
	if _, err := pipeline.RunOnce(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if ann := store.annotation(t, 1); !ann.ForceReprocess {
		t.Fatalf("reprocess request raised during annotation was cleared")
	}

	stats, err := pipeline.RunOnce(ctx)
	if err != nil {
		t.Fatalf("third run: %v", err)
	}
	if stats.Candidates != 1 || a.calls() != 3 {
		t.Fatalf("unexpected third tick: stats=%+v calls=%d", stats, a.calls())
	}
	if ann := store.annotation(t, 1); ann.ForceReprocess {
		t.Fatalf("flag not cleared after the follow-up run")
	}
}
