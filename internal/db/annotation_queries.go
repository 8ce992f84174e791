package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

var (
	// ErrArticleNotFound is returned when the article is missing or deleted.
	ErrArticleNotFound = errors.New("article not found")
	// ErrArticleChanged is returned when an upsert targets an article that was
	// deleted or replaced after it was selected.
	ErrArticleChanged = errors.New("article changed since selection")
)

// AnnotationRecord is a served annotation joined with its live article.
type AnnotationRecord struct {
	ArticleID            int64
	ArticleCreatedAt     time.Time
	Summary              *string
	Highlights           []string
	Keywords             []string
	RiskLevel            string
	SensitiveWords       []string
	DuplicateOfArticleID *int64
	Language             string
	GeneratedBy          string
	ModelName            *string
	ProcessedAt          *time.Time
	RetryCount           int
	LastError            *string
	LastErrorAt          *time.Time
	ForceReprocess       bool
	UpdatedAt            time.Time
}

// UpsertAnnotationParams is one annotation write for a selected article.
type UpsertAnnotationParams struct {
	ArticleID            int64
	ArticleCreatedAt     time.Time
	Summary              *string
	Highlights           []string
	Keywords             []string
	RiskLevel            string
	SensitiveWords       []string
	DuplicateOfArticleID *int64
	Language             string
	GeneratedBy          string
	ModelName            *string
	ProcessedAt          time.Time
	RetryCount           int
	LastError            *string
	LastErrorAt          *time.Time
	// SelectedAt is CandidateArticle.SelectedAt. A reprocess flag set after
	// it survives the write.
	SelectedAt           time.Time
}

// GetAnnotation returns the finished annotation of a live article, or nil
// when there is none or the stored row belongs to an older article.
func (p *Pool) GetAnnotation(ctx context.Context, articleID int64) (*AnnotationRecord, error) {
	const q = `
SELECT
	ann.article_id,
	ann.article_created_at,
	ann.summary,
	ann.highlights,
	ann.keywords,
	ann.risk_level::text,
	ann.sensitive_words,
	ann.duplicate_of_article_id,
	ann.language,
	ann.generated_by,
	ann.model_name,
	ann.processed_at,
	ann.retry_count,
	ann.last_error,
	ann.last_error_at,
	ann.force_reprocess,
	ann.updated_at
FROM news_article_annotations ann
JOIN news_articles a ON a.id = ann.article_id
WHERE ann.article_id = $1
  AND a.deleted = false
  AND a.created_at = ann.article_created_at
  AND ann.processed_at IS NOT NULL
`
	var (
		rec            AnnotationRecord
		highlights     datatypes.JSONSlice[string]
		keywords       datatypes.JSONSlice[string]
		sensitiveWords datatypes.JSONSlice[string]
	)
	err := p.QueryRow(ctx, q, articleID).Scan(
		&rec.ArticleID,
		&rec.ArticleCreatedAt,
		&rec.Summary,
		&highlights,
		&keywords,
		&rec.RiskLevel,
		&sensitiveWords,
		&rec.DuplicateOfArticleID,
		&rec.Language,
		&rec.GeneratedBy,
		&rec.ModelName,
		&rec.ProcessedAt,
		&rec.RetryCount,
		&rec.LastError,
		&rec.LastErrorAt,
		&rec.ForceReprocess,
		&rec.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query annotation %d: %w", articleID, err)
	}
	rec.Highlights = []string(highlights)
	rec.Keywords = []string(keywords)
	rec.SensitiveWords = []string(sensitiveWords)
	return &rec, nil
}

// UpsertAnnotation writes the annotation for one article. The insert only
// happens while the article is still live with the same fingerprint, so a
// result computed for a deleted article is dropped with ErrArticleChanged.
// The reprocess flag is cleared unless it was raised after selection.
func (p *Pool) UpsertAnnotation(ctx context.Context, params UpsertAnnotationParams) error {
	if params.ArticleID <= 0 {
		return fmt.Errorf("article id is required")
	}
	riskLevel := strings.TrimSpace(params.RiskLevel)
	if riskLevel == "" {
		riskLevel = "unknown"
	}
	language := strings.TrimSpace(params.Language)
	if language == "" {
		language = "und"
	}

	const q = `
INSERT INTO news_article_annotations (
	article_id,
	article_created_at,
	summary,
	highlights,
	keywords,
	risk_level,
	sensitive_words,
	duplicate_of_article_id,
	language,
	generated_by,
	model_name,
	processed_at,
	retry_count,
	last_error,
	last_error_at,
	force_reprocess,
	created_at,
	updated_at
)
SELECT
	a.id,
	a.created_at,
	$3,
	$4::jsonb,
	$5::jsonb,
	$6::news_ai_risk_level,
	$7::jsonb,
	$8,
	$9,
	$10,
	$11,
	$12,
	$13,
	$14,
	$15,
	false,
	now(),
	now()
FROM news_articles a
WHERE a.id = $1
  AND a.created_at = $2
  AND a.deleted = false
ON CONFLICT (article_id) DO UPDATE
SET
	article_created_at = EXCLUDED.article_created_at,
	summary = EXCLUDED.summary,
	highlights = EXCLUDED.highlights,
	keywords = EXCLUDED.keywords,
	risk_level = EXCLUDED.risk_level,
	sensitive_words = EXCLUDED.sensitive_words,
	duplicate_of_article_id = EXCLUDED.duplicate_of_article_id,
	language = EXCLUDED.language,
	generated_by = EXCLUDED.generated_by,
	model_name = EXCLUDED.model_name,
	processed_at = EXCLUDED.processed_at,
	retry_count = EXCLUDED.retry_count,
	last_error = EXCLUDED.last_error,
	last_error_at = EXCLUDED.last_error_at,
	force_reprocess = COALESCE(
		news_article_annotations.force_reprocess
			AND news_article_annotations.updated_at > $16,
		false
	),
	updated_at = now()
`
	var selectedAt any
	if !params.SelectedAt.IsZero() {
		selectedAt = params.SelectedAt.UTC()
	}

	tag, err := p.Exec(ctx, q,
		params.ArticleID,
		params.ArticleCreatedAt.UTC(),
		params.Summary,
		jsonList(params.Highlights),
		jsonList(params.Keywords),
		riskLevel,
		jsonList(params.SensitiveWords),
		params.DuplicateOfArticleID,
		language,
		strings.TrimSpace(params.GeneratedBy),
		params.ModelName,
		params.ProcessedAt.UTC(),
		max(0, params.RetryCount),
		params.LastError,
		params.LastErrorAt,
		selectedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert annotation %d: %w", params.ArticleID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("upsert annotation %d: %w", params.ArticleID, ErrArticleChanged)
	}
	return nil
}

// FindDuplicateArticle returns the oldest live article created before the
// given one whose normalized title is identical.
func (p *Pool) FindDuplicateArticle(ctx context.Context, articleID int64, title string, createdAt time.Time) (*int64, error) {
	if strings.TrimSpace(title) == "" {
		return nil, nil
	}

	const q = `
SELECT a.id
FROM news_articles a
WHERE a.deleted = false
  AND a.id <> $1
  AND lower(btrim(a.title)) = lower(btrim($2))
  AND (a.created_at, a.id) < ($3, $1)
ORDER BY a.created_at ASC, a.id ASC
LIMIT 1
`
	var id int64
	if err := p.QueryRow(ctx, q, articleID, title, createdAt.UTC()).Scan(&id); err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find duplicate of article %d: %w", articleID, err)
	}
	return &id, nil
}

// ForceReprocess flags a live article for the next tick. A stale annotation
// left by an older article with the same id is removed first.
func (p *Pool) ForceReprocess(ctx context.Context, articleID int64) error {
	return p.WithTx(ctx, func(tx Tx) error {
		var createdAt time.Time
		err := tx.QueryRow(ctx, `
SELECT created_at
FROM news_articles
WHERE id = $1
  AND deleted = false
FOR UPDATE
`, articleID).Scan(&createdAt)
		if err != nil {
			if IsNoRows(err) {
				return fmt.Errorf("force reprocess %d: %w", articleID, ErrArticleNotFound)
			}
			return fmt.Errorf("load article %d: %w", articleID, err)
		}

		if _, err := tx.Exec(ctx, `
DELETE FROM news_article_annotations
WHERE article_id = $1
  AND article_created_at <> $2
`, articleID, createdAt); err != nil {
			return fmt.Errorf("drop stale annotation %d: %w", articleID, err)
		}

		if _, err := tx.Exec(ctx, `
INSERT INTO news_article_annotations (article_id, article_created_at, force_reprocess, created_at, updated_at)
VALUES ($1, $2, true, now(), now())
ON CONFLICT (article_id) DO UPDATE
SET
	force_reprocess = true,
	updated_at = now()
`, articleID, createdAt); err != nil {
			return fmt.Errorf("flag article %d: %w", articleID, err)
		}
		return nil
	})
}

// DeleteAnnotation removes the annotation of one article.
func (p *Pool) DeleteAnnotation(ctx context.Context, articleID int64) (int64, error) {
	tag, err := p.Exec(ctx, `DELETE FROM news_article_annotations WHERE article_id = $1`, articleID)
	if err != nil {
		return 0, fmt.Errorf("delete annotation %d: %w", articleID, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteArticle marks an article deleted and removes its annotation in one
// transaction.
func (p *Pool) DeleteArticle(ctx context.Context, articleID int64) (bool, error) {
	var deleted bool
	err := p.WithTx(ctx, func(tx Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE news_articles
SET
	deleted = true,
	updated_at = now()
WHERE id = $1
  AND deleted = false
`, articleID)
		if err != nil {
			return fmt.Errorf("mark article %d deleted: %w", articleID, err)
		}
		deleted = tag.RowsAffected() > 0

		if _, err := tx.Exec(ctx, `DELETE FROM news_article_annotations WHERE article_id = $1`, articleID); err != nil {
			return fmt.Errorf("delete annotation %d: %w", articleID, err)
		}
		return nil
	})
	return deleted, err
}

// ReconcileAnnotations deletes annotations whose article is gone, deleted or
// was replaced by a newer article with the same id.
func (p *Pool) ReconcileAnnotations(ctx context.Context) (int64, error) {
	const q = `
DELETE FROM news_article_annotations ann
WHERE NOT EXISTS (
	SELECT 1
	FROM news_articles a
	WHERE a.id = ann.article_id
	  AND a.deleted = false
	  AND a.created_at = ann.article_created_at
)
`
	tag, err := p.Exec(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("reconcile annotations: %w", err)
	}
	return tag.RowsAffected(), nil
}

func jsonList(values []string) datatypes.JSONSlice[string] {
	if values == nil {
		values = []string{}
	}
	return datatypes.JSONSlice[string](values)
}
