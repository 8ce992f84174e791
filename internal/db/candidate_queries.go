package db

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// CandidateFilter narrows candidate selection. Empty slices mean no filter.
type CandidateFilter struct {
	Categories []string
	ArticleIDs []int64
}

// CandidateArticle is one article that needs (re)annotation.
type CandidateArticle struct {
	ID         int64
	Title      string
	Content    string
	Category   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	RetryCount int
	// SelectedAt is the database clock at selection time.
	SelectedAt time.Time
}

// GeneratedByFallback is stored in generated_by when no provider produced
// the annotation.
const GeneratedByFallback = "fallback"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// candidateWhere matches published, live articles whose annotation is missing,
// stale, unfinished or incomplete, or that are flagged for reprocessing.
func candidateWhere(filter CandidateFilter) sq.And {
	where := sq.And{
		sq.Eq{"a.published": true},
		sq.Eq{"a.deleted": false},
		sq.Or{
			sq.Expr("ann.article_id IS NULL"),
			sq.Expr("ann.article_created_at IS DISTINCT FROM a.created_at"),
			sq.Expr("ann.processed_at IS NULL"),
			sq.Expr("ann.force_reprocess = true"),
			// Fallback output is only empty when nothing could be extracted,
			// so such rows are not retried until the article changes.
			sq.And{
				sq.Or{
					sq.Expr("jsonb_array_length(ann.highlights) = 0"),
					sq.Expr("jsonb_array_length(ann.keywords) = 0"),
				},
				sq.Expr("btrim(a.title || a.content) <> ''"),
				sq.Expr("ann.generated_by <> '" + GeneratedByFallback + "'"),
			},
		},
	}
	if len(filter.Categories) > 0 {
		where = append(where, sq.Eq{"a.category": filter.Categories})
	}
	if len(filter.ArticleIDs) > 0 {
		where = append(where, sq.Eq{"a.id": filter.ArticleIDs})
	}
	return where
}

func candidateSelect(filter CandidateFilter, limit int) sq.SelectBuilder {
	return psql.
		Select(
			"a.id",
			"a.title",
			"a.content",
			"a.category",
			"a.created_at",
			"a.updated_at",
			"COALESCE(ann.retry_count, 0)",
			"now()",
		).
		From("news_articles a").
		LeftJoin("news_article_annotations ann ON ann.article_id = a.id").
		Where(candidateWhere(filter)).
		OrderBy("a.created_at ASC", "a.id ASC").
		Limit(uint64(limit))
}

// ListCandidates returns up to limit candidates, oldest first.
func (p *Pool) ListCandidates(ctx context.Context, filter CandidateFilter, limit int) ([]CandidateArticle, error) {
	if limit <= 0 {
		return nil, nil
	}

	query, args, err := candidateSelect(filter, limit).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build candidate query: %w", err)
	}

	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	candidates := make([]CandidateArticle, 0, limit)
	for rows.Next() {
		var c CandidateArticle
		if err := rows.Scan(
			&c.ID,
			&c.Title,
			&c.Content,
			&c.Category,
			&c.CreatedAt,
			&c.UpdatedAt,
			&c.RetryCount,
			&c.SelectedAt,
		); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return candidates, nil
}

// CountCandidates reports the backlog size for the same filter.
func (p *Pool) CountCandidates(ctx context.Context, filter CandidateFilter) (int64, error) {
	query, args, err := psql.
		Select("COUNT(*)").
		From("news_articles a").
		LeftJoin("news_article_annotations ann ON ann.article_id = a.id").
		Where(candidateWhere(filter)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build candidate count: %w", err)
	}

	var count int64
	if err := p.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count candidates: %w", err)
	}
	return count, nil
}
