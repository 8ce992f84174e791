package annotate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"horse.fit/newsai/internal/db"
)

// ErrPersistence marks a failed annotation write. The article stays a
// candidate and is picked up again on the next tick.
var ErrPersistence = errors.New("annotation persistence failed")

// AnnotationWriter is the persistence side of Store used by Writer.
type AnnotationWriter interface {
	UpsertAnnotation(ctx context.Context, params db.UpsertAnnotationParams) error
}

// Annotation is everything Writer needs to persist one article run.
type Annotation struct {
	Article        db.CandidateArticle
	Result         Result
	SensitiveWords []string
	DuplicateOf    *int64
	Language       string
	GeneratedBy    string
	ModelName      string
	RetryCount     int
	LastError      string
	ProcessedAt    time.Time
}

// Writer upserts annotations keyed by article id.
type Writer struct {
	store AnnotationWriter
}

func NewWriter(store AnnotationWriter) *Writer {
	return &Writer{store: store}
}

// Write persists a. It returns db.ErrArticleChanged untouched when the article
// disappeared after selection and wraps every other failure in ErrPersistence.
func (w *Writer) Write(ctx context.Context, a Annotation) error {
	params := db.UpsertAnnotationParams{
		ArticleID:            a.Article.ID,
		ArticleCreatedAt:     a.Article.CreatedAt,
		Highlights:           a.Result.Highlights,
		Keywords:             a.Result.Keywords,
		RiskLevel:            string(a.Result.RiskLevel),
		SensitiveWords:       a.SensitiveWords,
		DuplicateOfArticleID: a.DuplicateOf,
		Language:             a.Language,
		GeneratedBy:          a.GeneratedBy,
		ProcessedAt:          a.ProcessedAt,
		RetryCount:           a.RetryCount,
		SelectedAt:           a.Article.SelectedAt,
	}
	if summary := strings.TrimSpace(a.Result.Summary); summary != "" {
		params.Summary = &summary
	}
	if model := strings.TrimSpace(a.ModelName); model != "" {
		params.ModelName = &model
	}
	if msg := strings.TrimSpace(a.LastError); msg != "" {
		at := a.ProcessedAt
		params.LastError = &msg
		params.LastErrorAt = &at
	}

	if err := w.store.UpsertAnnotation(ctx, params); err != nil {
		if errors.Is(err, db.ErrArticleChanged) {
			return err
		}
		return fmt.Errorf("%w: article %d: %w", ErrPersistence, a.Article.ID, err)
	}
	return nil
}
