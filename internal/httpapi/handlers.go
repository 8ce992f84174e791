package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"horse.fit/newsai/internal/db"
	"horse.fit/newsai/internal/globaltime"
	"horse.fit/newsai/internal/runlock"
	"horse.fit/newsai/internal/settings"
)

const maxSettingBytes = 64 << 10

type annotationResponse struct {
	ArticleID            int64      `json:"article_id"`
	Summary              *string    `json:"summary,omitempty"`
	Highlights           []string   `json:"highlights"`
	Keywords             []string   `json:"keywords"`
	RiskLevel            string     `json:"risk_level"`
	SensitiveWords       []string   `json:"sensitive_words"`
	DuplicateOfArticleID *int64     `json:"duplicate_of_article_id,omitempty"`
	Language             string     `json:"language"`
	GeneratedBy          string     `json:"generated_by"`
	ModelName            *string    `json:"model_name,omitempty"`
	ProcessedAt          *time.Time `json:"processed_at,omitempty"`
	RetryCount           int        `json:"retry_count"`
	LastError            *string    `json:"last_error,omitempty"`
	LastErrorAt          *time.Time `json:"last_error_at,omitempty"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func newAnnotationResponse(record *db.AnnotationRecord) annotationResponse {
	return annotationResponse{
		ArticleID:            record.ArticleID,
		Summary:              record.Summary,
		Highlights:           nonNil(record.Highlights),
		Keywords:             nonNil(record.Keywords),
		RiskLevel:            record.RiskLevel,
		SensitiveWords:       nonNil(record.SensitiveWords),
		DuplicateOfArticleID: record.DuplicateOfArticleID,
		Language:             record.Language,
		GeneratedBy:          record.GeneratedBy,
		ModelName:            record.ModelName,
		ProcessedAt:          record.ProcessedAt,
		RetryCount:           record.RetryCount,
		LastError:            record.LastError,
		LastErrorAt:          record.LastErrorAt,
		UpdatedAt:            record.UpdatedAt,
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func (s *Server) handleHealth(c echo.Context) error {
	data := map[string]any{
		"service": "newsai",
		"time":    globaltime.UTC(),
	}
	if s.deps.Health != nil {
		if err := s.deps.Health.Ping(c.Request().Context()); err != nil {
			s.logger.Error().Err(err).Msg("health check failed")
			return internalError(c, "Database unavailable")
		}
		data["database"] = "ok"
	}
	return success(c, data)
}

func (s *Server) handleStatus(c echo.Context) error {
	if s.deps.Status == nil {
		return internalError(c, "Status reporter is not configured")
	}
	return success(c, s.deps.Status.Snapshot())
}

func (s *Server) handleRun(c echo.Context) error {
	if s.deps.Trigger == nil {
		return internalError(c, "Scheduler is not configured")
	}
	summary, err := s.deps.Trigger.Tick(c.Request().Context())
	if err != nil {
		if errors.Is(err, runlock.ErrLockHeld) {
			return failConflict(c, "A run is already in progress")
		}
		s.logger.Error().Err(err).Msg("manual tick failed")
		return internalError(c, "Run failed")
	}
	return success(c, summary)
}

func (s *Server) handleGetAnnotation(c echo.Context) error {
	articleID, err := parseArticleID(c.Param("id"))
	if err != nil {
		return failValidation(c, map[string]string{"id": err.Error()})
	}

	record, err := s.deps.Annotations.GetAnnotation(c.Request().Context(), articleID)
	if err != nil {
		s.logger.Error().Err(err).Int64("article_id", articleID).Msg("load annotation failed")
		return internalError(c, "Failed to load annotation")
	}
	if record == nil {
		return failNotFound(c, "Annotation not found")
	}
	return success(c, newAnnotationResponse(record))
}

func (s *Server) handleReprocess(c echo.Context) error {
	articleID, err := parseArticleID(c.Param("id"))
	if err != nil {
		return failValidation(c, map[string]string{"id": err.Error()})
	}

	if err := s.deps.Annotations.ForceReprocess(c.Request().Context(), articleID); err != nil {
		if errors.Is(err, db.ErrArticleNotFound) {
			return failNotFound(c, "Article not found")
		}
		s.logger.Error().Err(err).Int64("article_id", articleID).Msg("force reprocess failed")
		return internalError(c, "Failed to schedule reprocessing")
	}
	return successWithStatus(c, http.StatusAccepted, map[string]any{
		"article_id": articleID,
		"queued":     true,
	})
}

func (s *Server) handleArticleDeleted(c echo.Context) error {
	articleID, err := parseArticleID(c.Param("id"))
	if err != nil {
		return failValidation(c, map[string]string{"id": err.Error()})
	}

	removed, err := s.deps.Annotations.OnArticleDeleted(c.Request().Context(), articleID)
	if err != nil {
		s.logger.Error().Err(err).Int64("article_id", articleID).Msg("article deletion cleanup failed")
		return internalError(c, "Failed to remove annotation")
	}
	return success(c, map[string]any{
		"article_id": articleID,
		"removed":    removed,
	})
}

func (s *Server) handleListSettings(c echo.Context) error {
	if s.deps.Settings == nil {
		return internalError(c, "Settings store is not configured")
	}
	overrides, err := s.deps.Settings.ListSettingOverrides(c.Request().Context(), settings.KeyPrefix)
	if err != nil {
		s.logger.Error().Err(err).Msg("list setting overrides failed")
		return internalError(c, "Failed to load settings")
	}

	items := make([]map[string]any, 0, len(overrides))
	for _, override := range overrides {
		items = append(items, map[string]any{
			"key":        override.Key,
			"value":      override.Value,
			"updated_at": override.UpdatedAt,
		})
	}
	data := map[string]any{"overrides": items}
	if s.deps.Effective != nil {
		if effective, ok := s.deps.Effective.Last(); ok {
			data["effective"] = effectiveView(effective)
		}
	}
	return success(c, data)
}

func (s *Server) handlePutSetting(c echo.Context) error {
	if s.deps.Settings == nil {
		return internalError(c, "Settings store is not configured")
	}
	key := strings.ToLower(strings.TrimSpace(c.Param("key")))
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxSettingBytes+1))
	if err != nil {
		return failValidation(c, map[string]string{"value": "could not read request body"})
	}
	if len(body) > maxSettingBytes {
		return failValidation(c, map[string]string{"value": fmt.Sprintf("must be at most %d bytes", maxSettingBytes)})
	}
	value := strings.TrimSpace(string(body))

	if err := settings.ValidateOverride(key, value); err != nil {
		return failValidation(c, map[string]string{key: err.Error()})
	}
	if err := s.deps.Settings.UpsertSettingOverride(c.Request().Context(), key, value); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("store setting override failed")
		return internalError(c, "Failed to store setting")
	}
	return success(c, map[string]any{"key": key, "value": value})
}

func (s *Server) handleDeleteSetting(c echo.Context) error {
	if s.deps.Settings == nil {
		return internalError(c, "Settings store is not configured")
	}
	key := strings.ToLower(strings.TrimSpace(c.Param("key")))
	removed, err := s.deps.Settings.DeleteSettingOverride(c.Request().Context(), key)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("delete setting override failed")
		return internalError(c, "Failed to delete setting")
	}
	if !removed {
		return failNotFound(c, "Setting not found")
	}
	return success(c, map[string]any{"key": key, "removed": true})
}

func effectiveView(effective settings.Effective) map[string]any {
	return map[string]any{
		"enabled":         effective.Enabled,
		"providers":       effective.Providers,
		"strategy":        effective.Strategy,
		"response_format": effective.ResponseFormat,
		"max_attempts":    effective.MaxAttempts,
		"batch_size":      effective.BatchSize,
	}
}

func parseArticleID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return id, nil
}
