package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/newsai/internal/auth"
	"horse.fit/newsai/internal/db"
	"horse.fit/newsai/internal/settings"
	"horse.fit/newsai/internal/status"
)

// AnnotationService serves and invalidates article annotations.
type AnnotationService interface {
	GetAnnotation(ctx context.Context, articleID int64) (*db.AnnotationRecord, error)
	ForceReprocess(ctx context.Context, articleID int64) error
	OnArticleDeleted(ctx context.Context, articleID int64) (bool, error)
}

type StatusSource interface {
	Snapshot() status.Snapshot
}

// TickTrigger runs one scheduler tick through the shared run lock.
type TickTrigger interface {
	Tick(ctx context.Context) (status.TickSummary, error)
}

type HealthChecker interface {
	Ping(ctx context.Context) error
}

type SettingsStore interface {
	ListSettingOverrides(ctx context.Context, prefix string) ([]db.SettingOverride, error)
	UpsertSettingOverride(ctx context.Context, key, value string) error
	DeleteSettingOverride(ctx context.Context, key string) (bool, error)
}

type EffectiveSource interface {
	Last() (settings.Effective, bool)
}

type Deps struct {
	Annotations AnnotationService
	Status      StatusSource
	Trigger     TickTrigger
	Health      HealthChecker
	Settings    SettingsStore
	Effective   EffectiveSource
}

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// AdminTokenHash is a bcrypt hash. Empty disables authentication.
	AdminTokenHash string
}

type Server struct {
	deps   Deps
	logger zerolog.Logger
	opts   Options
}

func NewServer(deps Deps, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8091
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		deps:   deps,
		logger: logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
			AdminTokenHash:  strings.TrimSpace(opts.AdminTokenHash),
		},
	}
}

// Handler builds the echo instance with every route registered.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := s.logger.Info()
			if v.Error != nil {
				event = s.logger.Error().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)

	admin := api.Group("", s.requireAdmin())
	admin.GET("/news-ai/status", s.handleStatus)
	admin.POST("/news-ai/run", s.handleRun)
	admin.GET("/news-ai/settings", s.handleListSettings)
	admin.PUT("/news-ai/settings/:key", s.handlePutSetting)
	admin.DELETE("/news-ai/settings/:key", s.handleDeleteSetting)
	admin.GET("/articles/:id/annotation", s.handleGetAnnotation)
	admin.POST("/articles/:id/reprocess", s.handleReprocess)
	admin.DELETE("/articles/:id/annotation", s.handleArticleDeleted)
	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.deps.Annotations == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.Handler()
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("newsai admin api started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("newsai admin api stopped")
	return nil
}

func (s *Server) requireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if s.opts.AdminTokenHash == "" {
				return next(c)
			}
			token, ok := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok || !auth.VerifyToken(token, s.opts.AdminTokenHash) {
				return failUnauthorized(c)
			}
			return next(c)
		}
	}
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if v, ok := he.Message.(string); ok && strings.TrimSpace(v) != "" {
			message = v
		} else if text := strings.TrimSpace(http.StatusText(code)); text != "" {
			message = text
		}
	}

	if code >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, code, message, nil)
}
