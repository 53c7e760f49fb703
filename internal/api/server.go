// Package api serves the read queries, document submission, actor merges
// and configuration over HTTP.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/threatlink/internal/canonical"
	"github.com/tphakala/threatlink/internal/conf"
	"github.com/tphakala/threatlink/internal/datastore/entities"
	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/logger"
	"github.com/tphakala/threatlink/internal/pipeline"
)

// ActorMerger folds duplicate actors into a primary one.
type ActorMerger interface {
	MergeActorsWithTimeout(ctx context.Context, primaryID uint, duplicateIDs []uint) (*canonical.MergeResult, error)
}

// EntityFlagger updates whether an entity takes part in correlation.
type EntityFlagger interface {
	SetEntityFlags(ctx context.Context, id uint, flags canonical.EntityFlags) (*entities.CanonicalEntity, error)
}

// ConfigReloader re-reads and activates the correlation settings.
type ConfigReloader interface {
	Reload(ctx context.Context) (*conf.ActiveCorrelation, error)
}

// Server is the HTTP front end.
type Server struct {
	config    *Config
	echo      *echo.Echo
	queries   *pipeline.Queries
	analyzer  pipeline.Analyzer
	merger    ActorMerger
	flagger   EntityFlagger
	provider  *conf.CorrelationProvider
	reloader  ConfigReloader
	metrics   http.Handler
	startTime time.Time
	wg        sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAnalyzer enables POST /api/v1/documents.
func WithAnalyzer(a pipeline.Analyzer) ServerOption {
	return func(s *Server) { s.analyzer = a }
}

// WithMerger enables the actor merge endpoint.
func WithMerger(m ActorMerger) ServerOption {
	return func(s *Server) { s.merger = m }
}

// WithEntityFlags enables PATCH /api/v1/entities/:id.
func WithEntityFlags(f EntityFlagger) ServerOption {
	return func(s *Server) { s.flagger = f }
}

// WithConfig exposes the active correlation settings and the reload endpoint.
// reloader may be nil.
func WithConfig(provider *conf.CorrelationProvider, reloader ConfigReloader) ServerOption {
	return func(s *Server) {
		s.provider = provider
		s.reloader = reloader
	}
}

// WithMetrics mounts a Prometheus handler at /metrics.
func WithMetrics(h http.Handler) ServerOption {
	return func(s *Server) { s.metrics = h }
}

// New creates the server and registers its routes.
func New(cfg *Config, queries *pipeline.Queries, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.New(err).
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}

	s := &Server{
		config:    cfg,
		queries:   queries,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = cfg.ReadTimeout
	s.echo.Server.WriteTimeout = cfg.WriteTimeout
	s.echo.Server.IdleTimeout = cfg.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	GetLogger().Info("HTTP server initialized", logger.String("address", cfg.Listen))
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	s.echo.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogError:     true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomw.RequestLoggerValues) error {
			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.String("ip", v.RemoteIP),
				logger.String("request_id", v.RequestID),
				logger.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, logger.Error(v.Error))
			}
			GetLogger().Debug("request", fields...)
			return nil
		},
	}))
	s.echo.Use(echomw.BodyLimit(s.config.BodyLimit))
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}

	v1 := s.echo.Group("/api/v1")
	v1.GET("/documents/:id/related", s.getRelated)
	v1.GET("/documents/:id/campaign", s.getCampaignFor)
	v1.GET("/documents/:id/priority", s.getPriority)
	v1.GET("/entities/:id/timeline", s.getEntityTimeline)
	v1.GET("/campaigns", s.listCampaigns)
	v1.GET("/campaigns/:id", s.getCampaign)
	v1.GET("/priorities", s.listPriorities)

	if s.analyzer != nil {
		v1.POST("/documents", s.analyzeDocument)
	}
	if s.merger != nil {
		v1.POST("/actors/:id/merge", s.mergeActors)
	}
	if s.flagger != nil {
		v1.PATCH("/entities/:id", s.setEntityFlags)
	}
	if s.provider != nil {
		v1.GET("/config", s.getConfig)
		if s.reloader != nil {
			v1.POST("/config/reload", s.reloadConfig)
		}
	}
}

func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	body := map[string]any{
		"status":         "healthy",
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	if s.provider != nil {
		if active := s.provider.Current(); active != nil {
			body["config_version"] = active.Version
		}
	}
	return c.JSON(http.StatusOK, body)
}

// Start serves in a background goroutine and returns immediately.
func (s *Server) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		GetLogger().Info("HTTP server starting", logger.String("address", s.config.Listen))
		if err := s.echo.Start(s.config.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			GetLogger().Error("HTTP server error", logger.Error(err))
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("operation", "shutdown").
			Build()
	}
	s.wg.Wait()
	GetLogger().Info("HTTP server shutdown complete")
	return nil
}

// Echo returns the underlying echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
