package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/censorscope/internal/sandbox"
	"github.com/GriffinCanCode/censorscope/internal/scheduling"
)

// PoolStats is implemented by *sandbox.Pool.
type PoolStats interface {
	Stats() sandbox.PoolStats
}

// ExperimentStatuses is implemented by *scheduling.Scheduler.
type ExperimentStatuses interface {
	Statuses() []scheduling.Status
}

// Config contains admin server configuration
type Config struct {
	Addr        string
	Development bool
	Gatherer    prometheus.Gatherer
	Pool        PoolStats          // optional
	Scheduler   ExperimentStatuses // optional
	Logger      *zap.Logger
}

// Server exposes health, metrics and runtime state over HTTP
type Server struct {
	router *gin.Engine
	config Config
	logger *zap.Logger
}

// New creates the admin server and registers its routes
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))

	s := &Server{router: router, config: cfg, logger: cfg.Logger}

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	router.GET("/pool", s.pool)
	router.GET("/experiments", s.experiments)

	return s
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx ends, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting admin server", zap.String("addr", s.config.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down admin server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{"status": "healthy"}
	if s.config.Pool != nil {
		body["pool"] = s.config.Pool.Stats()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) pool(c *gin.Context) {
	if s.config.Pool == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session pool"})
		return
	}
	c.JSON(http.StatusOK, s.config.Pool.Stats())
}

func (s *Server) experiments(c *gin.Context) {
	if s.config.Scheduler == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "scheduler not running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"experiments": s.config.Scheduler.Statuses()})
}

// requestLogger logs one line per request
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
