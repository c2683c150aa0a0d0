package api

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/gmsas95/chronosage/internal/assistant"
	"github.com/gmsas95/chronosage/internal/config"
	"github.com/gmsas95/chronosage/internal/metrics"
	"github.com/gmsas95/chronosage/internal/store"
)

// ActivityStore is what the API reads from the store. *store.Store
// satisfies it.
type ActivityStore interface {
	Ping(ctx context.Context) error
	ListActivity(ctx context.Context, limit int) ([]store.Activity, error)
}

// Options carries the collaborators the handlers call into
type Options struct {
	Assistant *assistant.Manager
	Store     ActivityStore
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Version   string
}

// Server handles the HTTP API
type Server struct {
	app       *fiber.App
	config    *config.Config
	assistant *assistant.Manager
	store     ActivityStore
	metrics   *metrics.Metrics
	logger    *zap.Logger
	version   string
}

// New creates a new API server
func New(cfg *config.Config, opts Options) *Server {
	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Title,
		ReadTimeout:           time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:           120 * time.Second,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	s := &Server{
		app:       app,
		config:    cfg,
		assistant: opts.Assistant,
		store:     opts.Store,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		version:   opts.Version,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.version == "" {
		s.version = "dev"
	}

	s.setupRoutes()
	return s
}

// App exposes the fiber application
func (s *Server) App() *fiber.App {
	return s.app
}

// Start starts the server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Address, s.config.Server.Port)
	s.logger.Info("API server listening", zap.String("address", addr))
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.app.ShutdownWithContext(ctx)
}
