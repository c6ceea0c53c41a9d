// Package api provides the HTTP server for drawee. The JSON endpoints are
// organized in the v2 subpackage.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/drawee/drawee-go/internal/api/middleware"
	v2 "github.com/drawee/drawee-go/internal/api/v2"
	"github.com/drawee/drawee-go/internal/conf"
	"github.com/drawee/drawee-go/internal/logger"
	"github.com/drawee/drawee-go/internal/objectstore"
	"github.com/drawee/drawee-go/internal/observability/metrics"
)

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultListen          = ":8080"

	// FilesPrefix serves locally stored drawings
	FilesPrefix = "/files"
)

// GetLogger returns the server logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Server owns the echo instance and the v2 controller.
type Server struct {
	echo       *echo.Echo
	settings   *conf.Settings
	controller *v2.Controller
	uploadRoot string
}

// New builds the server, its middleware stack and routes. m may be nil.
func New(settings *conf.Settings, svc v2.Service, m *metrics.HTTPMetrics) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = DefaultReadTimeout
	e.Server.WriteTimeout = DefaultWriteTimeout
	e.Server.IdleTimeout = DefaultIdleTimeout

	s := &Server{echo: e, settings: settings}
	s.setupMiddleware(m)

	controller, err := v2.New(e, svc, settings, m)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize API v2: %w", err)
	}
	s.controller = controller
	e.HTTPErrorHandler = controller.HTTPErrorHandler

	if settings.Storage.Type == conf.StorageLocal || settings.Storage.Type == "" {
		if settings.Storage.BasePath != "" {
			s.uploadRoot = filepath.Join(settings.Storage.BasePath, objectstore.UploadDir)
			e.GET(FilesPrefix+"/"+objectstore.UploadDir+"/:name", s.serveDrawing)
		}
	}

	GetLogger().Info("HTTP server initialized", logger.String("address", s.address()))
	return s, nil
}

func (s *Server) setupMiddleware(m *metrics.HTTPMetrics) {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewRequestLogger(GetLogger(), m))
	s.echo.Use(mw.NewRateLimiter(s.settings.WebServer.RateLimit, s.settings.WebServer.RateBurst))
	if s.settings.Upload.MaxBytes > 0 {
		s.echo.Use(mw.NewBodyLimit(s.settings.Upload.MaxBytes))
	}
}

// serveDrawing serves one stored drawing. Temp files and write probes are dotfiles and stay hidden.
func (s *Server) serveDrawing(c echo.Context) error {
	name := c.Param("name")
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return echo.ErrNotFound
	}
	return c.File(filepath.Join(s.uploadRoot, name))
}

func (s *Server) address() string {
	if s.settings.WebServer.Listen == "" {
		return DefaultListen
	}
	return s.settings.WebServer.Listen
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.settings.WebServer.ShutdownTimeout <= 0 {
		return DefaultShutdownTimeout
	}
	return s.settings.WebServer.ShutdownTimeout
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		GetLogger().Info("starting HTTP server", logger.String("address", s.address()))
		if err := s.echo.Start(s.address()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	return s.Shutdown()
}

// Shutdown stops the server, waiting up to webserver.shutdown_timeout for
// in-flight requests.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		GetLogger().Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}
	GetLogger().Info("server shutdown complete")
	return nil
}

// Echo returns the underlying echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Controller returns the v2 controller.
func (s *Server) Controller() *v2.Controller {
	return s.controller
}
