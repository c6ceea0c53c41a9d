// Package serve implements the HTTP server command.
package serve

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/drawee/drawee-go/internal/api"
	"github.com/drawee/drawee-go/internal/app"
	"github.com/drawee/drawee-go/internal/buildinfo"
	"github.com/drawee/drawee-go/internal/conf"
	"github.com/drawee/drawee-go/internal/logger"
	"github.com/drawee/drawee-go/internal/observability"
	"github.com/drawee/drawee-go/internal/telemetry"
)

// sentryFlushTimeout bounds the final event flush on exit
const sentryFlushTimeout = 2 * time.Second

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	var warm bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  "Start the drawing classification API and, when enabled, the metrics endpoint.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return Run(ctx, settings, warm)
		},
	}

	if err := setupFlags(cmd, &warm); err != nil {
		panic(err)
	}

	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command, warm *bool) error {
	cmd.Flags().String("listen", "", "Listen address of the HTTP API")
	cmd.Flags().Bool("metrics", false, "Enable the Prometheus metrics endpoint")
	cmd.Flags().String("metrics-listen", "", "Listen address of the metrics endpoint")
	cmd.Flags().BoolVar(warm, "warm", true, "Load both models before accepting requests")

	// Bind flags to the viper settings
	for key, flag := range map[string]string{
		"webserver.listen": "listen",
		"metrics.enabled":  "metrics",
		"metrics.listen":   "metrics-listen",
	} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}

// Run serves the API until ctx is canceled.
func Run(ctx context.Context, settings *conf.Settings, warm bool) error {
	log := logger.Global().Module("serve")

	if err := telemetry.InitSentry(settings, buildinfo.Current().GetVersion()); err != nil {
		log.Warn("error telemetry disabled", logger.Error(err))
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), sentryFlushTimeout)
		defer cancel()
		telemetry.Flush(flushCtx)
	}()

	m, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	a, err := app.Build(ctx, settings, m, app.Options{WarmModels: warm})
	if err != nil {
		return err
	}
	defer a.Close()

	server, err := api.New(settings, a.Service, m.HTTP)
	if err != nil {
		return err
	}

	var endpoint *observability.Endpoint
	if settings.Metrics.Enabled {
		if endpoint, err = observability.NewEndpoint(settings, m); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	if endpoint != nil {
		g.Go(func() error {
			return endpoint.Run(gctx)
		})
	}

	log.Info("drawee started",
		logger.String("version", buildinfo.Current().GetVersion()),
		logger.String("listen", settings.WebServer.Listen),
		logger.Bool("metrics", settings.Metrics.Enabled))

	return g.Wait()
}
