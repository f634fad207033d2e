package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/millwright/pkg/compute"
	"github.com/chazu/millwright/pkg/config"
	"github.com/chazu/millwright/pkg/geomsvc"
	"github.com/chazu/millwright/pkg/kernel/sdfx"
	"github.com/chazu/millwright/pkg/macro"
	"github.com/chazu/millwright/pkg/ops"
	"github.com/chazu/millwright/pkg/part"
)

// EnginePath is the websocket route of the engine host.
const EnginePath = "/engine"

// NewServeEngineCommand creates the serve-engine command.
func NewServeEngineCommand(rootOpts *RootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve-engine",
		Short: "Host the reference geometry engine over websockets",
		Long: `Serve the reference engine at ws://<listen>/engine. Each connection
gets its own engine state built from the configured parts and tools.
Prometheus metrics are served at /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Engine.Listen = listen
			}
			log := rootOpts.logger(cfg, cmd.ErrOrStderr())
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serveEngine(ctx, cfg, log)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "address to bind (overrides engine.listen)")

	return cmd
}

func serveEngine(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	router, err := newEngineRouter(cfg, log)
	if err != nil {
		return err
	}
	srv := &http.Server{Addr: cfg.Engine.Listen, Handler: router}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("engine listening", "addr", cfg.Engine.Listen, "path", EnginePath)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		log.Info("engine shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newEngineRouter builds the gin router for the engine host.
func newEngineRouter(cfg config.Config, log *slog.Logger) (*gin.Engine, error) {
	parts := part.NewRegistry()
	for _, p := range cfg.Parts {
		if err := parts.Define(p); err != nil {
			return nil, err
		}
	}
	tools := ops.NewToolTable(cfg.Tools)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	// Expanders discard results of superseded generations, so each
	// connection gets its own.
	router.GET(EnginePath, compute.GinHandler(func() compute.Handler {
		return geomsvc.New(sdfx.NewWithResolution(cfg.Kernel.Cells), parts, geomsvc.Options{
			Tools:  tools,
			Macros: macro.NewExpander(cfg.Macro.Timeout),
			Log:    log,
		})
	}, log))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "parts": len(cfg.Parts)})
	})
	return router, nil
}
