package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/firezap/firezap/internal/broadcast"
	"github.com/firezap/firezap/internal/config"
	"github.com/firezap/firezap/internal/gateway"
	api "github.com/firezap/firezap/internal/http"
	"github.com/firezap/firezap/internal/qr"
	"github.com/firezap/firezap/internal/session"
	"github.com/firezap/firezap/internal/store"
	"github.com/firezap/firezap/internal/tracing"
	"github.com/firezap/firezap/internal/transport"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the FireZap control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("tracing setup: %w", err)
	}

	renderer, err := qr.NewRenderer()
	if err != nil {
		return fmt.Errorf("qr renderer: %w", err)
	}

	paths := store.NewPaths(cfg.Data.Dir)
	broadcaster := broadcast.New()
	registry := session.NewRegistry(
		buildFactory(cfg.Transport, renderer),
		broadcaster,
		paths,
		reconnectPolicy(cfg.Reconnect),
	)

	gw := gateway.NewServer(cfg.Server.Token, cfg.Gateway.RatePerMinute, cfg.Gateway.Burst, registry, broadcaster)

	mux := http.NewServeMux()
	api.NewAPI(registry, cfg.Server.Token).Register(mux)
	mux.HandleFunc("GET /ws", gw.HandleWS)

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}

	// Reconnect tuning follows config file edits without a restart.
	var watcher *config.Watcher
	if _, statErr := os.Stat(configPath); statErr == nil {
		watcher, err = config.NewWatcher(configPath)
		if err != nil {
			return fmt.Errorf("config watcher: %w", err)
		}
		watcher.OnChange(func(newCfg *config.Config) {
			registry.UpdatePolicy(reconnectPolicy(newCfg.Reconnect))
		})
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("config watcher: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("firezap listening", "addr", cfg.Server.Addr, "transport", cfg.Transport.Kind)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")

		gw.Shutdown()
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shCtx)
		registry.Close()
		if watcher != nil {
			watcher.Stop()
		}
		return shutdownTracing(shCtx)
	})

	return g.Wait()
}

func reconnectPolicy(cfg config.ReconnectConfig) session.ReconnectPolicy {
	policy := session.DefaultReconnectPolicy()
	if cfg.BaseDelayMs > 0 {
		policy.BaseDelay = cfg.BaseDelay()
	}
	if cfg.MaxDelayMs > 0 {
		policy.MaxDelay = cfg.MaxDelay()
	}
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	return policy
}

func buildFactory(cfg config.TransportConfig, renderer *qr.Renderer) transport.Factory {
	if cfg.Kind == "process" {
		pcfg := transport.ProcessConfig{Command: cfg.Command, Args: cfg.Args}
		return func(sessionID, credsDir string) (transport.Transport, error) {
			return transport.NewProcess(pcfg, sessionID, credsDir), nil
		}
	}
	return func(sessionID, credsDir string) (transport.Transport, error) {
		return transport.NewWhatsApp(sessionID, credsDir, renderer), nil
	}
}
