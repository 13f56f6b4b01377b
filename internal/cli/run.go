package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lbproxy/lbproxy/internal/admin"
	"github.com/lbproxy/lbproxy/internal/backend"
	"github.com/lbproxy/lbproxy/internal/config"
	"github.com/lbproxy/lbproxy/internal/discovery"
	"github.com/lbproxy/lbproxy/internal/health"
	"github.com/lbproxy/lbproxy/internal/httpserver"
	"github.com/lbproxy/lbproxy/internal/logging"
	"github.com/lbproxy/lbproxy/internal/metrics"
	"github.com/lbproxy/lbproxy/internal/node"
	"github.com/lbproxy/lbproxy/internal/registry"
	"github.com/lbproxy/lbproxy/internal/router"
	"github.com/lbproxy/lbproxy/internal/selection"
)

var configPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the load balancer",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), configPath)
	},
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "path to lbproxy config file (yaml/json/toml)")
}

func run(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("lbproxy: %w", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Dev: cfg.LogDev})
	if err != nil {
		return fmt.Errorf("lbproxy: building logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	reg := registry.New()
	for _, sn := range cfg.StaticNodes {
		ep := node.Endpoint{Scheme: node.SchemeHTTP, Host: sn.Host, Port: sn.Port}
		reg.Save(node.New(node.ID(sn.ID), ep, node.SourceStatic, time.Now()))
	}

	collectors := metrics.New(prometheus.DefaultRegisterer)

	client := backend.New(cfg.RequestTimeout, cfg.RequestTimeout)
	strategy := selection.NewRoundRobin()
	rtr := router.New(reg, strategy, client, cfg.RequestMaxAttempts, logger)
	rtr.SetObserver(collectors)

	prober := health.New(reg, health.Config{
		Enabled:           cfg.HealthCheckEnabled,
		Path:              cfg.HealthCheckPath,
		Interval:          cfg.HealthCheckInterval,
		Timeout:           cfg.HealthCheckTimeout,
		DegradedThreshold: cfg.HealthDegradedThreshold,
	}, logger)
	prober.SetObserver(collectors)

	disc := discovery.New(reg, discovery.Config{
		DNSName:  cfg.DiscoveryDNSName,
		Port:     cfg.ServerPort,
		Interval: cfg.DiscoveryInterval,
	}, logger)

	adm := admin.New(reg, logger)
	handler := httpserver.New(rtr, adm, logger)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler: handler,
	}

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go prober.Run(runCtx)
	go disc.Run(runCtx)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("lbproxy listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-runCtx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("lbproxy: %w", err)
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("lbproxy: shutdown: %w", err)
	}
	return nil
}
