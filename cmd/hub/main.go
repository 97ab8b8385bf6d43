package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/grpchub-io/grpchub/internal/api"
	"github.com/grpchub-io/grpchub/internal/events"
	"github.com/grpchub-io/grpchub/internal/health"
	"github.com/grpchub-io/grpchub/internal/hub"
	"github.com/grpchub-io/grpchub/internal/hubgrpc"
	"github.com/grpchub-io/grpchub/internal/metrics"
	"github.com/grpchub-io/grpchub/internal/registry"
	"github.com/grpchub-io/grpchub/internal/router"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	grpcHost string
	grpcPort int
	httpHost string
	httpPort int
	logLevel string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "grpchub",
		Short: "grpchub — central registry and router for gRPC services",
		Long: `grpchub is the central hub of a gRPC service mesh. Services register
with it, heartbeat through it, and discover each other via it. It
forwards calls to the best available instance and streams registry
events to dashboards over SSE and WebSocket.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.grpcHost, "grpc-host", envOrDefault("GRPCHUB_GRPC_HOST", "0.0.0.0"), "gRPC listen host for service registration and calls")
	root.PersistentFlags().IntVar(&cfg.grpcPort, "grpc-port", envIntOrDefault("GRPCHUB_GRPC_PORT", 50099), "gRPC listen port")
	root.PersistentFlags().StringVar(&cfg.httpHost, "http-host", envOrDefault("GRPCHUB_HTTP_HOST", "0.0.0.0"), "HTTP listen host for the operator API")
	root.PersistentFlags().IntVar(&cfg.httpPort, "http-port", envIntOrDefault("GRPCHUB_HTTP_PORT", 8080), "HTTP listen port")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("GRPCHUB_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("grpchub %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	grpcAddr := net.JoinHostPort(cfg.grpcHost, strconv.Itoa(cfg.grpcPort))
	httpAddr := net.JoinHostPort(cfg.httpHost, strconv.Itoa(cfg.httpPort))

	logger.Info("starting grpchub",
		zap.String("version", version),
		zap.String("grpc_addr", grpcAddr),
		zap.String("http_addr", httpAddr),
		zap.String("log_level", cfg.logLevel),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bus := events.NewBus(logger)
	table := registry.NewTable(logger)
	h := hub.New(table, bus, logger)

	// Call forwarding needs grpcurl on PATH; without it the hub still
	// registers, routes and streams, but CallService returns Unimplemented.
	var fwd router.Forwarder
	if g := router.NewGrpcurlForwarder(logger); g != nil {
		fwd = g
	} else {
		logger.Warn("grpcurl not found on PATH, call forwarding disabled")
	}
	rt := router.New(h, fwd, router.Config{}, logger)

	monitor := health.NewMonitor(h, health.Config{}, logger)
	grpcSrv := hubgrpc.New(h, rt, logger)
	m := metrics.New(h)

	httpSrv := &http.Server{
		Addr: httpAddr,
		Handler: api.NewRouter(api.RouterConfig{
			Hub:     h,
			Bus:     bus,
			Router:  rt,
			Metrics: m,
			Logger:  logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := grpcSrv.ListenAndServe(ctx, grpcAddr); err != nil {
			errCh <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("http server listening", zap.String("addr", httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		logger.Error("fatal server error", zap.Error(runErr))
		cancel()
	}

	logger.Info("shutting down grpchub")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}

	wg.Wait()
	return runErr
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
