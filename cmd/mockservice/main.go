// Command mockservice registers a fake service with the hub and keeps it
// alive. It opens a real TCP listener so the hub's active probe sees the
// port as healthy, and heartbeats through a hubconnect.Connector until
// interrupted. Useful for exercising a hub during development:
//
//	grpchub &
//	mockservice --name user-service --port 9001 --methods GetUser,ListUsers
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/grpchub-io/grpchub/pkg/hubconnect"
)

type config struct {
	hubAddr  string
	name     string
	version  string
	address  string
	port     int
	methods  []string
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
		Use:   "mockservice",
		Short: "Register a fake service with a grpchub for testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}

	root.Flags().StringVar(&cfg.hubAddr, "hub-addr", envOrDefault("GRPCHUB_ADDR", "localhost:50099"), "Hub gRPC address")
	root.Flags().StringVar(&cfg.name, "name", "mock-service", "Service name to register")
	root.Flags().StringVar(&cfg.version, "service-version", "1.0.0", "Service version to register")
	root.Flags().StringVar(&cfg.address, "address", "127.0.0.1", "Address to advertise")
	root.Flags().IntVar(&cfg.port, "port", 9001, "Port to listen on and advertise")
	root.Flags().StringSliceVar(&cfg.methods, "methods", []string{"Ping"}, "Method names to advertise")
	root.Flags().StringVar(&cfg.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	return root
}

func run(cfg *config) error {
	var zcfg zap.Config
	if cfg.logLevel == "debug" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	logger, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	// Accept (and discard) connections so the hub's TCP probe passes.
	lis, err := net.Listen("tcp", net.JoinHostPort(cfg.address, strconv.Itoa(cfg.port)))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", cfg.port, err)
	}
	defer lis.Close()
	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	logger.Info("mock service listening",
		zap.String("name", cfg.name),
		zap.String("addr", lis.Addr().String()),
	)

	connector := hubconnect.New(hubconnect.Config{
		HubAddr: cfg.hubAddr,
		Service: hubconnect.Service{
			Name:     cfg.name,
			Version:  cfg.version,
			Address:  cfg.address,
			Port:     cfg.port,
			Methods:  cfg.methods,
			Metadata: map[string]string{"mock": "true"},
		},
	}, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	connector.Run(ctx)
	logger.Info("mock service stopped")
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
