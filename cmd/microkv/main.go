// microkv - a minimal in-memory key-value server speaking a RESP-like
// wire protocol over persistent TCP connections.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/microkv/microkv/internal/config"
	"github.com/microkv/microkv/internal/logger"
	"github.com/microkv/microkv/internal/metrics"
	"github.com/microkv/microkv/internal/server"
	"github.com/microkv/microkv/internal/store"
	"github.com/microkv/microkv/internal/version"
)

func main() {
	app := &cli.App{
		Name:    "microkv",
		Usage:   "minimal in-memory key-value server",
		Version: fmt.Sprintf("%s (built %s)", version.Version, version.BuildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML configuration file",
				EnvVars: []string{"MICROKV_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "host",
				Usage: "Bind host (overrides config)",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Bind port (overrides config)",
			},
			&cli.IntFlag{
				Name:  "maxclients",
				Usage: "Maximum concurrent connections (overrides config)",
			},
			&cli.IntFlag{
				Name:  "ratelimit",
				Usage: "Max commands/sec per connection, 0 = unlimited (overrides config)",
			},
			&cli.StringFlag{
				Name:  "loglevel",
				Usage: "Log level: debug, info, warn, error (overrides config)",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Listen address for /metrics, empty disables (overrides config)",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	if c.IsSet("host") {
		cfg.Server.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}
	if c.IsSet("maxclients") {
		cfg.Server.MaxClients = c.Int("maxclients")
	}
	if c.IsSet("ratelimit") {
		cfg.Server.RateLimit = c.Int("ratelimit")
	}
	if c.IsSet("loglevel") {
		cfg.Log.Level = c.String("loglevel")
	}
	if c.IsSet("metrics-addr") {
		cfg.Metrics.Addr = c.String("metrics-addr")
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.Log.Level
	logCfg.FileName = cfg.Log.File
	if err := logger.Init(logCfg); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("microkv starting",
		zap.String("version", version.Version),
		zap.String("addr", cfg.Addr()),
		zap.Int("max_clients", cfg.Server.MaxClients))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		logger.Info("metrics endpoint enabled", zap.String("addr", cfg.Metrics.Addr))
		metricsSrv := metrics.NewServer(cfg.Metrics.Addr, m)
		go func() {
			if err := metricsSrv.Start(ctx); err != nil {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	srv := server.NewWithConfig(cfg.Addr(), store.New(), server.Config{
		MaxClients: cfg.Server.MaxClients,
		RateLimit:  cfg.Server.RateLimit,
		Metrics:    m,
	})

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("microkv shutdown complete")
	return nil
}
