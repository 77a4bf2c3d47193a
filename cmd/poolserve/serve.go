package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"poolserve/internal/api"
	"poolserve/internal/config"
	"poolserve/internal/events"
	"poolserve/internal/logger"
	"poolserve/internal/metrics"
	"poolserve/internal/server"
	"poolserve/internal/worker"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "accept connections and serve pages from the worker pool",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "config file (YAML/JSON)"},
			&cli.StringFlag{Name: "addr", Usage: "listen address (default 127.0.0.1:7878)"},
			&cli.StringFlag{Name: "root", Usage: "directory holding index.html and 404.html"},
			&cli.IntFlag{Name: "workers", Aliases: []string{"w"}, Usage: fmt.Sprintf("worker count (default %d)", config.DefaultWorkers)},
			&cli.DurationFlag{Name: "slow-delay", Usage: "delay for GET /sleep"},
			&cli.DurationFlag{Name: "read-timeout", Usage: "per-connection read deadline (0 = none)"},
			&cli.StringFlag{Name: "shutdown", Usage: "shutdown mode: drain or discard"},
			&cli.DurationFlag{Name: "shutdown-timeout", Usage: "max time to wait for workers on shutdown"},
			&cli.BoolFlag{Name: "admin", Usage: "enable the admin HTTP API"},
			&cli.StringFlag{Name: "admin-addr", Usage: "admin API address"},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	settings, err := loadSettings(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("設定エラー: %v", err), 1)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runServe(ctx, settings)
}

// loadSettings は設定ファイルとフラグから Settings を作る
// フラグは明示的に指定された場合のみファイルの値を上書きする
func loadSettings(c *cli.Context) (config.Settings, error) {
	settings := config.DefaultSettings()

	if path := c.String("config"); path != "" {
		fileConfig, err := config.LoadFile(path)
		if err != nil {
			return settings, err
		}
		if err := fileConfig.Validate(); err != nil {
			return settings, fmt.Errorf("設定検証エラー: %w", err)
		}
		settings, err = fileConfig.ToSettings()
		if err != nil {
			return settings, err
		}
		if !c.IsSet("log-level") {
			logger.SetLevel(settings.LogLevel)
		}
	}

	if c.IsSet("addr") {
		settings.Server.Addr = c.String("addr")
	}
	if c.IsSet("root") {
		settings.Server.DocRoot = c.String("root")
	}
	if c.IsSet("workers") {
		settings.Workers = c.Int("workers")
	}
	if c.IsSet("slow-delay") {
		settings.Server.SlowDelay = c.Duration("slow-delay")
	}
	if c.IsSet("read-timeout") {
		settings.Server.ReadTimeout = c.Duration("read-timeout")
	}
	if c.IsSet("shutdown") {
		mode, err := worker.ParseShutdownMode(c.String("shutdown"))
		if err != nil {
			return settings, err
		}
		settings.ShutdownMode = mode
	}
	if c.IsSet("shutdown-timeout") {
		settings.ShutdownTimeout = c.Duration("shutdown-timeout")
	}
	if c.IsSet("admin") {
		settings.AdminEnabled = c.Bool("admin")
	}
	if c.IsSet("admin-addr") {
		settings.AdminAddr = c.String("admin-addr")
	}

	return settings, nil
}

// runServe はプールとサーバーを起動し、ctx が終わったらプールを停止する
func runServe(ctx context.Context, settings config.Settings) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector, err := metrics.NewPoolCollector("poolserve", reg, metrics.CollectorOptions{Pool: "pool"})
	if err != nil {
		return err
	}

	bus := events.NewBus()
	defer bus.Close()

	pool, err := worker.NewWithConfig(worker.PoolConfig{
		Size:     settings.Workers,
		Name:     "pool",
		Observer: collector,
		Events:   bus,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to start pool: %v", err), 1)
	}

	if _, err := os.Stat(settings.Server.DocRoot); err != nil {
		logger.Warn(component, "document root %s is not readable: %v", settings.Server.DocRoot, err)
	}

	srv := server.New(settings.Server, pool)
	if err := srv.Listen(); err != nil {
		return multierr.Append(err, pool.Close())
	}

	// 管理 API
	adminCtx, cancelAdmin := context.WithCancel(ctx)
	defer cancelAdmin()
	var adminDone chan error
	if settings.AdminEnabled {
		admin := api.NewServer(settings.AdminAddr, pool, api.Options{
			Requests: srv,
			Events:   bus,
			Gatherer: reg,
		})
		adminDone = make(chan error, 1)
		go func() { adminDone <- admin.Start(adminCtx) }()
	}

	logger.Info(component, "poolserve %s serving %s on %s (workers: %d)",
		version, settings.Server.DocRoot, srv.Addr(), settings.Workers)

	err = srv.Serve(ctx)

	logger.Info(component, "Shutting down (mode: %s, timeout: %v)", settings.ShutdownMode, settings.ShutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.ShutdownTimeout)
	defer cancel()
	if shutdownErr := pool.Shutdown(shutdownCtx, settings.ShutdownMode); shutdownErr != nil {
		err = multierr.Append(err, fmt.Errorf("pool shutdown: %w", shutdownErr))
	}

	cancelAdmin()
	if adminDone != nil {
		err = multierr.Append(err, <-adminDone)
	}

	snap := srv.Metrics().Snapshot()
	logger.Info(component, "Stopped (requests: %d, failed: %d)", snap.TotalRequests, snap.FailedRequests)

	return err
}
