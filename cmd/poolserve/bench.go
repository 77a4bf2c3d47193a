package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"poolserve/internal/api"
	"poolserve/internal/config"
	"poolserve/internal/events"
	"poolserve/internal/metrics"
	"poolserve/internal/scenario"
)

func benchCommand() *cli.Command {
	return &cli.Command{
		Name:  "bench",
		Usage: "run an in-process load and fault-injection scenario",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "config file (YAML/JSON)"},
			&cli.StringFlag{Name: "preset", Aliases: []string{"p"}, Usage: "preset scenario name (see `poolserve presets`)"},
			&cli.DurationFlag{Name: "duration", Aliases: []string{"d"}, Usage: "scenario duration (e.g. 10s, 1m)"},
			&cli.IntFlag{Name: "workers", Aliases: []string{"w"}, Usage: "server pool size"},
			&cli.IntFlag{Name: "clients", Usage: "client worker count"},
			&cli.BoolFlag{Name: "chaos", Value: true, Usage: "enable fault injection"},
			&cli.BoolFlag{Name: "admin", Usage: "expose the admin HTTP API while the bench runs"},
			&cli.StringFlag{Name: "admin-addr", Value: "127.0.0.1:8080", Usage: "admin API address"},
		},
		Action: benchAction,
	}
}

func benchAction(c *cli.Context) error {
	cfg, err := buildScenarioConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("設定エラー: %v", err), 1)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runBench(ctx, c, cfg)
}

// buildScenarioConfig はシナリオ設定を構築する
func buildScenarioConfig(c *cli.Context) (scenario.Config, error) {
	var cfg scenario.Config

	if path := c.String("config"); path != "" {
		// 1. 設定ファイルから読み込み
		fileConfig, err := config.LoadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("設定ファイル読み込みエラー: %w", err)
		}
		if err := fileConfig.Validate(); err != nil {
			return cfg, fmt.Errorf("設定検証エラー: %w", err)
		}
		cfg, err = fileConfig.ToScenarioConfig()
		if err != nil {
			return cfg, fmt.Errorf("設定変換エラー: %w", err)
		}
	} else if name := c.String("preset"); name != "" {
		// 2. プリセットから読み込み
		preset, ok := scenario.GetPreset(name)
		if !ok {
			return cfg, fmt.Errorf("不明なプリセット: %s (利用可能: %v)", name, scenario.ListPresets())
		}
		cfg = preset
	} else {
		// 3. デフォルト（quickシナリオ）
		cfg = scenario.QuickScenario()
	}

	// フラグでオーバーライド
	if c.IsSet("duration") {
		cfg.Duration = c.Duration("duration")
	}
	if c.IsSet("workers") {
		cfg.PoolSize = c.Int("workers")
	}
	if c.IsSet("clients") {
		cfg.ClientWorkers = c.Int("clients")
	}
	if c.IsSet("chaos") {
		cfg.EnableChaos = c.Bool("chaos")
	}

	if cfg.Duration <= 0 {
		return cfg, fmt.Errorf("duration must be positive (got %v)", cfg.Duration)
	}

	return cfg, nil
}

// runBench はシナリオを実行してレポートを出力する
func runBench(ctx context.Context, c *cli.Context, cfg scenario.Config) error {
	w := c.App.Writer
	fmt.Fprintln(w, sprintfS("title", "poolserve bench"))
	fmt.Fprintln(w, "====================================================")
	fmt.Fprintf(w, "%s %s\n", sprintfS("label", "Scenario:"), cfg.Name)
	fmt.Fprintf(w, "%s %v\n", sprintfS("label", "Duration:"), cfg.Duration)
	fmt.Fprintf(w, "%s %d, %s %d\n", sprintfS("label", "Pool:"), cfg.PoolSize, sprintfS("label", "Clients:"), cfg.ClientWorkers)
	fmt.Fprintf(w, "%s %v\n", sprintfS("label", "Chaos:"), cfg.EnableChaos)
	fmt.Fprintln(w, "====================================================")
	fmt.Fprintln(w)

	reg := prometheus.NewRegistry()
	collector, err := metrics.NewPoolCollector("poolserve", reg, metrics.CollectorOptions{Pool: "pool"})
	if err != nil {
		return err
	}

	bus := events.NewBus()
	defer bus.Close()

	engine := scenario.New(cfg)
	engine.SetEventBus(bus)
	engine.SetObserver(collector)

	adminCtx, cancelAdmin := context.WithCancel(ctx)
	defer cancelAdmin()
	var adminDone chan error
	if c.Bool("admin") {
		admin := api.NewServer(c.String("admin-addr"), engine, api.Options{
			Events:   bus,
			Gatherer: reg,
		})
		adminDone = make(chan error, 1)
		go func() { adminDone <- admin.Start(adminCtx) }()
	}

	start := time.Now()
	result, err := engine.Run(ctx)

	cancelAdmin()
	if adminDone != nil {
		err = multierr.Append(err, <-adminDone)
	}

	if result != nil {
		fmt.Fprintln(w, result.Report())
	} else {
		fmt.Fprintln(w, sprintfS("error", "scenario aborted after %v", time.Since(start).Round(time.Millisecond)))
	}

	if err != nil {
		return fmt.Errorf("シナリオ実行エラー: %w", err)
	}
	if result.WorkersAlive == result.Pool.Size {
		fmt.Fprintln(w, sprintfS("success", "all %d workers survived", result.WorkersAlive))
	} else {
		fmt.Fprintln(w, sprintfS("error", "only %d of %d workers alive", result.WorkersAlive, result.Pool.Size))
	}
	return nil
}

type presetSummary struct {
	name string
	desc string
}

// presetSummaries はプリセット名と説明を返す
func presetSummaries() []presetSummary {
	var summaries []presetSummary
	for _, name := range scenario.ListPresets() {
		cfg, _ := scenario.GetPreset(name)
		summaries = append(summaries, presetSummary{name: name, desc: cfg.Description})
	}
	return summaries
}
