// Package main is the entry point for poolserve.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"poolserve/internal/logger"
)

const component = "main"

var (
	version = "dev"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logger.Error(component, "%v", err)
		_ = logger.Sync()
		os.Exit(1)
	}
}

// newApp はコマンド定義を組み立てる
func newApp() *cli.App {
	return &cli.App{
		Name:    "poolserve",
		Usage:   "fixed-size worker pool behind a tiny TCP page server",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Value:   "info",
				Usage:   "log level (debug, info, warn, error)",
				EnvVars: []string{"POOLSERVE_LOG_LEVEL"},
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logger.ParseLevel(c.String("log-level"))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			logger.SetLevel(level)
			return nil
		},
		After: func(*cli.Context) error {
			_ = logger.Sync()
			return nil
		},
		Commands: []*cli.Command{
			serveCommand(),
			benchCommand(),
			presetsCommand(),
		},
	}
}

// presetsCommand は利用可能なプリセットを表示する
func presetsCommand() *cli.Command {
	return &cli.Command{
		Name:  "presets",
		Usage: "list bench presets",
		Action: func(c *cli.Context) error {
			printPresets(c)
			return nil
		},
	}
}

func printPresets(c *cli.Context) {
	w := c.App.Writer
	fmt.Fprintln(w, sprintfS("title", "利用可能なプリセットシナリオ:"))
	fmt.Fprintln(w)
	for _, p := range presetSummaries() {
		fmt.Fprintf(w, "  %s %s\n", sprintfS("label", "%-12s", p.name), p.desc)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "使用例: poolserve bench --preset quick")
}
