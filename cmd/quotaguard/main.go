// Command quotaguard inspects and maintains the quota counters shared by
// quotaguard routers.
//
// Usage:
//
//	quotaguard status --config quotaguard.yaml
//	quotaguard reset gemini-2.5-flash
//	quotaguard split --max 2000 answer.txt
//	quotaguard metrics --addr :9090
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/ineyio/quotaguard"
)

// CLI defines the command-line interface.
type CLI struct {
	Status      StatusCmd      `cmd:"" help:"Show capacity of every backend and the search quota."`
	Init        InitCmd        `cmd:"" help:"Create zero counters for every backend and metric."`
	Reset       ResetCmd       `cmd:"" help:"Delete backend counters."`
	ResetSearch ResetSearchCmd `cmd:"" name:"reset-search" help:"Delete this month's search counter."`
	Split       SplitCmd       `cmd:"" help:"Split text into delivery-sized chunks."`
	Metrics     MetricsCmd     `cmd:"" help:"Serve live capacity as Prometheus metrics."`

	Config   string `short:"c" help:"Path to config file." type:"path" default:"quotaguard.yaml" env:"QUOTAGUARD_CONFIG"`
	EnvFile  string `name:"env-file" help:"Load environment variables from this file before reading the config." type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info" enum:"debug,info,warn,error"`

	Out io.Writer `kong:"-"`
	In  io.Reader `kong:"-"`
}

func main() {
	cli := CLI{Out: os.Stdout, In: os.Stdin}
	ctx := kong.Parse(&cli,
		kong.Name("quotaguard"),
		kong.Description("Quota counters for free-tier AI backends."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}

func (c *CLI) logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadEnv loads the explicit env file, or ./.env when present. Variables
// already set in the environment win.
func (c *CLI) loadEnv() error {
	if c.EnvFile != "" {
		if err := godotenv.Load(c.EnvFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// app holds the engines built from the config.
type app struct {
	cfg     quotaguard.Config
	limiter *quotaguard.Limiter
	search  *quotaguard.SearchGate
	logger  *slog.Logger
	close   func() error
}

func (c *CLI) open(ctx context.Context) (*app, error) {
	if err := c.loadEnv(); err != nil {
		return nil, err
	}
	cfg, err := quotaguard.LoadConfig(c.Config)
	if err != nil {
		return nil, err
	}

	logger := c.logger()
	cs, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	lim, err := quotaguard.NewLimiter(cfg, cs, quotaguard.WithLogger(logger))
	if err != nil {
		closeStore()
		return nil, err
	}
	gate, err := quotaguard.NewSearchGate(cfg.Search, cs,
		quotaguard.WithSearchKeyPrefix(cfg.Store.KeyPrefix),
		quotaguard.WithSearchLogger(logger),
	)
	if err != nil {
		closeStore()
		return nil, err
	}

	logger.Debug("config loaded", "path", c.Config, "driver", cfg.Store.Driver, "backends", len(cfg.Backends))
	return &app{cfg: cfg, limiter: lim, search: gate, logger: logger, close: closeStore}, nil
}
