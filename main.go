package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/tmshv/rfpharvest/config"
	"github.com/tmshv/rfpharvest/harvest"
	"github.com/tmshv/rfpharvest/logger"
	"github.com/tmshv/rfpharvest/metrics"
	"github.com/tmshv/rfpharvest/server"
	"github.com/tmshv/rfpharvest/source"
	"github.com/tmshv/rfpharvest/store"
)

type Globals struct {
	Config    string `help:"Path to the configuration file (JSON or YAML)." default:"config.json" type:"path" short:"c"`
	LogLevel  string `help:"Log level (debug, info, warn, error). Overrides log_level from the config."`
	LogFormat string `help:"Log format (console, json)." default:"console" enum:"console,json"`
}

type CLI struct {
	Globals

	Run   RunCmd   `cmd:"" default:"withargs" help:"Harvest every enabled source once and write the artifact."`
	Serve ServeCmd `cmd:"" help:"Serve the latest artifact over HTTP, optionally re-harvesting periodically."`
}

type RunCmd struct {
	Output string `help:"Artifact path. Overrides output_file from the config." short:"o"`
	Quiet  bool   `help:"Do not print the summary." short:"q"`
}

type ServeCmd struct {
	Addr     string        `help:"Listen address." default:":8080"`
	Interval time.Duration `help:"Re-harvest interval; 0 serves the existing artifact only." default:"0s"`
}

type app struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Harvest
	worker  *harvest.Worker
	archive *store.SqliteStore
}

func (a *app) Close() {
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.log.Warn("Failed to close archive", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}

func setup(g *Globals, output string) (*app, error) {
	level := g.LogLevel
	if level == "" {
		level = "info"
	}
	log, err := logger.New(level, g.LogFormat)
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(g.Config)
	if err != nil {
		log.Error("Failed to load configuration", zap.String("path", g.Config), zap.Error(err))
		return nil, err
	}
	if output != "" {
		cfg.OutputFile = output
	}
	if g.LogLevel == "" && cfg.LogLevel != level {
		if log, err = logger.New(cfg.LogLevel, g.LogFormat); err != nil {
			return nil, fmt.Errorf("log_level: %w", err)
		}
	}

	a := &app{cfg: cfg, log: log, metrics: metrics.NewHarvest()}

	fetcher := source.NewFetcher(source.FetcherOptions{
		Client:            &http.Client{},
		Retry:             cfg.Retry,
		UserAgent:         cfg.UserAgent,
		MaxBodyKb:         cfg.MaxBodyKb,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Logger:            log,
	})
	adapters, err := source.NewRegistry().Build(cfg.EnabledSources(), source.Deps{
		Fetcher:        fetcher,
		Logger:         log,
		MinTitleLength: cfg.MinTitleLength,
	})
	if err != nil {
		return nil, err
	}
	agg, err := harvest.NewFromConfig(cfg, adapters, log, a.metrics)
	if err != nil {
		return nil, err
	}

	sink := store.Multi{Primary: store.JSONSink{Path: cfg.OutputFile}, Logger: log}
	if cfg.SqlitePath != "" {
		a.archive, err = store.NewSqliteStore(cfg.SqlitePath, log)
		if err != nil {
			return nil, err
		}
		sink.Archives = append(sink.Archives, a.archive)
	}

	a.worker = &harvest.Worker{
		Aggregator: agg,
		Sink:       sink,
		Log:        log,
	}
	return a, nil
}

func (r *RunCmd) Run(g *Globals) error {
	a, err := setup(g, r.Output)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	batch, err := a.worker.RunOnce(ctx)
	if err != nil {
		a.log.Error("Failed to save RFP data", zap.Error(err))
		return err
	}
	a.log.Info("RFP data saved", zap.String("path", a.cfg.OutputFile), zap.Int("records", batch.Len()))

	if !r.Quiet {
		return store.WriteSummary(os.Stdout, batch.Artifact())
	}
	return nil
}

func (s *ServeCmd) Run(g *Globals) error {
	a, err := setup(g, "")
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &server.Server{
		ArtifactPath: a.cfg.OutputFile,
		Metrics:      a.metrics,
		Log:          a.log,
	}
	if a.archive != nil {
		srv.Archive = a.archive
	}
	router := srv.Router()

	if s.Interval > 0 {
		a.worker.Interval = s.Interval
		go a.worker.Run(ctx)
	}

	errc := make(chan error, 1)
	go func() {
		a.log.Info("RFP API is running", zap.String("address", s.Addr))
		errc <- router.Listen(s.Addr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	a.log.Info("Shutting down")
	if err := router.Shutdown(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// execute parses args, runs the selected command and returns the exit code.
func execute(args []string) int {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("rfpharvest"),
		kong.Description("Harvest government RFP notices from multiple sources into one JSON artifact."),
		kong.UsageOnError(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rfpharvest: %v\n", err)
		return 1
	}
	ctx, err := parser.Parse(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rfpharvest: %v\n", err)
		return 1
	}
	if err := ctx.Run(&cli.Globals); err != nil {
		fmt.Fprintf(os.Stderr, "rfpharvest: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(os.Args[1:]))
}
