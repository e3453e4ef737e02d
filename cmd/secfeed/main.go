package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/umputun/secfeed/pkg/cache"
	"github.com/umputun/secfeed/pkg/config"
	"github.com/umputun/secfeed/pkg/feed"
	"github.com/umputun/secfeed/pkg/fetcher"
	"github.com/umputun/secfeed/pkg/registry"
	"github.com/umputun/secfeed/server"
)

// Opts with all CLI options
type Opts struct {
	Config string `short:"c" long:"config" env:"CONFIG" default:"secfeed.yml" description:"config file path"`
	Listen string `short:"l" long:"listen" env:"LISTEN" description:"listen address, overrides config"`

	// Common options
	Debug   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool `short:"V" long:"version" description:"show version info"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable color output"`
}

var revision = "unknown"

func main() {
	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(0)
	}

	setupLog(opts.Debug)

	log.Printf("[INFO] starting secfeed version %s", revision)

	ctx, cancel := context.WithCancel(context.Background())

	// handle termination signals
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Print("[INFO] termination signal received")
		cancel()
	}()

	if err := run(ctx, opts); err != nil {
		log.Printf("[ERROR] secfeed failed: %v", err)
		cancel()
		os.Exit(1)
	}
	cancel()

	log.Print("[INFO] shutdown complete")
}

// run wires the components and blocks until the context is canceled
func run(ctx context.Context, opts Opts) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		log.Printf("[WARN] can't load config from %s, using defaults: %v", opts.Config, err)
		cfg = config.Default()
	}
	if opts.Listen != "" {
		cfg.Server.Listen = opts.Listen
	}

	// cache is the single shared store, constructed once and passed by handle
	store := cache.NewStore(cache.Options{
		MaxEntries:          cfg.Cache.MaxEntries,
		MaxSizeBytes:        cfg.Cache.MaxSizeBytes,
		SweepInterval:       cfg.Cache.SweepInterval,
		Compression:         cfg.Cache.Compression,
		CompressionMinBytes: cfg.Cache.CompressionMinBytes,
	})
	store.Start(ctx)
	defer store.Stop()

	if cfg.Cache.SnapshotPath != "" {
		if err := store.LoadSnapshot(ctx, cfg.Cache.SnapshotPath); err != nil {
			log.Printf("[WARN] can't restore cache snapshot, starting cold: %v", err)
		}
		defer func() {
			saveCtx, saveCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer saveCancel()
			if err := store.SaveSnapshot(saveCtx, cfg.Cache.SnapshotPath); err != nil {
				log.Printf("[WARN] can't save cache snapshot: %v", err)
			}
		}()
	}

	sources := registry.Load(cfg.Feeds.Path)

	fet := fetcher.New(fetcher.Config{
		Registry:        sources,
		Cache:           store,
		Dispatcher:      feed.NewDispatcher(),
		Timeout:         cfg.Fetch.Timeout,
		ProxyURL:        cfg.Fetch.ProxyURL,
		APIKeys:         cfg.Fetch.APIKeys,
		MaxWorkers:      cfg.Fetch.MaxWorkers,
		FilterTTL:       cfg.Fetch.FilterCacheTTL,
		MinHostInterval: cfg.Fetch.HostInterval,
	})

	sched := fetcher.NewScheduler(fet, fetcher.SchedulerConfig{
		PriorityInterval: cfg.Feeds.PriorityInterval,
		FullInterval:     cfg.Feeds.FullInterval,
	})
	sched.Start(ctx)
	defer sched.Stop()

	srv := server.New(cfg, fet, fet.Health(), store, sources, revision, opts.Debug)
	return srv.Run(ctx)
}

func setupLog(dbg bool, secs ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))
	if len(secs) > 0 {
		logOpts = append(logOpts, lgr.Secret(secs...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
