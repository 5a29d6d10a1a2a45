package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"node.town/uam/asr"
	"node.town/uam/config"
	"node.town/uam/relay"
	"node.town/uam/rtms"
	"node.town/uam/tui"
	"node.town/uam/www"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the relay",
	Long: `Connect to the meeting platform, relay every speaker to the ASR backend
and serve the status and transcript views over HTTP.`,
	Run: runRelay,
}

func runRelay(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		logger.Fatal("load config", "error", err)
	}

	if cfg.TUI {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logger.Fatal("open log file", "path", cfg.LogFile, "error", err)
		}
		defer f.Close()
		logger = log.NewWithOptions(f, log.Options{ReportTimestamp: true})
	}

	mainLogger, rtmsLogger, muxLogger, asrLogger, httpLogger := createLoggers(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialer, err := asr.NewWebSocketDialer(cfg.BackendURL, cfg.DialTimeout, asrLogger)
	if err != nil {
		mainLogger.Fatal("backend", "error", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := relay.New(relay.Config{
		DefaultStream: cfg.StreamID,
		GraceDelay:    cfg.GraceDelay,
		DialTimeout:   cfg.DialTimeout,
		SendQueue:     cfg.SendQueue,
		MaxLines:      cfg.MaxLines,
	}, dialer, muxLogger, relay.WithMetrics(relay.NewMetrics(reg)))

	server := www.NewServer(r, r, reg, httpLogger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Run(ctx) })
	g.Go(func() error { return server.ListenAndServe(ctx, cfg.HTTPAddr) })

	if cfg.UpstreamURL != "" {
		client, err := rtms.NewClient(cfg.UpstreamURL, r, rtmsLogger)
		if err != nil {
			mainLogger.Fatal("upstream", "error", err)
		}
		g.Go(func() error { return client.Run(ctx) })
	} else {
		mainLogger.Info("no upstream url, waiting for webhooks")
	}

	if cfg.TUI {
		views, unsubscribe := r.Subscribe()
		g.Go(func() error {
			defer unsubscribe()
			if err := tui.Run(ctx, views); err != nil && ctx.Err() == nil {
				return err
			}
			// Quitting the UI stops the relay.
			stop()
			return nil
		})
	}

	mainLogger.Info("relay running",
		"backend", cfg.BackendURL,
		"upstream", cfg.UpstreamURL,
		"http", cfg.HTTPAddr,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		mainLogger.Fatal("relay stopped", "error", err)
	}
	mainLogger.Info("bye")
}
