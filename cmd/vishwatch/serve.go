package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"vishwatch/internal/alerts"
	"vishwatch/internal/api"
	"vishwatch/internal/config"
	"vishwatch/internal/engine"
	"vishwatch/internal/events"
	"vishwatch/internal/feed"
	"vishwatch/internal/ingest"
	"vishwatch/internal/logging"
	"vishwatch/internal/metrics"
	"vishwatch/internal/poller"
	"vishwatch/internal/storage"
	"vishwatch/internal/telemetry"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Poll the call feed, raise alerts and serve the dashboard API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(parent context.Context, opts *rootOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	manager, err := loadConfig(opts)
	if err != nil {
		return err
	}
	cfg := manager.Get()

	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()
	logger.Info("starting vishwatch", "version", version, "config", manager.Path())

	metricsSet, err := metrics.NewWithRuntime()
	if err != nil {
		return err
	}

	reporter, err := telemetry.New(cfg.Sentry, version)
	if err != nil {
		logger.Warn("sentry disabled", "error", err)
		reporter = nil
	}
	defer reporter.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return err
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			return err
		}
		defer store.Close()
		logger.Info("poll journal enabled", "driver", cfg.Storage.Driver)
	}

	bus := events.NewBus(logger, metricsSet, cfg.Events.BufferSize)
	defer bus.Close()
	addSinks(bus, cfg, logger)

	client := feed.New(feed.Options{
		BaseURL:    cfg.Feed.BaseURL,
		Timeout:    cfg.Feed.Timeout,
		Token:      cfg.Feed.Token,
		Timezone:   cfg.Feed.Timezone,
		SummaryTTL: cfg.Feed.SummaryTTL,
	}, logger)
	monitor := engine.NewMonitor(cfg, logger, metricsSet, alerts.NewStore(cfg.Alerts.StoreLimit), bus)

	popts := poller.Options{
		Interval:    cfg.Poller.Interval,
		Timeout:     cfg.Feed.Timeout,
		PollOnStart: cfg.Poller.PollOnStart,
		Logger:      logger,
		Metrics:     metricsSet,
	}
	if store != nil {
		popts.Journal = store
	}
	if reporter.Enabled() {
		popts.Reporter = reporter
	}
	p := poller.New(client, monitor, popts)

	g, gctx := errgroup.WithContext(ctx)
	if err := p.Start(gctx); err != nil {
		return err
	}
	g.Go(func() error {
		<-gctx.Done()
		p.Stop()
		p.Wait()
		return nil
	})

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:  manager,
			Calls:   client,
			Monitor: monitor,
			Poller:  p,
			Events:  bus,
			Metrics: metricsSet,
			Logger:  logger,
			Version: version,
		}
		if store != nil {
			deps.Journal = store
		}
		srv := api.NewServer(deps)
		g.Go(func() error { return api.Serve(gctx, cfg.API.Addr, srv) })
	} else {
		logger.Info("api disabled")
	}

	if cfg.Trigger.Kafka.Enabled {
		trig := ingest.NewKafkaTrigger(cfg.Trigger.Kafka, p, logger)
		g.Go(func() error { return trig.Run(gctx) })
	}

	g.Go(func() error {
		return manager.Watch(gctx, func(next *config.Config) {
			logging.SetLevel(next.Logging.Level)
			p.SetInterval(next.Poller.Interval)
			monitor.UpdateConfig(next)
			logger.Info("config reloaded", "interval", next.Poller.Interval.String())
		}, func(err error) {
			logger.Warn("config reload failed", "error", err)
		})
	})

	err = g.Wait()
	logger.Info("vishwatch stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func addSinks(bus *events.Bus, cfg *config.Config, logger *slog.Logger) {
	if k := cfg.Events.Kafka; k.Enabled {
		sink, err := events.NewKafkaSink(k.Brokers, k.Topic)
		if err != nil {
			logger.Error("kafka sink disabled", "error", err)
		} else {
			bus.AddSink(sink)
			logger.Info("kafka sink enabled", "brokers", k.Brokers, "topic", k.Topic)
		}
	}
	if n := cfg.Events.NATS; n.Enabled {
		sink, err := events.NewNATSSink(n.URL, n.SubjectPrefix, logger)
		if err != nil {
			logger.Error("nats sink disabled", "error", err)
		} else {
			bus.AddSink(sink)
			logger.Info("nats sink enabled", "url", n.URL, "prefix", n.SubjectPrefix)
		}
	}
	if nc := cfg.Events.Notify; nc.Enabled {
		sink, err := events.NewNotifySink(nc.URLs, nc.Cooldown)
		if err != nil {
			logger.Error("notification sink disabled", "error", err)
		} else {
			bus.AddSink(sink)
			logger.Info("notification sink enabled", "services", len(nc.URLs), "cooldown", nc.Cooldown.String())
		}
	}
}
