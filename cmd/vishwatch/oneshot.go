package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/spf13/cobra"

	"vishwatch/internal/aggregate"
	"vishwatch/internal/alerts"
	"vishwatch/internal/config"
	"vishwatch/internal/engine"
	"vishwatch/internal/feed"
	"vishwatch/internal/logging"
	"vishwatch/internal/model"
	"vishwatch/internal/normalize"
	"vishwatch/internal/poller"
)

func newFeedClient(cfg *config.Config) *feed.Client {
	return feed.New(feed.Options{
		BaseURL:    cfg.Feed.BaseURL,
		Timeout:    cfg.Feed.Timeout,
		Token:      cfg.Feed.Token,
		Timezone:   cfg.Feed.Timezone,
		SummaryTTL: cfg.Feed.SummaryTTL,
	}, nil)
}

func newPollCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Fetch the feed once and print what detection would do",
		Long: "Fetch the feed once and run detection. Without alert_on_cold_start the first " +
			"snapshot only establishes the watermark, so no alert is raised.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, err := loadConfig(opts)
			if err != nil {
				return err
			}
			cfg := manager.Get()
			logging.SetLevel(cfg.Logging.Level)
			monitor := engine.NewMonitor(cfg, nil, nil, alerts.NewStore(cfg.Alerts.StoreLimit), nil)
			p := poller.New(newFeedClient(cfg), monitor, poller.Options{Timeout: cfg.Feed.Timeout})
			defer p.Stop()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Feed.Timeout+time.Second)
			defer cancel()
			cycle, err := p.RunOnce(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"cycle":    cycle,
				"baseline": cycle.Calls > 0 && !cfg.Poller.AlertOnColdStart,
				"alerts":   monitor.Alerts().List(0),
			})
		},
	}
}

func newSummaryCmd(opts *rootOptions) *cobra.Command {
	var status, start, end string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Fetch the feed once and print dashboard statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, err := loadConfig(opts)
			if err != nil {
				return err
			}
			cfg := manager.Get()
			client := newFeedClient(cfg)
			spec := model.FilterSpec{Status: string(normalize.ParseStatus(status))}
			if spec.StartDate, err = normalize.ParseDateBound(start, false, client.Location()); err != nil {
				return err
			}
			if spec.EndDate, err = normalize.ParseDateBound(end, true, client.Location()); err != nil {
				return err
			}
			calls, err := client.Fetch(cmd.Context(), spec)
			if err != nil && !feed.IsValidation(err) {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), aggregate.Summarize(calls))
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only count calls with this status")
	cmd.Flags().StringVar(&start, "start-date", "", "inclusive start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end-date", "", "inclusive end date (YYYY-MM-DD)")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
