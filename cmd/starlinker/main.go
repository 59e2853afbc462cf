// Command starlinker runs the Star Citizen news ingest, alert, and
// digest backend.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"forgecore/internal/alerts"
	"forgecore/internal/digest"
	"forgecore/internal/home"
	"forgecore/internal/ingest"
	"forgecore/internal/ingest/patchnotes"
	"forgecore/internal/logging"
	"forgecore/internal/newsapi"
	"forgecore/internal/scheduler"
	"forgecore/internal/settings"
	"forgecore/internal/signalstore"
)

var version = "dev"

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:   "starlinker",
		Short: "Star Citizen news ingest, alert, and digest backend",
	}
	rootCmd.PersistentFlags().String("db", "", "path to the SQLite signal store (default: platform config dir)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start ingest scheduling and the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, _ := cmd.Flags().GetString("db")
			addr, _ := cmd.Flags().GetString("addr")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return run(ctx, logger, dbPath, addr)
		},
	}
	serveCmd.Flags().String("addr", ":4580", "admin API listen address (host:port)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(serveCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, dbPath, addr string) error {
	if dbPath == "" {
		hd, err := home.Default("starlinker")
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		if err := hd.EnsureExists(); err != nil {
			return err
		}
		dbPath = hd.DatabasePath("starlinker.db")
		logger.Info("home directory", "path", hd.Root())
	}

	store, err := signalstore.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open signal store: %w", err)
	}
	defer store.Close()

	settingsRepo := settings.New(settings.RepositoryConfig{Store: store})
	cfg, err := settingsRepo.Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	ingestMgr := ingest.New(ingest.ManagerConfig{Store: store, Logger: logger})
	ingestMgr.RegisterModule(patchnotes.New())

	alertsSvc := alerts.New(alerts.ServiceConfig{Store: store, Logger: logger})
	digestSvc := digest.New(digest.ServiceConfig{Store: store, Logger: logger})

	sched := scheduler.New(scheduler.SchedulerConfig{
		Logger: logger,
		RunPoll: func(ctx context.Context, reason string, triggeredAt time.Time) error {
			c, err := settingsRepo.Load()
			if err != nil {
				return err
			}
			_, err = ingestMgr.RunPoll(ctx, c.IngestConfig(), reason, triggeredAt)
			return err
		},
		RunAlerts: func(ctx context.Context, triggeredAt time.Time) error {
			c, err := settingsRepo.Load()
			if err != nil {
				return err
			}
			_, err = alertsSvc.Run(ctx, c.AlertsConfig(), triggeredAt)
			return err
		},
		RunDigest: func(ctx context.Context, digestType string, triggeredAt time.Time) error {
			c, err := settingsRepo.Load()
			if err != nil {
				return err
			}
			t, err := digest.ParseType(digestType)
			if err != nil {
				return err
			}
			digestCfg := digest.Config{Timezone: c.Timezone, DiscordWebhook: c.Outputs.DiscordWebhook, EmailTo: c.Outputs.EmailTo}
			_, err = digestSvc.RunDigest(ctx, t, digestCfg, triggeredAt)
			return err
		},
	})

	schedCfg := scheduler.Config{
		PriorityPollMinutes: cfg.Schedule.PriorityPollMinutes,
		StandardPollHours:   cfg.Schedule.StandardPollHours,
		DigestDaily:         cfg.Schedule.DigestDaily,
		DigestWeekly:        cfg.Schedule.DigestWeekly,
		Timezone:            cfg.Timezone,
	}
	if err := sched.Start(schedCfg); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer func() {
		if err := sched.Stop(); err != nil {
			logger.Error("scheduler stop failed", "error", err)
		}
	}()

	api := newsapi.New(newsapi.Config{
		Addr:      addr,
		Store:     store,
		Settings:  settingsRepo,
		Ingest:    ingestMgr,
		Alerts:    alertsSvc,
		Digest:    digestSvc,
		Scheduler: sched,
		Logger:    logger,
	})

	return api.Run(ctx)
}
