// Command forgecore runs the capability-versioned plugin module runtime.
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
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"forgecore/internal/adminapi"
	"forgecore/internal/home"
	"forgecore/internal/logging"
	"forgecore/internal/metrics"
	"forgecore/internal/moduleload"
	"forgecore/internal/runtime"
)

var version = "dev"

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:   "forgecore",
		Short: "Capability-versioned plugin module runtime",
	}

	rootCmd.PersistentFlags().String("module-dir", "", "directory containing module manifests (default: platform config dir)")
	rootCmd.PersistentFlags().String("storage-dir", "", "per-module key/value storage directory (default: <module-dir>/_storage, or the platform config dir's storage folder when --module-dir is unset)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Load every module, enable it, and serve the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			moduleDir, _ := cmd.Flags().GetString("module-dir")
			storageDir, _ := cmd.Flags().GetString("storage-dir")
			addr, _ := cmd.Flags().GetString("addr")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return run(ctx, logger, moduleDir, storageDir, addr)
		},
	}
	runCmd.Flags().String("addr", ":4570", "admin API listen address (host:port)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(runCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, moduleDir, storageDir, addr string) error {
	if moduleDir == "" {
		hd, err := home.Default("forgecore")
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		if err := hd.EnsureExists(); err != nil {
			return err
		}
		moduleDir = hd.ModuleDir()
		if storageDir == "" {
			storageDir = hd.StorageDir()
		}
		logger.Info("home directory", "path", hd.Root())
	}

	rt := runtime.New(runtime.Config{
		ModuleDir:    moduleDir,
		StorageDir:   storageDir,
		Constructors: builtinConstructors(),
		Logger:       logger,
	})

	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}
	defer func() {
		if err := rt.Stop(); err != nil {
			logger.Error("runtime stop failed", "error", err)
		}
	}()

	admin := adminapi.New(adminapi.Config{Addr: addr, Runtime: rt, Logger: logger})

	metricsSrv := &http.Server{Addr: ":9470", Handler: metricsMux(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("metrics server listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	return admin.Run(ctx)
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// builtinConstructors returns the module entry points this build knows
// how to construct. Real deployments register one constructor per
// compiled-in module; none ship built into the runtime itself.
func builtinConstructors() map[string]moduleload.Constructor {
	return map[string]moduleload.Constructor{}
}
