package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"github.com/jobmatch-ai/pipeline/internal/app"
	"github.com/jobmatch-ai/pipeline/internal/common"
	"github.com/jobmatch-ai/pipeline/internal/config"
	"github.com/jobmatch-ai/pipeline/internal/httpapi"
	"github.com/jobmatch-ai/pipeline/internal/logging"
	"github.com/jobmatch-ai/pipeline/internal/orchestrator"
)

var (
	configFiles configPaths
	runMode     string
	runOnce     bool
	runServe    bool
	runAddr     string
)

// configPaths allows multiple --config flags, later files overriding earlier.
type configPaths []string

func (c *configPaths) String() string     { return fmt.Sprintf("%v", *c) }
func (c *configPaths) Type() string       { return "stringSlice" }
func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the job-matching pipeline (gather, extract, embed, match, notify)",
	RunE:  runPipeline,
}

func init() {
	runCmd.Flags().Var(&configFiles, "config", "Configuration file path (repeatable; later files override earlier ones)")
	runCmd.Flags().StringVar(&runMode, "mode", string(orchestrator.ModeAll), "Pipeline mode: all|etl|matching")
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Run a single cycle and exit instead of looping on schedule.interval_seconds")
	runCmd.Flags().BoolVar(&runServe, "serve", false, "Also start the web-triggered cycle endpoint (§6 POST /v1/cycles)")
	runCmd.Flags().StringVar(&runAddr, "addr", ":8090", "Listen address for --serve")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	mode := orchestrator.Mode(runMode)
	switch mode {
	case orchestrator.ModeAll, orchestrator.ModeETL, orchestrator.ModeMatching:
	default:
		return fmt.Errorf("invalid --mode %q: must be one of all, etl, matching", runMode)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.Setup(cfg)
	defer logging.Stop()

	common.InstallCrashHandler("./logs")
	defer common.RecoverWithCrashFile()

	common.PrintBanner(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	common.SafeGo(logger, "signal-watcher", func() {
		<-sigCh
		logger.Info().Msg("shutdown signal received, cancelling in-flight cycle")
		cancel()
	})

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer application.Close()

	var apiServer *httpapi.Server
	if runServe {
		apiServer = httpapi.New(runAddr, application.Orchestrator, logger)
		common.SafeGo(logger, "httpapi-server", func() {
			if err := apiServer.Start(); err != nil {
				logger.Warn().Err(err).Msg("httpapi server stopped")
			}
		})
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			_ = apiServer.Shutdown(shutdownCtx)
		}()
	}

	if runOnce {
		return runSingleCycle(ctx, application.Orchestrator, mode, logger)
	}
	return runLoop(ctx, application.Orchestrator, mode, cfg, logger)
}

func runSingleCycle(ctx context.Context, orch *orchestrator.Orchestrator, mode orchestrator.Mode, logger arbor.ILogger) error {
	if err := orch.RunCycle(ctx, mode); err != nil {
		logger.Error().Err(err).Msg("pipeline cycle failed")
		return err
	}
	return nil
}

// runLoop repeats RunCycle every schedule.interval_seconds until cancelled,
// the daemon behavior §6's schedule.interval_seconds configures. A single
// cycle failing is logged and does not stop subsequent cycles; only
// cancellation (signal or --serve shutdown) ends the loop.
func runLoop(ctx context.Context, orch *orchestrator.Orchestrator, mode orchestrator.Mode, cfg *config.Config, logger arbor.ILogger) error {
	interval := time.Duration(cfg.Schedule.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}

	for {
		if err := orch.RunCycle(ctx, mode); err != nil {
			if ctx.Err() != nil {
				logger.Info().Msg("pipeline loop stopped")
				return nil
			}
			logger.Error().Err(err).Msg("pipeline cycle failed, will retry on next interval")
		}

		select {
		case <-ctx.Done():
			logger.Info().Msg("pipeline loop stopped")
			return nil
		case <-time.After(interval):
		}
	}
}

func loadConfig() (*config.Config, error) {
	if len(configFiles) == 0 {
		if _, err := os.Stat("jobmatch.toml"); err == nil {
			configFiles = append(configFiles, "jobmatch.toml")
		}
	}
	return config.LoadFromFiles(configFiles...)
}
