package common

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"

	"github.com/jobmatch-ai/pipeline/internal/config"
	"github.com/jobmatch-ai/pipeline/internal/logging"
)

// PrintBanner displays the application startup banner.
func PrintBanner(cfg *config.Config, logger arbor.ILogger) {
	version := GetVersion()
	build := GetBuild()

	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorGreen).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(80)

	fmt.Printf("\n")
	b.PrintTopLine()
	b.PrintCenteredText("JOBMATCH")
	b.PrintCenteredText("Personalized Job-Matching Pipeline")
	b.PrintSeparatorLine()
	b.PrintKeyValue("Version", version, 15)
	b.PrintKeyValue("Build", build, 15)
	b.PrintKeyValue("Environment", cfg.Environment, 15)
	b.PrintKeyValue("Mode", modeDescription(cfg), 15)
	b.PrintBottomLine()
	fmt.Printf("\n")

	logger.Info().
		Str("version", version).
		Str("build", build).
		Str("environment", cfg.Environment).
		Bool("matching_enabled", cfg.Matching.Enabled).
		Bool("notifications_enabled", cfg.Notifications.Enabled).
		Int("scrapers", len(cfg.Scrapers)).
		Msg("application started")

	printCapabilities(cfg, logger)
}

func modeDescription(cfg *config.Config) string {
	if cfg.Matching.Enabled {
		return "etl + matching"
	}
	return "etl only"
}

func printCapabilities(cfg *config.Config, logger arbor.ILogger) {
	fmt.Printf("Enabled features:\n")
	fmt.Printf("  - ETL: jobspy scraper ingest, LLM requirement/facet extraction, embeddings\n")
	if cfg.Matching.Enabled {
		fmt.Printf("  - Matching: vector retrieval + fit/want scoring against %s\n", shortOrUnset(cfg.ETL.Resume.ResumeFile))
	} else {
		fmt.Printf("  - Matching: disabled\n")
	}
	if cfg.Notifications.Enabled {
		channels := make([]string, 0, len(cfg.Notifications.Channels))
		for name, ch := range cfg.Notifications.Channels {
			if ch.Enabled {
				channels = append(channels, name)
			}
		}
		fmt.Printf("  - Notifications: enabled (%d channel(s))\n", len(channels))
		logger.Info().Strs("notification_channels", channels).Msg("notification channels configured")
	} else {
		fmt.Printf("  - Notifications: disabled\n")
	}
	fmt.Printf("\n")
}

func shortOrUnset(s string) string {
	if s == "" {
		return "(no resume configured)"
	}
	return s
}

// PrintShutdownBanner displays the application shutdown banner.
func PrintShutdownBanner(logger arbor.ILogger) {
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorGreen).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(42)

	b.PrintTopLine()
	b.PrintCenteredText("SHUTTING DOWN")
	b.PrintCenteredText("JOBMATCH")
	b.PrintBottomLine()
	fmt.Println()

	logger.Info().Msg("application shutting down")
}

// PrintColorizedMessage prints a message with the given color. It does not
// log; the logger argument is unused.
func PrintColorizedMessage(color, message string, logger arbor.ILogger) {
	fmt.Printf("%s%s%s\n", color, message, banner.ColorReset)
}

// PrintSuccess prints and logs a success message.
func PrintSuccess(message string) {
	logger := logging.GetLogger()
	PrintColorizedMessage(banner.ColorGreen, fmt.Sprintf("[ok] %s", message), logger)
	logger.Info().Str("type", "success").Msg(message)
}

// PrintError prints and logs an error message.
func PrintError(message string) {
	logger := logging.GetLogger()
	PrintColorizedMessage(banner.ColorRed, fmt.Sprintf("[error] %s", message), logger)
	logger.Error().Str("type", "error").Msg(message)
}

// PrintWarning prints and logs a warning message.
func PrintWarning(message string) {
	logger := logging.GetLogger()
	PrintColorizedMessage(banner.ColorYellow, fmt.Sprintf("[warn] %s", message), logger)
	logger.Warn().Str("type", "warning").Msg(message)
}

// PrintInfo prints and logs an info message.
func PrintInfo(message string) {
	logger := logging.GetLogger()
	PrintColorizedMessage(banner.ColorCyan, fmt.Sprintf("[info] %s", message), logger)
	logger.Info().Str("type", "info").Msg(message)
}
