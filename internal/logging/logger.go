// Package logging wires the arbor structured logger from a loaded Config,
// exposing a process-wide singleton the way the teacher's
// internal/common/logger.go does.
package logging

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
	arborcommon "github.com/ternarybob/arbor/common"
	"github.com/ternarybob/arbor/models"

	"github.com/jobmatch-ai/pipeline/internal/config"
)

var (
	globalLogger arbor.ILogger
	loggerMutex  sync.RWMutex
)

// GetLogger returns the global logger, falling back to a bare console
// logger (with a warning) if Setup hasn't run yet.
func GetLogger() arbor.ILogger {
	loggerMutex.RLock()
	if globalLogger != nil {
		defer loggerMutex.RUnlock()
		return globalLogger
	}
	loggerMutex.RUnlock()

	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	if globalLogger == nil {
		globalLogger = arbor.NewLogger().WithConsoleWriter(writerConfig(nil, models.LogWriterTypeConsole, ""))
		globalLogger.Warn().Msg("using fallback logger - logging.Setup should be called during startup")
	}
	return globalLogger
}

// Init stores logger as the global singleton, for callers (tests, cmd) that
// construct one directly.
func Init(logger arbor.ILogger) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	globalLogger = logger
}

// Setup configures arbor from cfg.Logging and installs it as the global
// singleton, mirroring the teacher's SetupLogger: console/file writers
// picked from cfg.Logging.Output, a memory writer always on for diagnostics.
func Setup(cfg *config.Config) arbor.ILogger {
	logger := arbor.NewLogger()

	execPath, err := os.Executable()
	if err != nil {
		logger = logger.WithConsoleWriter(writerConfig(cfg, models.LogWriterTypeConsole, ""))
		logger.Warn().Err(err).Msg("failed to get executable path - using fallback console logging")
	} else {
		logsDir := filepath.Join(filepath.Dir(execPath), "logs")

		hasFile, hasConsole := false, false
		for _, o := range cfg.Logging.Output {
			switch o {
			case "file":
				hasFile = true
			case "stdout", "console":
				hasConsole = true
			}
		}

		if hasFile {
			if err := os.MkdirAll(logsDir, 0o755); err != nil {
				logger.WithConsoleWriter(writerConfig(cfg, models.LogWriterTypeConsole, "")).
					Warn().Err(err).Str("logs_dir", logsDir).Msg("failed to create logs directory")
			} else {
				logFile := filepath.Join(logsDir, "jobmatch.log")
				logger = logger.WithFileWriter(writerConfig(cfg, models.LogWriterTypeFile, logFile))
			}
		}
		if hasConsole {
			logger = logger.WithConsoleWriter(writerConfig(cfg, models.LogWriterTypeConsole, ""))
		}
		if !hasFile && !hasConsole {
			logger = logger.WithConsoleWriter(writerConfig(cfg, models.LogWriterTypeConsole, ""))
			logger.Warn().Strs("configured_outputs", cfg.Logging.Output).Msg("no visible log outputs configured - falling back to console")
		}
	}

	logger = logger.WithMemoryWriter(writerConfig(cfg, models.LogWriterTypeMemory, ""))
	logger = logger.WithLevelFromString(cfg.Logging.Level)

	Init(logger)
	return logger
}

func writerConfig(cfg *config.Config, writerType models.LogWriterType, filename string) models.WriterConfiguration {
	timeFormat := "15:04:05.000"
	if cfg != nil && cfg.Logging.TimeFormat != "" {
		timeFormat = cfg.Logging.TimeFormat
	}
	return models.WriterConfiguration{
		Type:             writerType,
		FileName:         filename,
		TimeFormat:       timeFormat,
		DisableTimestamp: false,
		MaxSize:          100 * 1024 * 1024,
		MaxBackups:       3,
	}
}

// Stop flushes any remaining context logs before shutdown. Safe to call
// multiple times.
func Stop() {
	arborcommon.Stop()
}
