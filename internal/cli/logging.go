package cli

import (
	"os"
	"strings"

	"github.com/GabrielNunesIT/go-libs/logger"
)

// SetupLogging builds the process logger from the --log-level flag. Logs go
// to stderr so stdout stays clean for the stdout sink's batch output.
// Unknown level names fall back to info.
func SetupLogging(level string) logger.ILogger {
	log := logger.NewConsoleLogger(os.Stderr)

	switch strings.ToLower(level) {
	case "trace":
		log.SetLevel(logger.LevelTrace)
	case "debug":
		log.SetLevel(logger.LevelDebug)
	case "warn", "warning":
		log.SetLevel(logger.LevelWarning)
	case "error":
		log.SetLevel(logger.LevelError)
	default:
		log.SetLevel(logger.LevelInfo)
	}

	// Code that pulls a logger from context gets this one as fallback.
	logger.SetDefaultLogger(log)
	logger.SetCtxFallbackLogger(log)

	return log
}
