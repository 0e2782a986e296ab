// Package testutil holds small helpers shared across package tests.
package testutil

import (
	"io"

	"github.com/GabrielNunesIT/go-libs/logger"
)

// NewTestLogger returns a logger whose output goes nowhere. Pipeline tests
// assert on sink output and returned results, never on log lines.
func NewTestLogger() logger.ILogger {
	return logger.NewConsoleLogger(io.Discard)
}
