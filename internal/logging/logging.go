// Package logging configures the process-wide apex/log logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/apex/log"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"
)

// Setup configures the default apex/log logger and returns it.
// The level parameter accepts: "debug", "info", "warn", "error" (case-insensitive).
// Defaults to info if the level string is unrecognized. format is "text" or "json".
func Setup(level, format string) *log.Logger {
	return SetupWriter(os.Stderr, level, format)
}

// SetupWriter is Setup with an explicit output.
func SetupWriter(w io.Writer, level, format string) *log.Logger {
	var handler log.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		handler = json.New(w)
	default:
		handler = text.New(w)
	}

	logger := &log.Logger{
		Handler: handler,
		Level:   ParseLevel(level),
	}
	log.Log = logger
	return logger
}

// ParseLevel maps a level name to an apex/log level.
func ParseLevel(level string) log.Level {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}
