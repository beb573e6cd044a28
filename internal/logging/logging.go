// Package logging configures the process-wide zerolog logger.
package logging

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel   = "CAVERN_LOG_LEVEL"
	EnvLogNoColor = "CAVERN_LOG_NOCOLOR"
)

// Init builds the application logger and installs it as the global one.
// Environment variables override the configured level and color settings.
func Init(app, level string, noColor bool) zerolog.Logger {
	if env := os.Getenv(EnvLogLevel); env != "" {
		level = env
	}
	if env := os.Getenv(EnvLogNoColor); env != "" {
		if v, err := strconv.ParseBool(env); err == nil {
			noColor = v
		}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		NoColor:    noColor,
	}
	logger := zerolog.New(output).Level(lvl).With().
		Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// Discard returns a logger that drops everything, for tests.
func Discard() zerolog.Logger {
	return zerolog.Nop()
}
