// Package logging configures the global zerolog logger and emits the
// structured startup summary.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global logger. level is one of trace, debug, info,
// warn, error (default info). format "json" writes raw JSON lines for log
// aggregation (CloudWatch); anything else uses the console writer on stderr.
func Init(level, format string) {
	InitTo(os.Stderr, level, format)
}

// InitTo is Init with an explicit destination.
func InitTo(out io.Writer, level, format string) {
	zerolog.SetGlobalLevel(ParseLevel(level))

	if format == "json" {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: out})
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
