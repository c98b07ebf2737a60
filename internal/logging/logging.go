// Package logging configures the process-global zerolog logger used
// throughout the gateway. Call Init once at startup; every package logs
// through github.com/rs/zerolog/log directly afterward, in the same style
// as the rest of the pack (short snake_case event names, structured
// fields via .Str/.Int/.Err, no format strings).
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init sets the global log level and writer. format is "json" for
// structured output (the default for production) or "console" for
// zerolog's human-readable ConsoleWriter (handy for local development).
func Init(level, format string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var w io.Writer = os.Stderr
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// ForRun returns a logger with run_id and thread_id bound to every event,
// for handlers that need to attribute a burst of log lines to one Run
// without threading a *zerolog.Logger through every call.
func ForRun(runID, threadID string) zerolog.Logger {
	return log.With().Str("run_id", runID).Str("thread_id", threadID).Logger()
}
