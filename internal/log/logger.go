package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger. Production writes JSON lines; other
// environments get the console writer.
func New(environment, level, service string) zerolog.Logger {
	return newWithWriter(os.Stdout, environment, level, service)
}

func newWithWriter(w io.Writer, environment, level, service string) zerolog.Logger {
	if environment != "production" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	zerolog.SetGlobalLevel(parseLevel(environment, level))

	return zerolog.New(w).With().
		Timestamp().
		Str("env", environment).
		Str("service", service).
		Logger()
}

func parseLevel(environment, level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "", "info":
		if environment == "development" {
			return zerolog.DebugLevel
		}
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}
