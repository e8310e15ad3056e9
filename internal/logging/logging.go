// Package logging owns process-wide structured logging setup. It is the
// only place in the module that touches zerolog's global state, matching
// the "global log guard held for process lifetime" ambient concern: the
// dosing core never logs from inside a hot loop, so the guard lives here
// and at the CLI boundary, not in pkg/dosing.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors zerolog's level names so callers don't need to import
// zerolog directly just to pick a verbosity.
type Level = zerolog.Level

const (
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

// Init builds the process-wide logger, writing human-readable console
// output to w when pretty is true (TTY use), or raw JSON lines otherwise
// (for piping into log aggregation). It also sets zerolog's global level,
// which every derived logger inherits.
func Init(w io.Writer, level Level, pretty bool) zerolog.Logger {
	zerolog.SetGlobalLevel(level)
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// Default returns a logger writing pretty console output to stderr at
// info level, for callers (tests, one-off tools) that don't need custom
// wiring.
func Default() zerolog.Logger {
	return Init(os.Stderr, LevelInfo, true)
}

// ParseLevel maps a CLI/environment level name to a Level, defaulting to
// Info on an unrecognized value rather than failing the run over a typo in
// a log-verbosity flag.
func ParseLevel(name string) Level {
	lvl, err := zerolog.ParseLevel(name)
	if err != nil {
		return LevelInfo
	}
	return lvl
}
