// Package logging builds the zerolog logger used by the command line.
//
// Verbosity is controlled by the configured log level and two flags:
//
//   - --verbose: info and above
//   - --debug: everything, including debug events
//
// Core packages never log secret values; they receive a logger through
// their options and stay silent when none is given.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options selects the output and level of a logger.
type Options struct {
	// Level is a zerolog level name; empty means warn
	Level   string
	Verbose bool
	Debug   bool
	// JSON switches from the human console format to JSON lines
	JSON bool
}

// ResolveLevel applies the flag overrides to the configured level.
func ResolveLevel(opts Options) zerolog.Level {
	switch {
	case opts.Debug:
		return zerolog.DebugLevel
	case opts.Verbose:
		return zerolog.InfoLevel
	}
	if opts.Level == "" {
		return zerolog.WarnLevel
	}
	lvl, err := zerolog.ParseLevel(opts.Level)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.WarnLevel
	}
	return lvl
}

// New returns a logger writing to w. It also becomes the global
// zerolog/log logger for code that logs without an injected logger.
func New(w io.Writer, opts Options) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	out := w
	if !opts.JSON {
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.TimeOnly,
			NoColor:    color.NoColor,
		}
	}

	logger := zerolog.New(out).Level(ResolveLevel(opts)).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}
