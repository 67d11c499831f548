// Package logger provides a configured zerolog logger.
package logger

import (
	"io"
	"os"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	zpkgerrors "github.com/rs/zerolog/pkgerrors"
)

// Options tunes the logger. The zero value logs JSON at info level to stdout.
type Options struct {
	// Level is a zerolog level name; unknown or empty means info.
	Level string
	// Pretty switches to the human-readable console writer.
	Pretty bool
	Out    io.Writer
}

// New returns a JSON logger for serviceName at info level.
// Call sites should use .Stack() on error events to include stacks.
func New(serviceName string) zerolog.Logger {
	return NewWithOptions(serviceName, Options{})
}

// NewWithOptions returns a logger for serviceName configured by opts.
func NewWithOptions(serviceName string, opts Options) zerolog.Logger {
	// Ensure a stack is present even for std errors when .Stack() is used
	zerolog.ErrorStackMarshaler = func(err error) interface{} {
		type stackTracer interface{ StackTrace() pkgerrors.StackTrace }
		if _, ok := err.(stackTracer); !ok {
			err = pkgerrors.WithStack(err)
		}
		return zpkgerrors.MarshalStack(err)
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	return zerolog.New(out).Level(level).With().
		Str("service", serviceName).
		Timestamp().
		Logger()
}
