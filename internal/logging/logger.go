// Package logging is the minimal logging interface used across goverticle,
// with a zerolog adapter behind it.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger takes a message plus alternating key-value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Format selects the output encoding.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// ZerologAdapter wraps zerolog.Logger to implement Logger.
type ZerologAdapter struct {
	z zerolog.Logger
}

// NewZerologAdapter creates a Logger from an existing zerolog.Logger.
func NewZerologAdapter(z zerolog.Logger) Logger {
	return &ZerologAdapter{z: z}
}

func (a *ZerologAdapter) Debug(msg string, args ...any) { a.z.Debug().Fields(args).Msg(msg) }
func (a *ZerologAdapter) Info(msg string, args ...any)  { a.z.Info().Fields(args).Msg(msg) }
func (a *ZerologAdapter) Warn(msg string, args ...any)  { a.z.Warn().Fields(args).Msg(msg) }
func (a *ZerologAdapter) Error(msg string, args ...any) { a.z.Error().Fields(args).Msg(msg) }

// New builds a zerolog-backed Logger writing to w. An empty level means info.
func New(w io.Writer, level string, format Format) (Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	lvl := zerolog.InfoLevel
	if level != "" {
		var err error
		lvl, err = zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	switch format {
	case FormatJSON:
	case FormatConsole, "":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}

	z := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return NewZerologAdapter(z), nil
}

type noop struct{}

func (noop) Debug(string, ...any) {}
func (noop) Info(string, ...any)  {}
func (noop) Warn(string, ...any)  {}
func (noop) Error(string, ...any) {}

// NoOp discards everything.
func NoOp() Logger { return noop{} }
