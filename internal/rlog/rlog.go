// Package rlog is the structured logger used throughout reprise. It
// wraps zerolog so subsystems log with structured key/value fields
// (callers tag their logger with a "component" field) instead of ad
// hoc fmt.Printf calls.
package rlog

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
)

// SetDebug raises the global level to debug, the effect of -d/--debug.
func SetDebug(debug bool) {
	mu.Lock()
	defer mu.Unlock()
	if debug {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}
}

// SetQuiet raises the global level to warn, the effect of -q/--quiet.
func SetQuiet(quiet bool) {
	mu.Lock()
	defer mu.Unlock()
	if quiet {
		log = log.Level(zerolog.WarnLevel)
	}
}

// SetOutput redirects the logger's writer; nothing in the module calls
// it at present, so logs always go to stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	log = log.Output(w)
}

// Logger is a thin facade over zerolog.Logger carrying the context
// fields given to With so call sites don't repeat them.
type Logger struct {
	ctx zerolog.Context
}

// With returns the package logger scoped with the given key/value pairs.
func With(kv ...string) Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	c := l.With()
	for i := 0; i+1 < len(kv); i += 2 {
		c = c.Str(kv[i], kv[i+1])
	}
	return Logger{ctx: c}
}

func (l Logger) logger() zerolog.Logger { return l.ctx.Logger() }

func (l Logger) Debug(msg string)            { l.logger().Debug().Msg(msg) }
func (l Logger) Info(msg string)             { l.logger().Info().Msg(msg) }
func (l Logger) Warn(msg string)             { l.logger().Warn().Msg(msg) }
func (l Logger) Error(msg string, err error) { l.logger().Error().Err(err).Msg(msg) }

func (l Logger) Debugf(format string, args ...any) { l.logger().Debug().Msgf(format, args...) }
func (l Logger) Infof(format string, args ...any)  { l.logger().Info().Msgf(format, args...) }
func (l Logger) Warnf(format string, args ...any)  { l.logger().Warn().Msgf(format, args...) }

// Global returns a root logger with no extra fields.
func Global() Logger { return With() }
