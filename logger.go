package auth

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LoggerOptions controls the zerolog backed logger
type LoggerOptions struct {
	// Level is one of trace, debug, info, warn, error. Defaults to info.
	Level string
	// Pretty enables console output instead of JSON
	Pretty bool
	// Output defaults to os.Stdout
	Output io.Writer
	// Name is added to every entry as "logger"
	Name string
}

type zerologLogger struct {
	log zerolog.Logger
}

// NewLogger returns a Logger backed by zerolog
func NewLogger(opts LoggerOptions) Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(out).
		Level(parseLevel(opts.Level)).
		With().
		Timestamp()

	if opts.Name != "" {
		ctx = ctx.Str("logger", opts.Name)
	}

	return &zerologLogger{log: ctx.Logger()}
}

// NewZerologLogger wraps an existing zerolog logger
func NewZerologLogger(l zerolog.Logger) Logger {
	return &zerologLogger{log: l}
}

func (z *zerologLogger) Debug(format string, args ...any) {
	z.emit(z.log.Debug(), format, args)
}

func (z *zerologLogger) Info(format string, args ...any) {
	z.emit(z.log.Info(), format, args)
}

func (z *zerologLogger) Warn(format string, args ...any) {
	z.emit(z.log.Warn(), format, args)
}

func (z *zerologLogger) Error(format string, args ...any) {
	z.emit(z.log.Error(), format, args)
}

func (z *zerologLogger) emit(evt *zerolog.Event, format string, args []any) {
	if evt == nil {
		return
	}

	if strings.Contains(format, "%") {
		evt.Msgf(format, args...)
		return
	}

	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if i+1 >= len(args) {
			evt.Interface("extra", args[i])
			break
		}
		switch v := args[i+1].(type) {
		case error:
			evt.AnErr(key, v)
		case string:
			evt.Str(key, v)
		default:
			evt.Interface(key, v)
		}
	}
	evt.Msg(format)
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// nopLogger discards everything, used when callers pass a nil Logger
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}
