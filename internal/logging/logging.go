// Package logging builds the zap loggers used by the CLI and the engine.
package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Verbosity levels for the -v flag count.
const (
	VerbosityQuiet = 0 // warnings and errors
	VerbosityInfo  = 1 // -v: run progress and summaries
	VerbosityDebug = 2 // -vv: per-asset failures and timings
)

// Standard field names for structured log entries.
const (
	FieldPath     = "path"
	FieldLayer    = "layer"
	FieldFamily   = "family"
	FieldKind     = "kind"
	FieldRunID    = "run_id"
	FieldDuration = "duration_ms"
	FieldCount    = "count"
	FieldError    = "error"
)

// Options configures New.
type Options struct {
	Verbosity int
	JSON      bool
	// Output defaults to stderr so stdout stays free for reports.
	Output io.Writer
}

// VerbosityToLevel maps a -v count to a zap level:
//
//	0     -> warn
//	1     -> info
//	2+    -> debug
func VerbosityToLevel(verbosity int) zapcore.Level {
	switch {
	case verbosity <= VerbosityQuiet:
		return zapcore.WarnLevel
	case verbosity == VerbosityInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// New builds a sugared logger writing JSON or console lines to opts.Output.
func New(opts Options) *zap.SugaredLogger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var encoder zapcore.Encoder
	if opts.JSON {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		cfg.EncodeCaller = nil
		cfg.CallerKey = ""
		encoder = zapcore.NewConsoleEncoder(cfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(out), VerbosityToLevel(opts.Verbosity))
	return zap.New(core).Sugar()
}

// Nop returns a logger that discards everything. Library constructors fall
// back to it when no logger is supplied.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return Nop()
	}
	return l
}
