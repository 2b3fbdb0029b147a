// Package logging builds the zap logger used by the CLI and handed to the
// pool. The pool itself never constructs a logger; it logs through
// whatever it is given and defaults to a no-op.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options describe the logger to build.
type Options struct {
	// Level: debug, info, warn, error. Defaults to info.
	Level string

	// Format: console or json. Defaults to console.
	Format string

	// Outputs: stdout, stderr, or file paths. Defaults to stderr.
	Outputs []string

	// Rotate enables size-based rotation for file outputs.
	Rotate     bool
	MaxSizeMB  int
	MaxBackups int
}

// New constructs a zap.Logger from opts. The caller should defer Sync.
func New(opts Options) *zap.Logger {
	level := zap.NewAtomicLevel()
	switch strings.ToLower(opts.Level) {
	case "debug":
		level.SetLevel(zap.DebugLevel)
	case "warn", "warning":
		level.SetLevel(zap.WarnLevel)
	case "error":
		level.SetLevel(zap.ErrorLevel)
	default:
		level.SetLevel(zap.InfoLevel)
	}

	var encoder zapcore.Encoder
	if strings.ToLower(opts.Format) == "json" {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
	}

	outputs := opts.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	var cores []zapcore.Core
	for _, out := range outputs {
		cores = append(cores, zapcore.NewCore(encoder, sink(out, opts), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
}

func sink(out string, opts Options) zapcore.WriteSyncer {
	switch strings.ToLower(out) {
	case "stdout":
		return zapcore.AddSync(os.Stdout)
	case "stderr":
		return zapcore.AddSync(os.Stderr)
	}

	if opts.Rotate {
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   out,
			MaxSize:    defaultInt(opts.MaxSizeMB, 50),
			MaxBackups: defaultInt(opts.MaxBackups, 3),
			Compress:   true,
		})
	}

	f, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return zapcore.AddSync(os.Stderr)
	}
	return zapcore.AddSync(f)
}

func defaultInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
