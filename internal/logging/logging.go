// Package logging builds the recorder's zap logger: a human-readable console
// core plus a JSON file core that always records debug output.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	// Verbose lowers the console level from info to debug.
	Verbose bool
	// File is the JSON log file path. Empty disables file logging.
	File string
	// Console receives human-readable output. Nil disables the console core,
	// which the TUI uses to keep the terminal clean.
	Console io.Writer
}

// New returns a sugared logger and a close function that syncs and closes
// the log file.
func New(opts Options) (*zap.SugaredLogger, func(), error) {
	var cores []zapcore.Core
	closeFn := func() {}

	if opts.Console != nil {
		level := zapcore.InfoLevel
		if opts.Verbose {
			level = zapcore.DebugLevel
		}
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(zapcore.AddSync(opts.Console)),
			level,
		))
	}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, nil, fmt.Errorf("logging: create log dir: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: open %s: %w", opts.File, err)
		}
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encCfg),
			zapcore.AddSync(f),
			zapcore.DebugLevel,
		))
		closeFn = func() { _ = f.Close() }
	}

	if len(cores) == 0 {
		return zap.NewNop().Sugar(), closeFn, nil
	}

	logger := zap.New(zapcore.NewTee(cores...)).Sugar()
	return logger, func() {
		_ = logger.Sync()
		closeFn()
	}, nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return zap.NewNop().Sugar()
	}
	return l
}
