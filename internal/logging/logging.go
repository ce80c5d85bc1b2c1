// Package logging builds the process-wide zap logger. Constructed once at
// startup and passed into constructors; there are no package-level loggers.
package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the log level and an optional file sink. Quiet wins over
// the verbosity flags.
type Options struct {
	Debug   bool
	Verbose bool
	Quiet   bool

	// File, when set, receives a copy of every entry.
	File string
}

func (o Options) level() zapcore.Level {
	switch {
	case o.Quiet:
		return zap.ErrorLevel
	case o.Debug || o.Verbose:
		return zap.DebugLevel
	default:
		return zap.InfoLevel
	}
}

// New builds a production JSON logger writing to stderr, teed to a file
// when Options.File is set. Stdout stays free for command output.
func New(opts Options) (*zap.Logger, error) {
	level := opts.level()

	if opts.File == "" {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return cfg.Build()
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(os.Stderr), level),
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(file), level),
	)
	return zap.New(core), nil
}
