// Package logger builds the zap logger shared by the engine and the CLI.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/shibukawa/sqlconvention"
)

// Options selects level, encoding and destination.
type Options struct {
	Level  string
	Format string
	// File, when set, receives the log through a rotating writer instead of Output.
	File   string
	Output io.Writer
}

// FromConfig maps the log section of the configuration to Options.
func FromConfig(cfg sqlconvention.LogConfig) Options {
	return Options{Level: cfg.Level, Format: cfg.Format, File: cfg.File}
}

// ParseLevel accepts zap level names case-insensitively. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zapcore.InfoLevel, nil
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level '%s': %w", s, err)
	}

	return level, nil
}

// New creates a logger from opts.
func New(opts Options) (*zap.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var encoder zapcore.Encoder

	switch opts.Format {
	case "", "console":
		cfg := zap.NewDevelopmentEncoderConfig()
		if opts.File == "" {
			cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}

		encoder = zapcore.NewConsoleEncoder(cfg)
	case "json":
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	default:
		return nil, fmt.Errorf("invalid log format '%s': must be console or json", opts.Format)
	}

	core := zapcore.NewCore(encoder, writer(opts), level)

	return zap.New(core), nil
}

func writer(opts Options) zapcore.WriteSyncer {
	if opts.File != "" {
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    100,
			MaxBackups: 3,
		})
	}

	if opts.Output != nil {
		return zapcore.AddSync(opts.Output)
	}

	return zapcore.Lock(os.Stderr)
}
