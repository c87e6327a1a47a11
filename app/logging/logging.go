// Package logging builds the application's structured loggers
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/amirphl/event-rsvp-engine/config"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns the root logger described by cfg. File output is rotated.
func New(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	if cfg.Output == "stdout" || cfg.Output == "both" || cfg.Output == "" {
		if cfg.Format == "text" {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout})
		} else {
			writers = append(writers, os.Stdout)
		}
	}
	if cfg.Output == "file" || cfg.Output == "both" {
		_ = os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755)
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
	}

	var out io.Writer = os.Stdout
	if len(writers) == 1 {
		out = writers[0]
	} else if len(writers) > 1 {
		out = zerolog.MultiLevelWriter(writers...)
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if cfg.EnableCaller {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

// Component returns a child logger tagged with the component name
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Nop returns a disabled logger, used where no logger is wired
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
