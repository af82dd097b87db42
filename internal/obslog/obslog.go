// Package obslog sets up the process-wide structured logger every other
// package receives as a *logrus.Entry (spec.md's ambient logging, carried
// regardless of any feature Non-goal per SPEC_FULL.md §9).
//
// Grounded on the teacher's internal/log (logger_adapter.go's
// logrus.New + formatter + level wiring, appender.go's MultiWriter,
// appender_file.go's lumberjack-backed file appender), simplified to
// return a plain *logrus.Entry instead of the teacher's own Logger
// interface/adapter layer, since every sipwatch package already takes a
// *logrus.Entry directly.
package obslog

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig describes an optional rotating file appender (spec.md §6's
// config surface; mapstructure tags match the teacher's FileAppenderOpt).
type FileConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// Config controls the logger New builds.
type Config struct {
	Level string      `mapstructure:"level"` // logrus level name; defaults to "info"
	JSON  bool        `mapstructure:"json"`  // structured JSON vs. logrus's text formatter
	File  *FileConfig `mapstructure:"file"`  // nil disables file rotation
}

// New builds the process-wide logger: stdout always, plus a lumberjack-
// rotated file appender when cfg.File is set, matching the teacher's
// MultiWriter composition.
func New(cfg Config) (*logrus.Entry, error) {
	l := logrus.New()

	level, err := logrus.ParseLevel(orDefault(cfg.Level, "info"))
	if err != nil {
		return nil, fmt.Errorf("obslog: invalid level %q: %w", cfg.Level, err)
	}
	l.SetLevel(level)

	if cfg.JSON {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	mw := NewMultiWriter().Add(os.Stdout)
	if cfg.File != nil && cfg.File.Filename != "" {
		mw.Add(&lumberjack.Logger{
			Filename:   cfg.File.Filename,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		})
	}
	l.SetOutput(mw)

	return logrus.NewEntry(l), nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
