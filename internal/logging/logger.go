// Package logging configures structured logging for the supplied core.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger construction.
type Options struct {
	// Level is a logrus level name ("debug", "info", "warn", "error").
	// Empty means info.
	Level string

	// File, when set, routes output to a rotating log file instead of
	// stderr.
	File string

	// MaxSizeMB caps the size of a log file before rotation. Zero means
	// 10 MB.
	MaxSizeMB int

	// MaxBackups is how many rotated files to keep. Zero means 3.
	MaxBackups int
}

// New builds a logrus logger with JSON output and optional rotation.
func New(opts Options) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	var out io.Writer = os.Stderr
	if opts.File != "" {
		maxSize := opts.MaxSizeMB
		if maxSize == 0 {
			maxSize = 10
		}
		maxBackups := opts.MaxBackups
		if maxBackups == 0 {
			maxBackups = 3
		}
		out = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
		}
	}
	log.SetOutput(out)

	return log
}

// Discard returns a logger that drops everything. Used by tests and as
// the fallback when a component is constructed without a logger.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// Component returns an entry tagged with a component name, falling back
// to a discard logger when log is nil.
func Component(log *logrus.Logger, name string) *logrus.Entry {
	if log == nil {
		log = Discard()
	}
	return log.WithField("component", name)
}
