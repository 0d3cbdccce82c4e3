// Package logging builds the per-component loggers. Output goes to stderr
// and, when a file is configured, to a size-rotated log file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects where logs go.
type Config struct {
	// File is the log file path. Empty logs to stderr only.
	File string

	// MaxSizeMB is the size at which the file is rotated (default: 10)
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept (default: 3)
	MaxBackups int

	// Quiet drops the stderr copy.
	Quiet bool
}

// Factory hands out loggers sharing one output.
type Factory struct {
	out    io.Writer
	closer io.Closer
}

// New opens the outputs described by config.
func New(config Config) *Factory {
	var writers []io.Writer
	if !config.Quiet {
		writers = append(writers, os.Stderr)
	}

	f := &Factory{}
	if config.File != "" {
		if config.MaxSizeMB <= 0 {
			config.MaxSizeMB = 10
		}
		if config.MaxBackups <= 0 {
			config.MaxBackups = 3
		}
		rotator := &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			Compress:   true,
		}
		writers = append(writers, rotator)
		f.closer = rotator
	}

	switch len(writers) {
	case 0:
		f.out = io.Discard
	case 1:
		f.out = writers[0]
	default:
		f.out = io.MultiWriter(writers...)
	}
	return f
}

// Logger returns a logger for component, prefixed "[component] ".
func (f *Factory) Logger(component string) *log.Logger {
	return log.New(f.out, "["+component+"] ", log.LstdFlags)
}

// Writer returns the shared output.
func (f *Factory) Writer() io.Writer {
	return f.out
}

// Close closes the log file, if any.
func (f *Factory) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}
