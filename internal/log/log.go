// Package log provides the structured logger used across charmd.
package log

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/juju/lumberjack/v2"
)

// Logger is the logging surface charmd components depend on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	// With returns a Logger that adds args to every record.
	With(args ...any) Logger
}

type slogLogger struct {
	l *slog.Logger
}

func (s slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

func (s slogLogger) With(args ...any) Logger {
	return slogLogger{l: s.l.With(args...)}
}

// FromSlog adapts an slog.Logger.
func FromSlog(l *slog.Logger) Logger {
	return slogLogger{l: l}
}

// New returns a text logger writing to w. Only warnings and errors are
// written unless verbose is set.
func New(w io.Writer, verbose bool) Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return FromSlog(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// NewLogger returns a logger writing to stdout.
func NewLogger(verbose bool) Logger {
	return New(os.Stdout, verbose)
}

// FileOptions controls rotation of the file sink created by NewFileLogger.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewFileLogger returns a logger writing to a size-rotated file, and the
// closer for that file. With tee set records are copied to stdout as well.
func NewFileLogger(opts FileOptions, verbose, tee bool) (Logger, io.Closer) {
	sink := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}

	var w io.Writer = sink
	if tee {
		w = io.MultiWriter(os.Stdout, sink)
	}
	return New(w, verbose), sink
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return New(io.Discard, false)
}

var defaultLogger atomic.Pointer[Logger]

// Default returns the process-wide logger set by SetDefault, or a quiet
// stdout logger before one is set.
func Default() Logger {
	if l := defaultLogger.Load(); l != nil {
		return *l
	}
	return NewLogger(false)
}

// SetDefault replaces the process-wide logger.
func SetDefault(l Logger) {
	defaultLogger.Store(&l)
}
