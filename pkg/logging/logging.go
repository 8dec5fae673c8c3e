// Package logging provides the engine's leveled structured logger. The
// teacher has no equivalent (it logs with bare fmt.Fprintf); this package
// is grounded on original_source's logger/logger.cc LOG4(level, stream)
// call shape instead, implemented with the standard library's log/slog —
// the only structured-logging library available anywhere in the
// retrieval pack is none, so slog is the idiomatic-Go stand-in (see
// DESIGN.md for the stdlib justification).
package logging

import (
	"io"
	"log/slog"
	"os"
)

// LogSink is the narrow capability a rotating file writer implements.
// No concrete sink ships in this module: the serve and mcp commands pass
// nil, so output goes to stdout only, and log.log_dir is not used to open
// a file.
type LogSink interface {
	io.Writer
	io.Closer
}

// New builds a leveled slog.Logger writing to stdout, and additionally to
// sink if non-nil. level follows slog's own naming (debug, info, warn,
// error); an unrecognized name falls back to info.
func New(level string, sink LogSink) *slog.Logger {
	var writers []io.Writer
	writers = append(writers, os.Stdout)
	if sink != nil {
		writers = append(writers, sink)
	}

	var w io.Writer
	if len(writers) == 1 {
		w = writers[0]
	} else {
		w = io.MultiWriter(writers...)
	}

	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	handler := slog.NewJSONHandler(w, opts)
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
