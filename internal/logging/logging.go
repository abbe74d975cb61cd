// Package logging wires slog to both the terminal and the per-run log file
// so users can inspect a run long after the console scrolls away.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Options controls where and how verbosely a run logs.
type Options struct {
	// Verbose lowers the terminal level to debug. The file always records
	// debug so post-mortems have the full picture.
	Verbose bool

	// Console defaults to os.Stderr.
	Console io.Writer
}

// Run is a logger bound to a run's log file. Close releases the file handle.
type Run struct {
	Logger *slog.Logger
	file   *os.File
}

// New opens (or reuses) the log file at path and returns a logger that fans
// records out to it and to the console.
func New(path string, opts Options) (*Run, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	consoleLevel := slog.LevelInfo
	if opts.Verbose {
		consoleLevel = slog.LevelDebug
	}

	handler := &teeHandler{handlers: []slog.Handler{
		slog.NewTextHandler(console, &slog.HandlerOptions{Level: consoleLevel}),
		slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}}
	return &Run{Logger: slog.New(handler), file: f}, nil
}

// Close flushes and releases the log file.
func (r *Run) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	return r.file.Close()
}

// teeHandler fans a record out to every handler whose level admits it.
type teeHandler struct {
	handlers []slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, rec slog.Record) error {
	var firstErr error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, rec.Level) {
			continue
		}
		if err := h.Handle(ctx, rec.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &teeHandler{handlers: next}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		next[i] = h.WithGroup(name)
	}
	return &teeHandler{handlers: next}
}
