// Package logx builds the bus's log sink: a log/slog logger whose default
// rendering is the line-oriented, category-tagged format spec'd for the
// bus (`<category> <id>: <message>`), with an optional JSON rendering for
// log aggregators, writing to stderr and, when configured, also to a file
// that a SIGHUP re-opens in place, mirroring the original's log.c.
package logx

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"adsbus/internal/identity"
)

// rotatingWriter always writes to stderr and, if a file path was
// configured, also to that file; Rotate() closes and reopens the file in
// place so callers never need a new io.Writer reference.
type rotatingWriter struct {
	mu   sync.Mutex
	path string
	file *os.File
}

func newRotatingWriter(path string) *rotatingWriter {
	w := &rotatingWriter{path: path}
	if path != "" {
		w.openLocked()
	}
	return w
}

// openLocked opens w.path, logging a warning to stderr and leaving the
// file unset (stderr-only logging continues) if it can't be opened.
func (w *rotatingWriter) openLocked() {
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: could not open log file %q: %v (logging to stderr only)\n", w.path, err)
		return
	}
	w.file = f
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		w.file.Write(p)
	}
	return os.Stderr.Write(p)
}

// Rotate closes the current file (if any) and reopens w.path fresh.
func (w *rotatingWriter) Rotate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.path == "" {
		return
	}
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
	w.openLocked()
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// Logger is the bus's log sink. The zero value is not usable; construct
// one with New. It satisfies io.Closer.
type Logger struct {
	base *slog.Logger
	w    *rotatingWriter
	id   string
}

// New builds a Logger. level is "debug"/"info"/"warn"/"error" (default
// info); format is "text" (the default; renders the bus's category/id
// line format) or "json" (renders structured records, still carrying
// category/id as ordinary fields); filePath, if non-empty, additionally
// writes every line to that file alongside stderr.
func New(level, format, filePath string) *Logger {
	w := newRotatingWriter(filePath)
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = newLineHandler(w, lvl)
	}

	l := &Logger{base: slog.New(handler), w: w, id: string(identity.New())}
	l.For(CategoryLog, l.id).Info("log start")
	return l
}

// For returns a logger scoped to category and id: every line it emits
// carries those two as the bus's "<category> <id>: " prefix (or, in JSON
// format, as the "category"/"id" fields). Call sites that log a per-call
// id (e.g. a connection's source id, which varies within one component)
// simply pass their own "id" attribute, which takes precedence over the
// one bound here.
func (l *Logger) For(category, id string) *slog.Logger {
	return l.base.With("category", category, "id", id)
}

// Rotate re-opens the configured log file in place, writing a marker line
// naming both the outgoing and incoming log identifiers, exactly as the
// original's log_rotate does on SIGHUP.
func (l *Logger) Rotate() {
	oldID := l.id
	newID := string(identity.New())
	l.For(CategoryLog, oldID).Info("switching to new log", "new_id", newID, "path", l.w.path)
	l.w.Rotate()
	l.id = newID
	l.For(CategoryLog, newID).Info("log start after switch", "old_id", oldID)
}

// Close emits a final marker line and closes the log file, if any.
func (l *Logger) Close() error {
	l.For(CategoryLog, l.id).Info("log end")
	return l.w.Close()
}

var _ io.Closer = (*Logger)(nil)
