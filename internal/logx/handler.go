package logx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// Category is one of the bus's single-letter log categories, matching
// spec.md's `<category> <id>: <message>` wire format exactly: operators
// grep for "^O " or "^I " in the log, so these letters are a contract, not
// a display choice.
const (
	CategoryIncoming = "I"
	CategoryOutgoing = "O"
	CategorySend     = "S"
	CategoryReceive  = "R"
	CategorySystem   = "X"
	CategoryLog      = "L"
)

// lineHandler renders every record as "<category> <id>: <message> k=v...",
// reading category/id from bound or per-call attributes. It is the
// text-format handler; New also offers a plain slog.NewJSONHandler
// for --log-format json, which carries the same category/id attributes as
// ordinary JSON fields instead of a hand-formatted line.
type lineHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	level slog.Leveler
	attrs []slog.Attr
}

func newLineHandler(w io.Writer, level slog.Leveler) *lineHandler {
	return &lineHandler{mu: &sync.Mutex{}, w: w, level: level}
}

func (h *lineHandler) Enabled(_ context.Context, level slog.Level) bool {
	min := slog.LevelInfo
	if h.level != nil {
		min = h.level.Level()
	}
	return level >= min
}

func (h *lineHandler) Handle(_ context.Context, r slog.Record) error {
	category, id := CategorySystem, "-"
	var extra []string
	collect := func(a slog.Attr) bool {
		switch a.Key {
		case "category":
			category = a.Value.String()
		case "id":
			id = a.Value.String()
		default:
			extra = append(extra, fmt.Sprintf("%s=%v", a.Key, a.Value.Any()))
		}
		return true
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(collect)

	line := fmt.Sprintf("%s %s: %s", category, id, r.Message)
	if len(extra) > 0 {
		line += " " + strings.Join(extra, " ")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintln(h.w, line)
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &lineHandler{
		mu:    h.mu,
		w:     h.w,
		level: h.level,
		attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

// WithGroups degrades groups to flat attributes: the bus's log line has no
// nesting, so there is nowhere for a group name to go.
func (h *lineHandler) WithGroups(string) slog.Handler {
	return h
}
