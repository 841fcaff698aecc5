// Package trace provides the slog handler used for stagecheck's diagnostic
// output. Each record is written as a single line:
//
//	[stagecheck:<component>] LEVEL message key=value ...
//
// The component comes from a "component" attribute (logger.With("component", "git")).
package trace

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

const componentKey = "component"

// Handler is a slog.Handler writing namespaced lines to w. When w is nil, all
// records are dropped.
type Handler struct {
	mu        *sync.Mutex
	w         io.Writer
	level     slog.Leveler
	component string
	attrs     []slog.Attr
}

// NewHandler returns a Handler writing records at or above level to w.
func NewHandler(w io.Writer, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{mu: &sync.Mutex{}, w: w, level: level}
}

// New returns a logger writing to w. With debug set every record is written;
// otherwise only warnings and errors.
func New(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(NewHandler(w, level))
}

// Discard returns a logger that drops everything. Use in tests.
func Discard() *slog.Logger {
	return slog.New(NewHandler(nil, slog.LevelError))
}

// Enabled reports whether records at level are written.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return h.w != nil && level >= h.level.Level()
}

// Handle formats r as one line.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	if h.w == nil {
		return nil
	}
	component := h.component
	var b strings.Builder
	writeAttr := func(a slog.Attr) {
		if a.Key == componentKey {
			component = a.Value.String()
			return
		}
		if a.Equal(slog.Attr{}) {
			return
		}
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Any())
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(a)
		return true
	})
	prefix := "[stagecheck]"
	if component != "" {
		prefix = "[stagecheck:" + component + "]"
	}
	line := fmt.Sprintf("%s %s %s%s\n", prefix, r.Level.String(), r.Message, b.String())

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, line)
	return err
}

// WithAttrs returns a handler that includes attrs on every record. A
// "component" attribute replaces the line prefix instead of being printed.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &Handler{
		mu:        h.mu,
		w:         h.w,
		level:     h.level,
		component: h.component,
		attrs:     append([]slog.Attr{}, h.attrs...),
	}
	for _, a := range attrs {
		if a.Key == componentKey {
			next.component = a.Value.String()
			continue
		}
		next.attrs = append(next.attrs, a)
	}
	return next
}

// WithGroup is a no-op; groups are flattened.
func (h *Handler) WithGroup(string) slog.Handler { return h }
