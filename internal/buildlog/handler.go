package buildlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

func levelLabels(enabled bool) map[slog.Level]string {
	paint := func(label string, attrs ...color.Attribute) string {
		c := color.New(attrs...)
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c.Sprint(label)
	}
	return map[slog.Level]string{
		slog.LevelDebug: paint("[DEBUG]", color.FgHiBlack),
		slog.LevelInfo:  paint("[INFO]", color.FgCyan, color.Bold),
		slog.LevelWarn:  paint("[WARNING]", color.FgYellow, color.Bold),
		slog.LevelError: paint("[ERROR]", color.FgRed, color.Bold),
	}
}

// consoleHandler prints records as `[LEVEL] message key=value`.
type consoleHandler struct {
	state  *sessionState
	attrs  []slog.Attr
	groups []string
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.state.level
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	sb.WriteString(h.label(r.Level))
	sb.WriteByte(' ')
	sb.WriteString(r.Message)
	for _, a := range h.attrs {
		writeAttr(&sb, a)
	}
	prefix := strings.Join(h.groups, ".")
	r.Attrs(func(a slog.Attr) bool {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		writeAttr(&sb, a)
		return true
	})
	sb.WriteByte('\n')

	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	if h.state.ended {
		return nil
	}
	_, err := io.WriteString(h.state.w, sb.String())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := strings.Join(h.groups, ".")
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		merged = append(merged, a)
	}
	return &consoleHandler{state: h.state, attrs: merged, groups: h.groups}
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := append(h.groups[:len(h.groups):len(h.groups)], name)
	return &consoleHandler{state: h.state, attrs: h.attrs, groups: groups}
}

func (h *consoleHandler) label(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return h.state.labels[slog.LevelError]
	case level >= slog.LevelWarn:
		return h.state.labels[slog.LevelWarn]
	case level >= slog.LevelInfo:
		return h.state.labels[slog.LevelInfo]
	default:
		return h.state.labels[slog.LevelDebug]
	}
}

func writeAttr(sb *strings.Builder, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	v := a.Value.String()
	if a.Value.Kind() == slog.KindAny {
		if err, ok := a.Value.Any().(error); ok {
			v = err.Error()
		} else {
			v = fmt.Sprint(a.Value.Any())
		}
	}
	if v == "" || strings.ContainsAny(v, " \t\n\"=") {
		v = strconv.Quote(v)
	}
	sb.WriteByte(' ')
	sb.WriteString(a.Key)
	sb.WriteByte('=')
	sb.WriteString(v)
}
