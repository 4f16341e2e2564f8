package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiYellow = "\033[33m"
	ansiBlue   = "\033[34m"
	ansiCyan   = "\033[36m"
	ansiDim    = "\033[90m"
)

// PrettyHandler renders records as
//
//	15:04:05 INF message key=value ... (file.go:12)
//
// with ANSI colors when writing to a terminal and NO_COLOR is unset.
type PrettyHandler struct {
	level slog.Leveler
	src   bool
	w     io.Writer
	mu    *sync.Mutex
	color bool
	group string
	attrs []slog.Attr
}

// NewPrettyHandler creates a PrettyHandler. A nil opts logs at info.
func NewPrettyHandler(w io.Writer, opts *slog.HandlerOptions) *PrettyHandler {
	h := &PrettyHandler{level: slog.LevelInfo, w: w, mu: new(sync.Mutex), color: colorable(w)}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.src = opts.AddSource
	}
	return h
}

func colorable(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || os.Getenv("NO_COLOR") != "" {
		return false
	}
	_, err := unix.IoctlGetTermios(int(f.Fd()), ioctlReadTermios)
	return err == nil
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)
	buf = h.colored(buf, ansiDim, func(b []byte) []byte { return r.Time.AppendFormat(b, time.TimeOnly) })
	buf = append(buf, ' ')
	tag, code := levelTag(r.Level)
	buf = h.colored(buf, code, func(b []byte) []byte { return append(b, tag...) })
	buf = append(buf, ' ')
	buf = append(buf, r.Message...)

	emit := func(a slog.Attr, group string) {
		buf = append(buf, ' ')
		buf = h.colored(buf, ansiCyan, func(b []byte) []byte { return appendAttr(b, a, group) })
	}
	for _, a := range h.attrs {
		emit(a, "")
	}
	r.Attrs(func(a slog.Attr) bool {
		emit(a, h.group)
		return true
	})

	if h.src && r.PC != 0 {
		if fr, _ := runtime.CallersFrames([]uintptr{r.PC}).Next(); fr.File != "" {
			buf = append(buf, ' ')
			buf = h.colored(buf, ansiDim, func(b []byte) []byte {
				b = append(b, '(')
				b = append(b, filepath.Base(fr.File)...)
				b = append(b, ':')
				b = strconv.AppendInt(b, int64(fr.Line), 10)
				return append(b, ')')
			})
		}
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *PrettyHandler) colored(buf []byte, code string, body func([]byte) []byte) []byte {
	if !h.color {
		return body(buf)
	}
	buf = append(buf, code...)
	buf = body(buf)
	return append(buf, ansiReset...)
}

// WithAttrs binds attrs ahead of record attributes. They are rendered
// without the group prefix of later WithGroup calls.
func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append(append(make([]slog.Attr, 0, len(h.attrs)+len(attrs)), h.attrs...), attrs...)
	return &c
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.group = joinKey(h.group, name)
	return &c
}

func levelTag(level slog.Level) (string, string) {
	switch {
	case level >= slog.LevelError:
		return "ERR", ansiRed
	case level >= slog.LevelWarn:
		return "WRN", ansiYellow
	case level >= slog.LevelInfo:
		return "INF", ansiBlue
	}
	return "DBG", ansiDim
}

func joinKey(group, key string) string {
	if group == "" {
		return key
	}
	return group + "." + key
}

// appendAttr writes key=value, flattening groups into dotted keys.
func appendAttr(buf []byte, a slog.Attr, group string) []byte {
	v := a.Value.Resolve()
	key := joinKey(group, a.Key)
	if v.Kind() == slog.KindGroup {
		for i, member := range v.Group() {
			if i > 0 {
				buf = append(buf, ' ')
			}
			buf = appendAttr(buf, member, key)
		}
		return buf
	}

	buf = append(append(buf, key...), '=')
	switch v.Kind() {
	case slog.KindString:
		if s := v.String(); needsQuoting(s) {
			return strconv.AppendQuote(buf, s)
		}
		return append(buf, v.String()...)
	case slog.KindDuration:
		return append(buf, v.Duration().Round(time.Microsecond).String()...)
	case slog.KindTime:
		return v.Time().AppendFormat(buf, time.RFC3339)
	}
	return fmt.Append(buf, v.Any())
}

func needsQuoting(s string) bool {
	for _, c := range s {
		switch c {
		case ' ', '\t', '\n', '"', '=':
			return true
		}
	}
	return false
}
