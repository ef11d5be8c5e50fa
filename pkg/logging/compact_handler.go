package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CompactHandler writes one line per record for console use:
//
//	[INFO]  14:03:07 network solved | method=darcy loops=2 residual=1.5e-07
//
// Attributes bound with WithAttrs are rendered once, when they are bound.
// Groups qualify keys with dots.
type CompactHandler struct {
	level  slog.Leveler
	mu     *sync.Mutex // shared with every derived handler
	out    io.Writer
	prefix string // group path for attributes added from here on, "solve.loop."
	bound  []byte
}

// NewCompactHandler creates a new compact console handler
func NewCompactHandler(w io.Writer, opts *slog.HandlerOptions) *CompactHandler {
	h := &CompactHandler{level: slog.LevelInfo, mu: &sync.Mutex{}, out: w}
	if opts != nil && opts.Level != nil {
		h.level = opts.Level
	}
	return h
}

// levelBands maps each level to the label of the highest band it reaches
var levelBands = []struct {
	min   slog.Level
	label string
}{
	{slog.LevelError, "ERROR"},
	{slog.LevelWarn, "WARN"},
	{slog.LevelInfo, "INFO"},
	{slog.LevelDebug, "DEBUG"},
	{LevelTrace, "TRACE"},
}

func levelLabel(l slog.Level) string {
	for _, b := range levelBands {
		if l >= b.min {
			return b.label
		}
	}
	return l.String()
}

// shortKeys render well-known top-level keys in a shorter form
var shortKeys = map[string]func(buf []byte, v slog.Value) []byte{
	"requestID": func(buf []byte, v slog.Value) []byte {
		id := v.String()
		if len(id) > 8 {
			id = id[:8]
		}
		return append(append(buf, "req="...), id...)
	},
	"durationMs": func(buf []byte, v slog.Value) []byte {
		return append(append(append(buf, "duration="...), v.String()...), "ms"...)
	},
	"error": func(buf []byte, v slog.Value) []byte {
		return strconv.AppendQuote(append(buf, "error="...), v.String())
	},
}

func (h *CompactHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *CompactHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)
	buf = fmt.Appendf(buf, "%-8s", "["+levelLabel(r.Level)+"]")
	buf = r.Time.AppendFormat(buf, "15:04:05")
	buf = append(buf, ' ')
	buf = append(buf, r.Message...)

	var own []byte
	r.Attrs(func(a slog.Attr) bool {
		own = appendAttr(own, h.prefix, a)
		return true
	})
	if len(h.bound)+len(own) > 0 {
		buf = append(buf, " |"...)
		buf = append(buf, h.bound...)
		buf = append(buf, own...)
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf)
	return err
}

// appendAttr renders a as " key=value", flattening groups into dotted keys.
func appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, member := range a.Value.Group() {
			buf = appendAttr(buf, prefix, member)
		}
		return buf
	}

	buf = append(buf, ' ')
	if short, ok := shortKeys[a.Key]; ok && prefix == "" {
		return short(buf, a.Value)
	}
	buf = append(buf, prefix...)
	buf = append(buf, a.Key...)
	buf = append(buf, '=')
	return appendValue(buf, a.Value)
}

func appendValue(buf []byte, v slog.Value) []byte {
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if strings.ContainsAny(s, " \t\n\"=") {
			return strconv.AppendQuote(buf, s)
		}
		return append(buf, s...)
	case slog.KindInt64:
		return strconv.AppendInt(buf, v.Int64(), 10)
	case slog.KindUint64:
		return strconv.AppendUint(buf, v.Uint64(), 10)
	case slog.KindFloat64:
		// flows and head losses scan better with bounded precision
		return strconv.AppendFloat(buf, v.Float64(), 'g', 6, 64)
	case slog.KindBool:
		return strconv.AppendBool(buf, v.Bool())
	case slog.KindDuration:
		return append(buf, v.Duration().String()...)
	case slog.KindTime:
		return v.Time().AppendFormat(buf, time.RFC3339)
	default:
		return appendValue(buf, slog.StringValue(fmt.Sprint(v.Any())))
	}
}

func (h *CompactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	derived := *h
	derived.bound = append([]byte(nil), h.bound...)
	for _, a := range attrs {
		derived.bound = appendAttr(derived.bound, h.prefix, a)
	}
	return &derived
}

func (h *CompactHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	derived := *h
	derived.prefix = h.prefix + name + "."
	return &derived
}
