package httpapi

import (
	"container/ring"
	"context"
	"log/slog"
	"sync"
	"time"
)

// LogEntry is one captured log line, returned by GET /api/admin/logs.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// LogBuffer is a bounded, ring-backed capture of recent log lines, mirroring
// the source server's deque(maxlen=200) admin log feed.
type LogBuffer struct {
	mu   sync.Mutex
	ring *ring.Ring
	n    int
}

// NewLogBuffer constructs a LogBuffer holding up to capacity entries.
func NewLogBuffer(capacity int) *LogBuffer {
	return &LogBuffer{ring: ring.New(capacity)}
}

func (b *LogBuffer) record(e LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring.Value = e
	b.ring = b.ring.Next()
	if b.n < b.ring.Len() {
		b.n++
	}
}

// Entries returns the captured log lines, oldest first.
func (b *LogBuffer) Entries() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []LogEntry
	b.ring.Do(func(v any) {
		if v == nil {
			return
		}
		out = append(out, v.(LogEntry))
	})
	return out
}

// Len returns the number of captured log lines.
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

// capturingHandler wraps an slog.Handler, recording every handled record
// into a LogBuffer in addition to passing it through unchanged.
type capturingHandler struct {
	next slog.Handler
	buf  *LogBuffer
}

// NewCapturingHandler wraps next so every record it handles is also
// appended to buf, ready for GET /api/admin/logs.
func NewCapturingHandler(next slog.Handler, buf *LogBuffer) slog.Handler {
	return &capturingHandler{next: next, buf: buf}
}

func (h *capturingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *capturingHandler) Handle(ctx context.Context, r slog.Record) error {
	h.buf.record(LogEntry{Time: r.Time, Level: r.Level.String(), Message: r.Message})
	return h.next.Handle(ctx, r)
}

func (h *capturingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &capturingHandler{next: h.next.WithAttrs(attrs), buf: h.buf}
}

func (h *capturingHandler) WithGroup(name string) slog.Handler {
	return &capturingHandler{next: h.next.WithGroup(name), buf: h.buf}
}
