package licensetest

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// LogRecord is one captured log entry.
type LogRecord struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// LogCapture is a slog.Handler that keeps every record in memory.
type LogCapture struct {
	mu      *sync.Mutex
	records *[]LogRecord
	attrs   []slog.Attr
	group   string
}

// NewLogger returns a logger writing into a fresh LogCapture.
func NewLogger() (*slog.Logger, *LogCapture) {
	h := &LogCapture{mu: &sync.Mutex{}, records: &[]LogRecord{}}
	return slog.New(h), h
}

// Enabled implements slog.Handler. Every level is captured.
func (h *LogCapture) Enabled(context.Context, slog.Level) bool { return true }

// Handle implements slog.Handler
func (h *LogCapture) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[h.key(a.Key)] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	*h.records = append(*h.records, LogRecord{Level: r.Level, Message: r.Message, Attrs: attrs})
	return nil
}

// WithAttrs implements slog.Handler
func (h *LogCapture) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, slog.Attr{Key: h.key(a.Key), Value: a.Value})
	}
	return &next
}

// WithGroup implements slog.Handler
func (h *LogCapture) WithGroup(name string) slog.Handler {
	next := *h
	next.group = h.key(name)
	return &next
}

func (h *LogCapture) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}

// Records returns a copy of the captured records.
func (h *LogCapture) Records() []LogRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]LogRecord(nil), *h.records...)
}

// Find returns the first record whose message contains msg.
func (h *LogCapture) Find(msg string) (LogRecord, bool) {
	for _, r := range h.Records() {
		if strings.Contains(r.Message, msg) {
			return r, true
		}
	}
	return LogRecord{}, false
}
