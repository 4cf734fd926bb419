package logger

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Entry is one record captured by MockLogger. Attribute keys are flattened the way
// slog's text handler prints them: groups become dotted prefixes.
type Entry struct {
	Level slog.Level
	Msg   string
	Attrs map[string]any
}

// journal is shared by a MockLogger and every logger derived from it.
type journal struct {
	mu      sync.Mutex
	entries []Entry
}

// MockLogger records log calls for assertions. Loggers returned by With and
// WithGroup write to the same journal as their parent.
type MockLogger struct {
	j      *journal
	attrs  []slog.Attr
	prefix string
}

// NewMockLogger returns an empty recording logger.
func NewMockLogger() *MockLogger {
	return &MockLogger{j: &journal{}}
}

func (m *MockLogger) Debug(msg string, args ...any) { m.record(slog.LevelDebug, msg, args) }
func (m *MockLogger) Info(msg string, args ...any)  { m.record(slog.LevelInfo, msg, args) }
func (m *MockLogger) Warn(msg string, args ...any)  { m.record(slog.LevelWarn, msg, args) }
func (m *MockLogger) Error(msg string, args ...any) { m.record(slog.LevelError, msg, args) }

// With returns a logger whose entries also carry args.
func (m *MockLogger) With(args ...any) Logger {
	attrs := make([]slog.Attr, 0, len(m.attrs)+len(args)/2)
	attrs = append(attrs, m.attrs...)
	attrs = append(attrs, m.resolve(args)...)
	return &MockLogger{j: m.j, attrs: attrs, prefix: m.prefix}
}

// WithGroup returns a logger that qualifies later attribute keys with name.
func (m *MockLogger) WithGroup(name string) Logger {
	if name == "" {
		return m
	}
	return &MockLogger{j: m.j, attrs: m.attrs, prefix: m.prefix + name + "."}
}

// resolve parses key/value args with slog's own rules and applies the group prefix.
func (m *MockLogger) resolve(args []any) []slog.Attr {
	r := slog.NewRecord(time.Time{}, slog.LevelInfo, "", 0)
	r.Add(args...)
	out := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		a.Key = m.prefix + a.Key
		out = append(out, a)
		return true
	})
	return out
}

func (m *MockLogger) record(level slog.Level, msg string, args []any) {
	e := Entry{Level: level, Msg: msg, Attrs: make(map[string]any)}
	for _, a := range append(append([]slog.Attr{}, m.attrs...), m.resolve(args)...) {
		flatten(e.Attrs, "", a)
	}

	m.j.mu.Lock()
	defer m.j.mu.Unlock()
	m.j.entries = append(m.j.entries, e)
}

func flatten(dst map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, ga := range v.Group() {
			flatten(dst, prefix+a.Key+".", ga)
		}
		return
	}
	dst[prefix+a.Key] = v.Any()
}

// Entries returns a copy of everything recorded so far.
func (m *MockLogger) Entries() []Entry {
	m.j.mu.Lock()
	defer m.j.mu.Unlock()
	return append([]Entry(nil), m.j.entries...)
}

// Find returns the first entry at level with exactly msg.
func (m *MockLogger) Find(level slog.Level, msg string) (Entry, bool) {
	for _, e := range m.Entries() {
		if e.Level == level && e.Msg == msg {
			return e, true
		}
	}
	return Entry{}, false
}

// Has reports whether msg was logged at level.
func (m *MockLogger) Has(level slog.Level, msg string) bool {
	_, ok := m.Find(level, msg)
	return ok
}

// HasContaining reports whether a message at level contains substr.
func (m *MockLogger) HasContaining(level slog.Level, substr string) bool {
	for _, e := range m.Entries() {
		if e.Level == level && strings.Contains(e.Msg, substr) {
			return true
		}
	}
	return false
}

// Count returns how many entries were logged at level.
func (m *MockLogger) Count(level slog.Level) int {
	n := 0
	for _, e := range m.Entries() {
		if e.Level == level {
			n++
		}
	}
	return n
}

// Reset drops all recorded entries, including those of derived loggers.
func (m *MockLogger) Reset() {
	m.j.mu.Lock()
	defer m.j.mu.Unlock()
	m.j.entries = nil
}

func (m *MockLogger) String() string {
	var b strings.Builder
	for _, e := range m.Entries() {
		fmt.Fprintf(&b, "[%s] %s %v\n", e.Level, e.Msg, e.Attrs)
	}
	return b.String()
}
