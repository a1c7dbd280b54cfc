package log

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// sink is the buffer shared by a TestLogger and every logger derived from
// it with With.
type sink struct {
	mu  sync.Mutex
	buf *bytes.Buffer
}

// TestLogger records every entry as one JSON line so tests can assert on
// what the boundary layer logged without touching stderr. Values go through
// a JSON round trip: numbers come back as float64 and errors as their
// message.
type TestLogger struct {
	out    *sink
	level  Level
	fields map[string]interface{}
}

// NewTestLogger returns a TestLogger recording entries at or above level,
// and the buffer it writes to.
func NewTestLogger(level Level) (*TestLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return &TestLogger{out: &sink{buf: buf}, level: level, fields: map[string]interface{}{}}, buf
}

func (t *TestLogger) Debug(msg string, fields ...any) { t.log(LevelDebug, msg, fields) }
func (t *TestLogger) Info(msg string, fields ...any)  { t.log(LevelInfo, msg, fields) }
func (t *TestLogger) Warn(msg string, fields ...any)  { t.log(LevelWarn, msg, fields) }
func (t *TestLogger) Error(msg string, fields ...any) { t.log(LevelError, msg, fields) }

// With returns a logger sharing t's buffer with fields added to every entry.
func (t *TestLogger) With(fields ...any) Logger {
	child := &TestLogger{out: t.out, level: t.level, fields: make(map[string]interface{}, len(t.fields))}
	for k, v := range t.fields {
		child.fields[k] = v
	}
	addPairs(child.fields, fields)
	return child
}

// Enabled reports whether level would be recorded.
func (t *TestLogger) Enabled(_ context.Context, level Level) bool { return level >= t.level }

func (t *TestLogger) log(level Level, msg string, fields []any) {
	if level < t.level {
		return
	}
	entry := map[string]interface{}{"level": level.String(), "message": msg}
	for k, v := range t.fields {
		entry[k] = v
	}
	if len(fields) > 0 {
		if err, ok := fields[0].(error); ok {
			entry[ErrAttrKey] = err.Error()
			fields = fields[1:]
		}
	}
	addPairs(entry, fields)

	line, err := json.Marshal(entry)
	if err != nil {
		line = []byte(fmt.Sprintf(`{"message":%q,"marshal_error":%q}`, msg, err.Error()))
	}
	t.out.mu.Lock()
	t.out.buf.Write(line)
	t.out.buf.WriteByte('\n')
	t.out.mu.Unlock()
}

func addPairs(dst map[string]interface{}, fields []any) {
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprint(fields[i])
		if err, ok := fields[i+1].(error); ok {
			dst[key] = err.Error()
			continue
		}
		dst[key] = fields[i+1]
	}
}

// GetLogEntries decodes every recorded line.
func (t *TestLogger) GetLogEntries() ([]map[string]interface{}, error) {
	t.out.mu.Lock()
	raw := t.out.buf.String()
	t.out.mu.Unlock()

	var entries []map[string]interface{}
	sc := bufio.NewScanner(strings.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, sc.Err()
}

// ContainsMessage reports whether any recorded line contains message.
func (t *TestLogger) ContainsMessage(message string) bool {
	t.out.mu.Lock()
	defer t.out.mu.Unlock()
	return strings.Contains(t.out.buf.String(), message)
}

// ContainsField reports whether any entry has key set to value.
func (t *TestLogger) ContainsField(key string, value interface{}) bool {
	entries, err := t.GetLogEntries()
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if v, ok := entry[key]; ok && v == value {
			return true
		}
	}
	return false
}

// Reset drops everything recorded so far.
func (t *TestLogger) Reset() {
	t.out.mu.Lock()
	t.out.buf.Reset()
	t.out.mu.Unlock()
}
