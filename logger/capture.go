package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Entry is a single record held by a CaptureLogger.
type Entry struct {
	Time    time.Time
	Level   Level
	Message string
	Fields  []any
}

// Field returns the value stored for key and whether it was present.
func (e Entry) Field(key string) (any, bool) {
	for i := 0; i+1 < len(e.Fields); i += 2 {
		if k, ok := e.Fields[i].(string); ok && k == key {
			return e.Fields[i+1], true
		}
	}

	return nil, false
}

// String formats the entry as a single timestamped line.
func (e Entry) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %-5s %s", e.Time.Format("15:04:05.0000"), strings.ToUpper(e.Level.String()), e.Message)
	for i := 0; i+1 < len(e.Fields); i += 2 {
		fmt.Fprintf(&sb, " %v=%v", e.Fields[i], e.Fields[i+1])
	}

	return sb.String()
}

type captureStore struct {
	mu      sync.Mutex
	entries []Entry
	level   atomic.Int32
}

// CaptureLogger keeps log records in memory.
//
// It is the sink of choice for tests, and for the CLI which flushes the captured records to a
// log file when it shuts down. Child loggers created by With share the same store and level.
type CaptureLogger struct {
	store  *captureStore
	fields []any
}

var _ Logger = (*CaptureLogger)(nil)

// NewCapture creates an in-memory logger that records entries at or above level.
func NewCapture(level Level) *CaptureLogger {
	store := &captureStore{}
	store.level.Store(int32(level))

	return &CaptureLogger{store: store}
}

func (l *CaptureLogger) Debug(msg string, keysAndValues ...any) {
	l.record(DebugLevel, msg, keysAndValues)
}

func (l *CaptureLogger) Info(msg string, keysAndValues ...any) {
	l.record(InfoLevel, msg, keysAndValues)
}

func (l *CaptureLogger) Warn(msg string, keysAndValues ...any) {
	l.record(WarnLevel, msg, keysAndValues)
}

func (l *CaptureLogger) Error(msg string, keysAndValues ...any) {
	l.record(ErrorLevel, msg, keysAndValues)
}

// Fatal records the message at FatalLevel. It does not terminate the process.
func (l *CaptureLogger) Fatal(msg string, keysAndValues ...any) {
	l.record(FatalLevel, msg, keysAndValues)
}

func (l *CaptureLogger) With(keyValues ...any) Logger {
	fields := make([]any, 0, len(l.fields)+len(keyValues))
	fields = append(fields, l.fields...)
	fields = append(fields, keyValues...)

	return &CaptureLogger{store: l.store, fields: fields}
}

func (l *CaptureLogger) Level() Level {
	return Level(l.store.level.Load())
}

func (l *CaptureLogger) SetLevel(level Level) {
	l.store.level.Store(int32(level))
}

// Entries returns a copy of all recorded entries in recording order.
func (l *CaptureLogger) Entries() []Entry {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	out := make([]Entry, len(l.store.entries))
	copy(out, l.store.entries)

	return out
}

// Messages returns the messages recorded at the given level.
func (l *CaptureLogger) Messages(level Level) []string {
	var msgs []string
	for _, e := range l.Entries() {
		if e.Level == level {
			msgs = append(msgs, e.Message)
		}
	}

	return msgs
}

// Reset drops all recorded entries.
func (l *CaptureLogger) Reset() {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	l.store.entries = nil
}

// WriteTo writes every recorded entry as one line to w.
func (l *CaptureLogger) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, e := range l.Entries() {
		n, err := io.WriteString(w, e.String()+"\n")
		total += int64(n)
		if err != nil {
			return total, err
		}
	}

	return total, nil
}

// Flush writes all entries to the file at path, creating or truncating it, then resets the store.
func (l *CaptureLogger) Flush(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create log file: %w", err)
	}

	if _, err := l.WriteTo(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write log file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}

	l.Reset()

	return nil
}

func (l *CaptureLogger) record(level Level, msg string, keysAndValues []any) {
	if level < l.Level() {
		return
	}

	fields := make([]any, 0, len(l.fields)+len(keysAndValues))
	fields = append(fields, l.fields...)
	fields = append(fields, keysAndValues...)

	l.store.mu.Lock()
	l.store.entries = append(l.store.entries, Entry{
		Time:    time.Now(),
		Level:   level,
		Message: msg,
		Fields:  fields,
	})
	l.store.mu.Unlock()
}

type nopLogger struct{}

// NewNop returns a Logger that discards everything.
func NewNop() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...any)  {}
func (nopLogger) Info(string, ...any)   {}
func (nopLogger) Warn(string, ...any)   {}
func (nopLogger) Error(string, ...any)  {}
func (nopLogger) Fatal(string, ...any)  {}
func (n nopLogger) With(...any) Logger  { return n }
func (nopLogger) Level() Level          { return FatalLevel }
func (nopLogger) SetLevel(Level)        {}
