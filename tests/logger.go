package testutil

import (
	"sync"

	"github.com/trezcool/presence/core"
)

// Entry is one message recorded by Logger.
type Entry struct {
	Level string
	Msg   string
	Args  []interface{}
}

// Logger records what it is given.
type Logger struct {
	mu      sync.Mutex
	entries []Entry
}

var _ core.Logger = (*Logger)(nil)

func (l *Logger) Debug(msg string, args ...interface{}) { l.record("debug", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.record("info", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.record("warn", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.record("error", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { l.record("fatal", msg, args) }

func (l *Logger) record(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Level: level, Msg: msg, Args: args})
}

// Entries returns the recorded messages of level.
func (l *Logger) Entries(level string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, e := range l.entries {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}
