package logging

import (
	"fmt"
	"log/slog"
	"sync"
)

// errorRepeatEvery is how often a repeated dispatcher error is logged again.
// Setpoint events arrive at the control rate of every vehicle, so a dead
// sink would otherwise flood the log.
const errorRepeatEvery = 100

// DispatcherLogger adapts slog.Logger to the dispatcher.Logger interface.
// Errors with the same message and event kind are logged the first time and
// then every errorRepeatEvery occurrences with a "repeated" count.
type DispatcherLogger struct {
	logger *slog.Logger
	every  int

	mu      sync.Mutex
	repeats map[string]int
}

func NewDispatcherLogger(logger *slog.Logger) *DispatcherLogger {
	return &DispatcherLogger{
		logger:  logger.With("component", "dispatcher"),
		every:   errorRepeatEvery,
		repeats: make(map[string]int),
	}
}

func (l *DispatcherLogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *DispatcherLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info(msg, keysAndValues...)
}

func (l *DispatcherLogger) Error(msg string, keysAndValues ...any) {
	n := l.count(msg + "/" + valueOf(keysAndValues, "kind"))
	if n > 1 && n%l.every != 0 {
		return
	}
	if n > 1 {
		keysAndValues = append(keysAndValues, "repeated", n)
	}
	l.logger.Error(msg, keysAndValues...)
}

func (l *DispatcherLogger) count(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.repeats[key]++
	return l.repeats[key]
}

func valueOf(keysAndValues []any, key string) string {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if k, ok := keysAndValues[i].(string); ok && k == key {
			return fmt.Sprint(keysAndValues[i+1])
		}
	}
	return ""
}
