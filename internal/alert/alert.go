// Package alert delivers short user-facing messages (toasts).
package alert

import (
	"sync"

	"go.uber.org/zap"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

type Alert struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
	Icon    string `json:"icon,omitempty"`
}

// Sink presents alerts. Calls are fire-and-forget.
type Sink interface {
	Success(message string)
	Error(message string)
	Info(message, icon string)
}

// LogSink writes alerts to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("alert")}
}

func (s *LogSink) Success(message string) {
	s.logger.Info(message, zap.String("level", string(LevelSuccess)))
}

func (s *LogSink) Error(message string) {
	s.logger.Warn(message, zap.String("level", string(LevelError)))
}

func (s *LogSink) Info(message, icon string) {
	s.logger.Info(message, zap.String("level", string(LevelInfo)), zap.String("icon", icon))
}

// Recorder keeps every alert in memory.
type Recorder struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *Recorder) Success(message string) { r.add(Alert{Level: LevelSuccess, Message: message}) }
func (r *Recorder) Error(message string)   { r.add(Alert{Level: LevelError, Message: message}) }
func (r *Recorder) Info(message, icon string) {
	r.add(Alert{Level: LevelInfo, Message: message, Icon: icon})
}

func (r *Recorder) add(a Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

// Alerts returns a copy of the recorded alerts.
func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

// Count returns how many alerts of level were recorded.
func (r *Recorder) Count(level Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.alerts {
		if a.Level == level {
			n++
		}
	}
	return n
}

// Discard drops every alert.
type Discard struct{}

func (Discard) Success(string)      {}
func (Discard) Error(string)        {}
func (Discard) Info(string, string) {}

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = (*Recorder)(nil)
	_ Sink = Discard{}
)
