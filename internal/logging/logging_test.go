package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zap.DebugLevel},
		{"info", zap.InfoLevel},
		{"warn", zap.WarnLevel},
		{"error", zap.ErrorLevel},
		{"verbose", zap.InfoLevel},
		{"", zap.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		t.Run(format, func(t *testing.T) {
			logger, err := New("warn", format)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if logger.Core().Enabled(zap.InfoLevel) {
				t.Error("info should be disabled at warn level")
			}
			if !logger.Core().Enabled(zap.ErrorLevel) {
				t.Error("error should be enabled at warn level")
			}
		})
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	logger := zap.NewExample()
	if OrNop(logger) != logger {
		t.Error("OrNop should return the given logger")
	}
}
