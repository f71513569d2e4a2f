package alert

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Success("saved")
	r.Error("failed")
	r.Info("New reply", "💬")

	if got := r.Count(LevelError); got != 1 {
		t.Errorf("error count = %d, want 1", got)
	}

	alerts := r.Alerts()
	if len(alerts) != 3 {
		t.Fatalf("len(alerts) = %d, want 3", len(alerts))
	}
	if alerts[2].Icon != "💬" {
		t.Errorf("icon = %q, want 💬", alerts[2].Icon)
	}
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))

	sink.Error("Failed to post comment")
	sink.Info("Submission accepted", "🎉")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("logged %d entries, want 2", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Errorf("error alert level = %v, want warn", entries[0].Level)
	}
	if entries[1].ContextMap()["icon"] != "🎉" {
		t.Errorf("icon field = %v", entries[1].ContextMap()["icon"])
	}
}
