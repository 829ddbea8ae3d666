package logx

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"warn", zapcore.WarnLevel},
		{"bogus", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		l, err := New(tt.in, "live-api")
		if err != nil {
			t.Fatalf("New(%q): %v", tt.in, err)
		}
		if !l.Core().Enabled(tt.want) || (tt.want > zapcore.DebugLevel && l.Core().Enabled(tt.want-1)) {
			t.Errorf("New(%q) level mismatch, want %v", tt.in, tt.want)
		}
	}
}
