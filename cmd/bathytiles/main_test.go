package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/bathytiles/bathytiles/internal/config"
)

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := setupLogger(config.LoggingConfig{Level: tt.level, Format: "text"})
			if !logger.Enabled(context.Background(), tt.want) {
				t.Errorf("level %v should be enabled", tt.want)
			}
			if tt.want > slog.LevelDebug && logger.Enabled(context.Background(), tt.want-4) {
				t.Errorf("level below %v should be disabled", tt.want)
			}
		})
	}
}

func TestCommands(t *testing.T) {
	want := map[string]bool{"serve": false, "upload": false, "version": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}

	for _, short := range []string{"z", "Z", "b", "c"} {
		if uploadCmd.Flags().ShorthandLookup(short) == nil {
			t.Errorf("upload flag -%s missing", short)
		}
	}
}
