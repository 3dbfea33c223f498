package logger

import (
	"log/slog"
	"os"
)

// New returns a structured JSON logger using slog. Level defaults to info
// and can be lowered to debug via SCHOOLHUB_LOG_LEVEL.
func New() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("SCHOOLHUB_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
