package demotesting

import (
	"log/slog"
	"os"
)

// NewLogger returns a logger for tests. DEBUG=1 shows info, DEBUG=2 shows
// debug; otherwise only errors are printed.
func NewLogger() *slog.Logger {
	debugLevel := os.Getenv("DEBUG")
	var level slog.Level
	switch debugLevel {
	case "2":
		level = slog.LevelDebug
	case "1":
		level = slog.LevelInfo
	default:
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
