package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Format selects the handler a logger writes with.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

type Options struct {
	Verbose bool
	Format  Format
	Writer  io.Writer
}

func New(verbose bool) *slog.Logger {
	return NewWithOptions(Options{Verbose: verbose})
}

// NewWithOptions builds a tint text logger, or a JSON logger for log
// shippers when Format is FormatJSON. Both drop empty string attributes and
// print UTC timestamps with millisecond precision.
func NewWithOptions(opts Options) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	if opts.Format == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       logLevel,
			ReplaceAttr: replaceAttr,
		}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:       logLevel,
		ReplaceAttr: replaceAttr,
	}))
}

// ParseFormat accepts "text", "json" or the empty string.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown log format %q", s)
	}
}

func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		t := a.Value.Time().UTC()
		a.Value = slog.StringValue(formatRFC3339Millis(t))
	}
	if s, ok := a.Value.Any().(string); ok && s == "" {
		return slog.Attr{}
	}
	return a
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	base := t.Format("2006-01-02T15:04:05")
	ms := t.Nanosecond() / 1_000_000
	return fmt.Sprintf("%s.%03dZ", base, ms)
}
