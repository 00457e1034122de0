package logger

import (
	"io"
	"log/slog"
	"os"
)

// Setup returns a JSON slog.Logger writing to w.
func Setup(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// SetupDefault installs the JSON logger as the process-wide default.
func SetupDefault(debug bool) {
	slog.SetDefault(Setup(os.Stdout, debug))
}
