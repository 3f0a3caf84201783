package logging

import (
	"log/slog"
	"strings"
)

// LevelFromString maps a configured level name ("DEBUG", "INFO", "WARN",
// "ERROR", any casing) to its slog level. Nil and unrecognized values fall
// back to INFO so a typo in the config never silences the log.
func LevelFromString(str *string) slog.Level {
	if str == nil {
		return slog.LevelInfo
	}
	switch strings.ToUpper(*str) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
