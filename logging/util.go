package logging

import (
	"log/slog"
	"strings"
)

// LevelFromString maps a config value to a slog level, defaulting to info
// when unset or unrecognized.
func LevelFromString(str *string) slog.Level {
	if str == nil {
		return slog.LevelInfo
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(*str))); err != nil {
		return slog.LevelInfo
	}
	return level
}
