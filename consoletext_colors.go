package consoletext

import (
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

var levelColorNumbers = map[string]uint8{
	"TRACE": 7,
	"DEBUG": 6,
	"LOG":   5,
	"INFO":  2,
	"TEXT":  4,
	"WARN":  3,
	"ERROR": 1,
}

// isTerminalSupported checks if the terminal supports colors
func isTerminalSupported() bool {
	return isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) || strings.Contains(os.Getenv("TERM"), "color")
}

// replaceLogLevel customizes the display names for custom log levels
func replaceLogLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok {
			if name, exists := reverseLevelNames[level]; exists {
				a.Value = slog.StringValue(name)
				a = tint.Attr(levelColorNumbers[name], a)
			}
		}
	}
	return a
}
