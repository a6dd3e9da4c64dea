package app

import (
	"strings"

	"github.com/otpdeck/otpdeck/pkg/logger"
)

// ConfigureLogging initialises the global logger with the provided level and
// format, defaulting to info/json.
func ConfigureLogging(level, format string) error {
	level = strings.TrimSpace(level)
	if level == "" {
		level = "info"
	}

	format = strings.TrimSpace(strings.ToLower(format))
	if format != "console" {
		format = "json"
	}

	return logger.InitWithFormat(level, format)
}
