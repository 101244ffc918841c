package parser

import (
	"strings"

	"github.com/logscan/logscan/pkg/model"
)

// NormalizeLevel folds the many severity vocabularies found in the wild
// onto the five canonical levels. Unknown inputs pass through uppercased;
// empty input maps to INFO.
func NormalizeLevel(level string) string {
	if level == "" {
		return model.LevelInfo
	}
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "WARN", "WARNING":
		return model.LevelWarn
	case "SEVERE", "FATAL", "CRITICAL", "ALERT", "EMERGENCY":
		return model.LevelError
	case "FINE", "FINER", "FINEST", "VERBOSE", "DBG":
		return model.LevelDebug
	case "CONFIG", "NOTICE", "INFORMATIONAL":
		return model.LevelInfo
	case "TRC":
		return model.LevelTrace
	default:
		return strings.ToUpper(strings.TrimSpace(level))
	}
}

// IsErrorLevel reports whether a normalized level flags hasError.
func IsErrorLevel(level string) bool {
	return level == model.LevelError
}
