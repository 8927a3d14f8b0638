package alerts

import "fmt"

// Level represents the severity of an alert.
type Level int

const (
	// LevelError needs action.
	LevelError Level = iota
	// LevelWarning is worth a look.
	LevelWarning
	// LevelInfo is informational.
	LevelInfo
)

// String returns the string representation of the alert level.
func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelInfo:
		return "info"
	default:
		return fmt.Sprintf("unknown(%d)", l)
	}
}

// Icon returns the marker printed before the message.
func (l Level) Icon() string {
	switch l {
	case LevelError:
		return "❌"
	case LevelWarning:
		return "⚠️"
	case LevelInfo:
		return "ℹ️"
	default:
		return "❓"
	}
}
