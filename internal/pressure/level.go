// Package pressure tracks memory pressure and translates operating system
// signals into capacity changes on the playback pool.
package pressure

import (
	"fmt"
	"strings"
)

// Level is a totally ordered memory pressure severity.
type Level int32

const (
	// LevelNormal means no recent pressure; the pool runs at default capacity.
	LevelNormal Level = iota
	// LevelElevated shrinks capacity to a small floor and drops passive caches.
	LevelElevated
	// LevelCritical shrinks further and discards every non-current handle.
	LevelCritical
	// LevelEmergency keeps only the currently playing handle and sheds all preloads.
	LevelEmergency
)

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelElevated:
		return "elevated"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// ParseLevel converts a level name back to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal":
		return LevelNormal, nil
	case "elevated":
		return LevelElevated, nil
	case "critical":
		return LevelCritical, nil
	case "emergency":
		return LevelEmergency, nil
	default:
		return LevelNormal, fmt.Errorf("unknown pressure level %q", s)
	}
}

// Signal is an operating system memory notification.
type Signal int

const (
	// SignalLowMemory is the coarse "low memory" warning.
	SignalLowMemory Signal = iota
	// SignalWarning is the granular pressure warning.
	SignalWarning
	// SignalCritical is the granular critical pressure notification.
	SignalCritical
)

func (s Signal) String() string {
	switch s {
	case SignalLowMemory:
		return "low_memory"
	case SignalWarning:
		return "warning"
	case SignalCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// level returns the level a single signal escalates to.
func (s Signal) level() Level {
	if s == SignalCritical {
		return LevelCritical
	}
	return LevelElevated
}
