// Package session owns the runtime of the playback pool: it routes operating
// system and player events into the pool and pressure monitor, exposes the
// calls the UI layer makes, and shuts everything down in order.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventKind identifies what happened.
type EventKind int

const (
	// EventLowMemory is the platform's coarse low-memory warning.
	EventLowMemory EventKind = iota
	// EventPressureWarning is a granular memory-pressure warning.
	EventPressureWarning
	// EventPressureCritical is a granular memory-pressure critical notice.
	EventPressureCritical
	// EventBackground reports the app moving to the background.
	EventBackground
	// EventForeground reports the app returning to the foreground.
	EventForeground
	// EventPlaybackFinished reports that an item played to its end.
	EventPlaybackFinished
)

var eventKindNames = map[EventKind]string{
	EventLowMemory:        "low_memory",
	EventPressureWarning:  "warning",
	EventPressureCritical: "critical",
	EventBackground:       "background",
	EventForeground:       "foreground",
	EventPlaybackFinished: "finished",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// ParseEventKind converts an event name back to an EventKind.
func ParseEventKind(s string) (EventKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for kind, name := range eventKindNames {
		if name == s {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// Event is one message on the coordinator's queue.
type Event struct {
	ID     ulid.ULID
	Kind   EventKind
	ItemID string // EventPlaybackFinished only
	At     time.Time
}

// NewEvent stamps a new event.
func NewEvent(kind EventKind, itemID string) Event {
	return Event{
		ID:     ulid.Make(),
		Kind:   kind,
		ItemID: itemID,
		At:     time.Now(),
	}
}
