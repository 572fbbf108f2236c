// Package preload turns navigation hints into prioritised preload requests
// against the playback pool.
package preload

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPositionOutOfRange is returned when a position does not address an item.
var ErrPositionOutOfRange = errors.New("position out of range")

// Thread is one horizontally navigable column of items.
type Thread struct {
	ID    string   `json:"id"`
	Items []string `json:"items"`
}

// Feed is an ordered snapshot of threads supplied by the discovery layer.
type Feed struct {
	Threads []Thread `json:"threads"`
}

// Position addresses one item in a feed.
type Position struct {
	Thread int `json:"thread"`
	Item   int `json:"item"`
}

func (p Position) String() string {
	return fmt.Sprintf("%d/%d", p.Thread, p.Item)
}

// Axis is the direction of the latest navigation.
type Axis int

const (
	// AxisVertical moves between items of one thread.
	AxisVertical Axis = iota
	// AxisHorizontal moves between threads.
	AxisHorizontal
)

func (a Axis) String() string {
	switch a {
	case AxisVertical:
		return "vertical"
	case AxisHorizontal:
		return "horizontal"
	default:
		return "unknown"
	}
}

// ParseAxis converts an axis name back to an Axis.
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vertical", "v":
		return AxisVertical, nil
	case "horizontal", "h":
		return AxisHorizontal, nil
	default:
		return AxisVertical, fmt.Errorf("unknown axis %q", s)
	}
}

// ItemAt returns the id at pos.
func (f Feed) ItemAt(pos Position) (string, bool) {
	if pos.Thread < 0 || pos.Thread >= len(f.Threads) {
		return "", false
	}
	items := f.Threads[pos.Thread].Items
	if pos.Item < 0 || pos.Item >= len(items) {
		return "", false
	}
	return items[pos.Item], true
}

// Len returns the total number of items.
func (f Feed) Len() int {
	n := 0
	for _, t := range f.Threads {
		n += len(t.Items)
	}
	return n
}

// Locate finds the position of id.
func (f Feed) Locate(id string) (Position, bool) {
	for ti, t := range f.Threads {
		for ii, item := range t.Items {
			if item == id {
				return Position{Thread: ti, Item: ii}, true
			}
		}
	}
	return Position{}, false
}
