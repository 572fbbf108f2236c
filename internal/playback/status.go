package playback

import (
	"sort"
	"time"
)

// HandleStatus describes one resident handle.
type HandleStatus struct {
	ID              string    `json:"id"`
	State           string    `json:"state"`
	BufferedSeconds float64   `json:"buffered_seconds"`
	WeakReady       bool      `json:"weak_ready"`
	Protected       bool      `json:"protected"`
	Current         bool      `json:"current"`
	CreatedAt       time.Time `json:"created_at"`
}

// FlightStatus describes one construction in progress.
type FlightStatus struct {
	ID       string  `json:"id"`
	Priority string  `json:"priority"`
	Progress float64 `json:"progress"`
}

// Status is a point-in-time snapshot of the pool.
type Status struct {
	Capacity        int            `json:"capacity"`
	DefaultCapacity int            `json:"default_capacity"`
	Reduced         bool           `json:"reduced"`
	Current         string         `json:"current,omitempty"`
	Protected       []string       `json:"protected"`
	Resident        []HandleStatus `json:"resident"` // least recently used first
	InFlight        []FlightStatus `json:"in_flight"`
	Backoff         []string       `json:"backoff"`
	Gate            GateStats      `json:"gate"`
}

// Status returns a snapshot of the pool.
func (p *Pool) Status() Status {
	gate := p.gate.Stats()

	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{
		Capacity:        p.capacity,
		DefaultCapacity: p.config.Capacity,
		Reduced:         p.capacity < p.config.Capacity,
		Current:         p.protection.Current(),
		Protected:       p.protection.IDs(),
		Resident:        make([]HandleStatus, 0, len(p.handles)),
		InFlight:        make([]FlightStatus, 0, len(p.inflight)),
		Backoff:         make([]string, 0, len(p.failures)),
		Gate:            gate,
	}

	for _, id := range p.tracker.Oldest() {
		h := p.handles[id]
		if h == nil {
			continue
		}
		st.Resident = append(st.Resident, HandleStatus{
			ID:              id,
			State:           h.State().String(),
			BufferedSeconds: h.BufferedSeconds(),
			WeakReady:       h.WeakReady(),
			Protected:       p.protection.Has(id),
			Current:         id == st.Current,
			CreatedAt:       h.CreatedAt(),
		})
	}

	for id, fl := range p.inflight {
		st.InFlight = append(st.InFlight, FlightStatus{
			ID:       id,
			Priority: fl.priority.String(),
			Progress: p.progress[id],
		})
	}
	sort.Slice(st.InFlight, func(i, j int) bool { return st.InFlight[i].ID < st.InFlight[j].ID })

	cutoff := time.Now().Add(-p.config.FailureBackoff)
	for id, at := range p.failures {
		if at.After(cutoff) {
			st.Backoff = append(st.Backoff, id)
		}
	}
	sort.Strings(st.Backoff)

	return st
}
