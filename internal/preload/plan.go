package preload

import (
	"fmt"
	"sort"

	"github.com/jmylchreest/reelpool/internal/playback"
)

// Request is one preload submission.
type Request struct {
	ID       string
	Priority playback.Priority
}

// Plan is the outcome of one navigation: what to protect, and what to load
// at which priority.
type Plan struct {
	Position  Position
	Axis      Axis
	Current   string
	Protected []string
	Requests  []Request
}

// Wanted returns every id the plan asks for.
func (p Plan) Wanted() []string {
	ids := make([]string, 0, len(p.Requests))
	for _, r := range p.Requests {
		ids = append(ids, r.ID)
	}
	return ids
}

// ComputePlan derives the protect list and prioritised preload list for a
// position.
//
// The current item is High. Its neighbours on the active axis are Normal and
// protected: the previous and next item of the thread when moving
// vertically, the first item of the previous and next thread when moving
// horizontally. Items one hop further are Low: two steps along the active
// axis, plus the first item of each adjacent thread when moving vertically.
func ComputePlan(feed Feed, pos Position, axis Axis) (Plan, error) {
	current, ok := feed.ItemAt(pos)
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s", ErrPositionOutOfRange, pos)
	}

	b := newPlanBuilder(feed)
	b.add(pos, playback.PriorityHigh)

	switch axis {
	case AxisHorizontal:
		for _, d := range []int{-1, 1} {
			b.add(Position{Thread: pos.Thread + d}, playback.PriorityNormal)
		}
		for _, d := range []int{-2, 2} {
			b.add(Position{Thread: pos.Thread + d}, playback.PriorityLow)
		}
	default:
		for _, d := range []int{-1, 1} {
			b.add(Position{Thread: pos.Thread, Item: pos.Item + d}, playback.PriorityNormal)
		}
		for _, d := range []int{-2, 2} {
			b.add(Position{Thread: pos.Thread, Item: pos.Item + d}, playback.PriorityLow)
		}
		for _, d := range []int{-1, 1} {
			b.add(Position{Thread: pos.Thread + d}, playback.PriorityLow)
		}
	}

	plan := Plan{
		Position: pos,
		Axis:     axis,
		Current:  current,
		Requests: b.requests(),
	}
	for _, r := range plan.Requests {
		if r.Priority >= playback.PriorityNormal {
			plan.Protected = append(plan.Protected, r.ID)
		}
	}
	return plan, nil
}

type planBuilder struct {
	feed  Feed
	order []string
	prio  map[string]playback.Priority
}

func newPlanBuilder(feed Feed) *planBuilder {
	return &planBuilder{feed: feed, prio: make(map[string]playback.Priority)}
}

// add records the item at pos, keeping the highest priority for duplicates.
func (b *planBuilder) add(pos Position, prio playback.Priority) {
	id, ok := b.feed.ItemAt(pos)
	if !ok {
		return
	}
	if existing, seen := b.prio[id]; seen {
		if prio > existing {
			b.prio[id] = prio
		}
		return
	}
	b.prio[id] = prio
	b.order = append(b.order, id)
}

// requests returns the requests ordered by priority, then insertion order.
func (b *planBuilder) requests() []Request {
	reqs := make([]Request, 0, len(b.order))
	for _, id := range b.order {
		reqs = append(reqs, Request{ID: id, Priority: b.prio[id]})
	}
	sort.SliceStable(reqs, func(i, j int) bool {
		return reqs[i].Priority > reqs[j].Priority
	})
	return reqs
}
