// Package timewindow holds pure interval arithmetic over half-open time
// windows [Start, End). It keeps no state and touches no storage.
package timewindow

import (
	"sort"
	"time"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

func (iv Interval) Empty() bool {
	return !iv.End.After(iv.Start)
}

// Overlaps uses half-open semantics: [s1,e1) overlaps [s2,e2) iff
// s1 < e2 && s2 < e1. Back-to-back windows (e1 == s2) do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// OverlapsAny reports whether iv overlaps any interval in busy.
func OverlapsAny(iv Interval, busy []Interval) bool {
	for _, b := range busy {
		if Overlaps(iv, b) {
			return true
		}
	}
	return false
}

// Merge collapses overlapping and adjacent intervals into a sorted minimal
// set. Empty intervals are dropped. The input slice is not modified.
func Merge(ivs []Interval) []Interval {
	in := make([]Interval, 0, len(ivs))
	for _, iv := range ivs {
		if !iv.Empty() {
			in = append(in, iv)
		}
	}
	if len(in) == 0 {
		return nil
	}
	sort.Slice(in, func(i, j int) bool { return in[i].Start.Before(in[j].Start) })

	out := []Interval{in[0]}
	for _, iv := range in[1:] {
		last := &out[len(out)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Subtract removes busy time from window and returns the remaining free
// sub-intervals in order. busy need not be sorted or disjoint.
func Subtract(window Interval, busy []Interval) []Interval {
	if window.Empty() {
		return nil
	}
	merged := Merge(busy)

	var free []Interval
	cursor := window.Start
	for _, b := range merged {
		if !b.End.After(cursor) {
			continue
		}
		if !b.Start.Before(window.End) {
			break
		}
		if b.Start.After(cursor) {
			free = append(free, Interval{Start: cursor, End: minTime(b.Start, window.End)})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
	}
	if cursor.Before(window.End) {
		free = append(free, Interval{Start: cursor, End: window.End})
	}
	return free
}

// Clamp trims iv to fit inside bounds. Returns an empty interval when they
// do not intersect.
func Clamp(iv, bounds Interval) Interval {
	if iv.Start.Before(bounds.Start) {
		iv.Start = bounds.Start
	}
	if iv.End.After(bounds.End) {
		iv.End = bounds.End
	}
	if iv.Empty() {
		return Interval{Start: bounds.Start, End: bounds.Start}
	}
	return iv
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
