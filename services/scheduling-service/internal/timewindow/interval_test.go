package timewindow

import (
	"testing"
	"time"
)

var day = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func iv(sh, sm, eh, em int) Interval {
	return Interval{Start: at(sh, sm), End: at(eh, em)}
}

func TestOverlaps_HalfOpen(t *testing.T) {
	cases := []struct {
		name string
		a, b Interval
		want bool
	}{
		{"disjoint", iv(9, 0, 10, 0), iv(11, 0, 12, 0), false},
		{"back to back", iv(9, 0, 10, 0), iv(10, 0, 11, 0), false},
		{"partial", iv(9, 0, 10, 0), iv(9, 30, 10, 30), true},
		{"contained", iv(9, 0, 12, 0), iv(10, 0, 11, 0), true},
		{"identical", iv(9, 0, 10, 0), iv(9, 0, 10, 0), true},
	}
	for _, tc := range cases {
		if got := Overlaps(tc.a, tc.b); got != tc.want {
			t.Fatalf("%s: Overlaps = %v, want %v", tc.name, got, tc.want)
		}
		if got := Overlaps(tc.b, tc.a); got != tc.want {
			t.Fatalf("%s (swapped): Overlaps = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestMerge_CollapsesAdjacentAndOverlapping(t *testing.T) {
	in := []Interval{
		iv(11, 0, 11, 30),
		iv(9, 0, 10, 0),
		iv(10, 0, 10, 15), // adjacent to the first
		iv(9, 30, 9, 45),  // contained
		iv(12, 0, 12, 0),  // empty, dropped
	}
	out := Merge(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 merged intervals, got %d: %v", len(out), out)
	}
	if !out[0].Start.Equal(at(9, 0)) || !out[0].End.Equal(at(10, 15)) {
		t.Fatalf("first merged interval = %v", out[0])
	}
	if !out[1].Start.Equal(at(11, 0)) || !out[1].End.Equal(at(11, 30)) {
		t.Fatalf("second merged interval = %v", out[1])
	}
}

func TestSubtract(t *testing.T) {
	window := iv(9, 0, 17, 0)
	busy := []Interval{
		iv(10, 0, 11, 0),
		iv(8, 0, 9, 30),  // spills over the window start
		iv(16, 30, 18, 0), // spills over the window end
	}
	free := Subtract(window, busy)
	want := []Interval{
		iv(9, 30, 10, 0),
		iv(11, 0, 16, 30),
	}
	if len(free) != len(want) {
		t.Fatalf("expected %d free intervals, got %d: %v", len(want), len(free), free)
	}
	for i := range want {
		if !free[i].Start.Equal(want[i].Start) || !free[i].End.Equal(want[i].End) {
			t.Fatalf("free[%d] = %v, want %v", i, free[i], want[i])
		}
	}
}

func TestSubtract_FullyBusy(t *testing.T) {
	free := Subtract(iv(9, 0, 17, 0), []Interval{iv(8, 0, 18, 0)})
	if len(free) != 0 {
		t.Fatalf("expected no free intervals, got %v", free)
	}
}

func TestSubtract_NoBusy(t *testing.T) {
	window := iv(9, 0, 17, 0)
	free := Subtract(window, nil)
	if len(free) != 1 || !free[0].Start.Equal(window.Start) || !free[0].End.Equal(window.End) {
		t.Fatalf("expected the whole window back, got %v", free)
	}
}

func TestClamp(t *testing.T) {
	bounds := iv(9, 0, 17, 0)
	got := Clamp(iv(8, 0, 10, 0), bounds)
	if !got.Start.Equal(at(9, 0)) || !got.End.Equal(at(10, 0)) {
		t.Fatalf("Clamp = %v", got)
	}
	if got := Clamp(iv(18, 0, 19, 0), bounds); !got.Empty() {
		t.Fatalf("expected empty interval, got %v", got)
	}
}
