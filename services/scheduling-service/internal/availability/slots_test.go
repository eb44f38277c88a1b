package availability

import (
	"testing"
	"time"

	"github.com/dkalita/servicebook/services/scheduling-service/internal/model"
	"github.com/dkalita/servicebook/services/scheduling-service/internal/timewindow"
)

var day = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func TestSlots_Basic(t *testing.T) {
	candidates := []EmployeeDay{
		{
			EmployeeID: "emp-1",
			Window:     timewindow.Interval{Start: at(9, 0), End: at(10, 0)},
			Busy: []timewindow.Interval{
				{Start: at(9, 15), End: at(9, 45)},
			},
		},
	}
	slots := Slots(Request{Duration: 15 * time.Minute, Step: 15 * time.Minute, Now: day}, candidates)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d: %v", len(slots), slots)
	}
	if !slots[0].Start.Equal(at(9, 0)) {
		t.Fatalf("first slot start = %s, want 09:00", slots[0].Start.Format(time.RFC3339))
	}
	if !slots[1].Start.Equal(at(9, 45)) {
		t.Fatalf("second slot start = %s, want 09:45", slots[1].Start.Format(time.RFC3339))
	}
	if !slots[1].End.Equal(at(10, 0)) {
		t.Fatalf("second slot end = %s, want 10:00", slots[1].End.Format(time.RFC3339))
	}
}

func TestSlots_SkipsPast(t *testing.T) {
	candidates := []EmployeeDay{
		{EmployeeID: "emp-1", Window: timewindow.Interval{Start: at(9, 0), End: at(10, 0)}},
	}
	now := at(9, 31)
	slots := Slots(Request{Duration: 15 * time.Minute, Step: 15 * time.Minute, Now: now}, candidates)
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if !slots[0].Start.Equal(at(9, 45)) {
		t.Fatalf("slot start = %s, want 09:45", slots[0].Start.Format(time.RFC3339))
	}
}

func TestSlots_OrderedByStartThenEmployee(t *testing.T) {
	window := timewindow.Interval{Start: at(9, 0), End: at(9, 30)}
	candidates := []EmployeeDay{
		{EmployeeID: "emp-b", Window: window},
		{EmployeeID: "emp-a", Window: window},
	}
	slots := Slots(Request{Duration: 30 * time.Minute, Step: 15 * time.Minute, Now: day}, candidates)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if slots[0].EmployeeID != "emp-a" || slots[1].EmployeeID != "emp-b" {
		t.Fatalf("tie not broken by employee id: %v", slots)
	}
}

func TestSlots_FullyBookedIsEmptyNotError(t *testing.T) {
	candidates := []EmployeeDay{
		{
			EmployeeID: "emp-1",
			Window:     timewindow.Interval{Start: at(9, 0), End: at(17, 0)},
			Busy:       []timewindow.Interval{{Start: at(9, 0), End: at(17, 0)}},
		},
	}
	slots := Slots(Request{Duration: 30 * time.Minute, Step: 15 * time.Minute, Now: day}, candidates)
	if len(slots) != 0 {
		t.Fatalf("expected no slots, got %v", slots)
	}
}

func TestWorkingWindow_DefaultFallback(t *testing.T) {
	emp := &model.Employee{ID: "emp-1", Active: true}
	def := model.DayHours{Working: true, StartMinute: 540, EndMinute: 1020}

	win, ok := WorkingWindow(emp, day, def)
	if !ok {
		t.Fatal("expected a working window")
	}
	if !win.Start.Equal(at(9, 0)) || !win.End.Equal(at(17, 0)) {
		t.Fatalf("window = %v", win)
	}
}

func TestWorkingWindow_EmployeeOverrideAndDayOff(t *testing.T) {
	emp := &model.Employee{ID: "emp-1", Active: true}
	wd := int(day.Weekday())
	emp.Hours[wd] = &model.DayHours{Working: true, StartMinute: 600, EndMinute: 720}

	def := model.DayHours{Working: true, StartMinute: 540, EndMinute: 1020}
	win, ok := WorkingWindow(emp, day, def)
	if !ok || !win.Start.Equal(at(10, 0)) || !win.End.Equal(at(12, 0)) {
		t.Fatalf("override window = %v ok=%v", win, ok)
	}

	emp.Hours[wd] = &model.DayHours{Working: false}
	if _, ok := WorkingWindow(emp, day, def); ok {
		t.Fatal("expected day off")
	}
}
