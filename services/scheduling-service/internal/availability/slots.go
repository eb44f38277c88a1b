// Package availability computes candidate booking slots per employee.
// Inputs are plain data; nothing here reads storage or keeps state between
// calls.
package availability

import (
	"sort"
	"time"

	"github.com/dkalita/servicebook/services/scheduling-service/internal/model"
	"github.com/dkalita/servicebook/services/scheduling-service/internal/timewindow"
)

// EmployeeDay is one candidate employee's resolved calendar for a single
// date: the working window and the busy time inside it.
type EmployeeDay struct {
	EmployeeID string
	Window     timewindow.Interval
	Busy       []timewindow.Interval
}

type Request struct {
	Duration time.Duration
	Step     time.Duration
	Now      time.Time
}

// Slots returns every start where a booking of req.Duration fits inside a
// candidate's free time. Starts are generated at req.Step boundaries from
// the beginning of each free sub-interval and must not be in the past.
//
// Ordering: start time ascending, then employee id for stable ties. A fully
// booked day yields an empty result, not an error.
func Slots(req Request, candidates []EmployeeDay) []model.TimeSlot {
	if req.Duration <= 0 || req.Step <= 0 {
		return nil
	}

	var slots []model.TimeSlot
	for _, c := range candidates {
		if c.Window.Empty() {
			continue
		}
		for _, free := range timewindow.Subtract(c.Window, c.Busy) {
			for t := free.Start; !t.Add(req.Duration).After(free.End); t = t.Add(req.Step) {
				if t.Before(req.Now) {
					continue
				}
				slots = append(slots, model.TimeSlot{
					EmployeeID: c.EmployeeID,
					Start:      t,
					End:        t.Add(req.Duration),
				})
			}
		}
	}

	sort.Slice(slots, func(i, j int) bool {
		if !slots[i].Start.Equal(slots[j].Start) {
			return slots[i].Start.Before(slots[j].Start)
		}
		return slots[i].EmployeeID < slots[j].EmployeeID
	})
	return slots
}

// WorkingWindow resolves an employee's window for date. A nil weekday entry
// falls back to def; a non-working day returns ok=false.
func WorkingWindow(emp *model.Employee, date time.Time, def model.DayHours) (timewindow.Interval, bool) {
	hours := emp.Hours[int(date.Weekday())]
	if hours == nil {
		hours = &def
	}
	if !hours.Working || hours.EndMinute <= hours.StartMinute {
		return timewindow.Interval{}, false
	}
	midnight := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	return timewindow.Interval{
		Start: midnight.Add(time.Duration(hours.StartMinute) * time.Minute),
		End:   midnight.Add(time.Duration(hours.EndMinute) * time.Minute),
	}, true
}
