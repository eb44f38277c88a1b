package model

import "time"

// DayHours is a working window for one weekday, in minutes from midnight.
type DayHours struct {
	Working     bool
	StartMinute int
	EndMinute   int
}

// Employee is a read-only replica of the staff directory record. The
// scheduling core never mutates employees beyond keeping the replica fresh.
type Employee struct {
	ID     string
	Name   string
	Role   string
	Active bool
	// Hours is indexed by time.Weekday. A nil entry means the business
	// default applies for that day.
	Hours [7]*DayHours
}

type Service struct {
	ID           string
	Name         string
	Category     string
	DurationMins int
}

type Customer struct {
	ID    string
	Name  string
	Email string
	Phone string
}

type Appointment struct {
	ID           string
	CustomerID   string
	ServiceID    string
	StartTime    time.Time
	EndTime      time.Time
	Status       AppointmentStatus
	CancelReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Assignment struct {
	ID            string
	AppointmentID string
	EmployeeID    string
	Status        AssignmentStatus
	Notes         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TimeOff is an availability blackout for one employee.
type TimeOff struct {
	ID         string
	EmployeeID string
	StartTime  time.Time
	EndTime    time.Time
	Reason     string
}

// TimeSlot is a computed candidate booking window. Never persisted.
type TimeSlot struct {
	EmployeeID string
	Start      time.Time
	End        time.Time
}

// BusyInterval is an occupied window for one employee, carried with the
// assignment id so reschedule checks can exclude their own assignments.
type BusyInterval struct {
	AssignmentID string
	EmployeeID   string
	Start        time.Time
	End          time.Time
}
