// Package storage defines the persistence contract for the scheduling
// engine and provides in-memory and Postgres implementations.
//
// The contended resources are the per-employee assignment set and the
// appointment whose window a conflict decision reads. Update locks the
// scope for the duration of fn: two units touching disjoint scopes never
// block each other, units sharing an employee or an appointment are
// serialized. Locks are acquired appointments first, then employees,
// each in sorted id order, so overlapping scopes cannot deadlock.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dkalita/servicebook/services/scheduling-service/internal/model"
	"github.com/dkalita/servicebook/services/scheduling-service/internal/outbox"
)

var ErrNotFound = errors.New("not found")

// ReadTx is the read surface available inside both View and Update.
type ReadTx interface {
	GetAppointment(ctx context.Context, id string) (*model.Appointment, error)
	GetAssignment(ctx context.Context, id string) (*model.Assignment, error)
	ListAssignmentsByAppointment(ctx context.Context, appointmentID string) ([]*model.Assignment, error)
	// ListEmployeeBusy returns the occupied windows (assigned/in_progress
	// assignments joined with their appointment times) for one employee
	// inside [from, to).
	ListEmployeeBusy(ctx context.Context, employeeID string, from, to time.Time) ([]model.BusyInterval, error)
}

// Tx adds the write surface. Writes are staged and become visible only if
// fn returns nil; a failed unit leaves no partial state.
type Tx interface {
	ReadTx
	PutAppointment(ctx context.Context, a *model.Appointment) error
	PutAssignment(ctx context.Context, a *model.Assignment) error
	// PutIdempotencyKey records key -> appointmentID with the unit,
	// first-writer-wins. Committing it with the booking write means a key
	// can never reference an appointment that was not created, and a
	// created appointment is never left without its key.
	PutIdempotencyKey(ctx context.Context, key, appointmentID string) error
	// AppendEvent schedules a notification event with the unit: committed
	// together with the writes, delivered asynchronously after commit.
	AppendEvent(ctx context.Context, evt outbox.Event) error
}

// Scope names the rows an atomic unit serializes on. Any appointment
// whose [start, end) feeds a conflict decision inside the unit must be
// listed, alongside every employee whose calendar the unit can touch;
// otherwise a concurrent reschedule can move the window under the check.
type Scope struct {
	EmployeeIDs    []string
	AppointmentIDs []string
}

type Store interface {
	// View runs fn against committed state.
	View(ctx context.Context, fn func(tx ReadTx) error) error
	// Update locks the scope (deduplicated, sorted internally) and runs fn
	// as one atomic unit. An empty scope is allowed for writes that cannot
	// conflict with anything, e.g. booking a brand-new appointment.
	Update(ctx context.Context, scope Scope, fn func(tx Tx) error) error

	GetEmployee(ctx context.Context, id string) (*model.Employee, error)
	ListActiveEmployees(ctx context.Context) ([]*model.Employee, error)
	UpsertEmployee(ctx context.Context, e *model.Employee) error

	GetService(ctx context.Context, id string) (*model.Service, error)
	PutService(ctx context.Context, s *model.Service) error

	GetCustomer(ctx context.Context, id string) (*model.Customer, error)
	PutCustomer(ctx context.Context, c *model.Customer) error

	ListAppointmentsByDay(ctx context.Context, dayStart, dayEnd time.Time) ([]*model.Appointment, error)

	CreateTimeOff(ctx context.Context, t *model.TimeOff) error
	ListTimeOff(ctx context.Context, employeeID string, from, to time.Time) ([]*model.TimeOff, error)
	DeleteTimeOff(ctx context.Context, id string) error

	// LookupIdempotencyKey reports the appointment recorded for the key,
	// if any. Keys are written through Tx.PutIdempotencyKey.
	LookupIdempotencyKey(ctx context.Context, key string) (string, bool, error)

	// RecordEventOnce is consumer-side inbox dedup. It returns false when
	// the (consumer, eventID) pair was already recorded.
	RecordEventOnce(ctx context.Context, consumer, eventID string) (bool, error)
}
