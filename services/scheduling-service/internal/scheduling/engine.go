// Package scheduling is the appointment and staff-assignment engine: the
// conflict rule, both lifecycles and the facade every inbound surface
// calls. All write paths run inside a store atomic unit scoped to the
// employees whose calendars they can touch and the appointment whose
// window they read.
package scheduling

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dkalita/servicebook/services/scheduling-service/internal/availability"
	"github.com/dkalita/servicebook/services/scheduling-service/internal/model"
	"github.com/dkalita/servicebook/services/scheduling-service/internal/outbox"
	"github.com/dkalita/servicebook/services/scheduling-service/internal/storage"
	"github.com/dkalita/servicebook/services/scheduling-service/internal/timewindow"
)

// rescheduleRetries bounds the optimistic retry when the assignment set
// changes between the snapshot and the locked re-read.
const rescheduleRetries = 3

type Config struct {
	// SlotStep is the granularity of generated slot starts.
	SlotStep time.Duration
	// BookingHorizon caps how far ahead a start time may lie.
	BookingHorizon time.Duration
	// Default working day, minutes from midnight, applied Monday through
	// Friday when an employee has no per-weekday override.
	WorkdayStartMinute int
	WorkdayEndMinute   int
	// Now is injectable for tests. Defaults to time.Now.
	Now func() time.Time
	// Hours overrides the replica's working hours when set. The gRPC
	// directory provider plugs in here; a lookup failure falls back to
	// the replica.
	Hours HoursProvider
}

type HoursProvider interface {
	EmployeeHours(ctx context.Context, employeeID string) ([7]*model.DayHours, error)
}

type Engine struct {
	store storage.Store
	cfg   Config
}

func NewEngine(store storage.Store, cfg Config) *Engine {
	if cfg.SlotStep <= 0 {
		cfg.SlotStep = 15 * time.Minute
	}
	if cfg.BookingHorizon <= 0 {
		cfg.BookingHorizon = 90 * 24 * time.Hour
	}
	if cfg.WorkdayEndMinute <= cfg.WorkdayStartMinute {
		cfg.WorkdayStartMinute = 9 * 60
		cfg.WorkdayEndMinute = 17 * 60
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{store: store, cfg: cfg}
}

func (e *Engine) now() time.Time { return e.cfg.Now() }

func (e *Engine) defaultHours(date time.Time) model.DayHours {
	wd := date.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return model.DayHours{Working: false}
	}
	return model.DayHours{
		Working:     true,
		StartMinute: e.cfg.WorkdayStartMinute,
		EndMinute:   e.cfg.WorkdayEndMinute,
	}
}

// conflictingEmployees returns the employees among busy whose occupied
// windows overlap iv, skipping the excluded assignment.
func conflictingEmployees(busy []model.BusyInterval, iv timewindow.Interval, excludeAssignmentID string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, b := range busy {
		if b.AssignmentID == excludeAssignmentID {
			continue
		}
		if !timewindow.Overlaps(timewindow.Interval{Start: b.Start, End: b.End}, iv) {
			continue
		}
		if _, ok := seen[b.EmployeeID]; ok {
			continue
		}
		seen[b.EmployeeID] = struct{}{}
		out = append(out, b.EmployeeID)
	}
	sort.Strings(out)
	return out
}

// storeErr passes typed domain failures through and wraps everything else
// as a PersistenceError.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isDomain(err) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

type BookRequest struct {
	CustomerID     string
	ServiceID      string
	Start          time.Time
	IdempotencyKey string
}

// Book creates an appointment in scheduled. Staff assignment is a separate
// step; a booked appointment may exist unassigned.
func (e *Engine) Book(ctx context.Context, req BookRequest) (*model.Appointment, error) {
	if req.IdempotencyKey != "" {
		if id, ok, err := e.store.LookupIdempotencyKey(ctx, req.IdempotencyKey); err != nil {
			return nil, storeErr("book", err)
		} else if ok {
			appt, _, err := e.GetAppointment(ctx, id)
			return appt, err
		}
	}

	now := e.now()
	if req.Start.Before(now) {
		return nil, &ValidationError{Field: "start", Reason: "start time is in the past"}
	}
	if req.Start.After(now.Add(e.cfg.BookingHorizon)) {
		return nil, &ValidationError{Field: "start", Reason: "start time is beyond the booking horizon"}
	}

	if _, err := e.store.GetCustomer(ctx, req.CustomerID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &NotFoundError{Kind: "customer", ID: req.CustomerID}
		}
		return nil, storeErr("book", err)
	}
	svc, err := e.store.GetService(ctx, req.ServiceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &NotFoundError{Kind: "service", ID: req.ServiceID}
		}
		return nil, storeErr("book", err)
	}
	if svc.DurationMins <= 0 {
		return nil, &ValidationError{Field: "service_id", Reason: "service has no duration"}
	}

	appt := &model.Appointment{
		ID:         uuid.NewString(),
		CustomerID: req.CustomerID,
		ServiceID:  req.ServiceID,
		StartTime:  req.Start,
		EndTime:    req.Start.Add(time.Duration(svc.DurationMins) * time.Minute),
		Status:     model.AppointmentScheduled,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = e.store.Update(ctx, storage.Scope{}, func(tx storage.Tx) error {
		if err := tx.PutAppointment(ctx, appt); err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			if err := tx.PutIdempotencyKey(ctx, req.IdempotencyKey, appt.ID); err != nil {
				return err
			}
		}
		return tx.AppendEvent(ctx, outbox.Event{
			EventID:       uuid.NewString(),
			AppointmentID: appt.ID,
			CustomerID:    appt.CustomerID,
			EventType:     outbox.TopicAppointmentBooked,
			NewStart:      &appt.StartTime,
		})
	})
	if err != nil {
		return nil, storeErr("book", err)
	}
	return appt, nil
}

// AssignStaff binds an employee to an appointment. The conflict check and
// the write share one atomic unit over the employee and the appointment,
// so a concurrent reschedule cannot move the window under the check.
func (e *Engine) AssignStaff(ctx context.Context, appointmentID, employeeID, notes string) (*model.Assignment, error) {
	emp, err := e.store.GetEmployee(ctx, employeeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &NotFoundError{Kind: "employee", ID: employeeID}
		}
		return nil, storeErr("assign", err)
	}
	if !emp.Active {
		return nil, &ValidationError{Field: "employee_id", Reason: "employee is not active"}
	}

	now := e.now()
	asg := &model.Assignment{
		ID:            uuid.NewString(),
		AppointmentID: appointmentID,
		EmployeeID:    employeeID,
		Status:        model.AssignmentAssigned,
		Notes:         notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = e.store.Update(ctx, storage.Scope{
		EmployeeIDs:    []string{employeeID},
		AppointmentIDs: []string{appointmentID},
	}, func(tx storage.Tx) error {
		appt, err := tx.GetAppointment(ctx, appointmentID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return &NotFoundError{Kind: "appointment", ID: appointmentID}
			}
			return err
		}
		if appt.Status.Terminal() {
			return &InvalidStateError{
				Kind: "appointment", ID: appointmentID,
				Status: string(appt.Status), Reason: "cannot assign staff to a closed appointment",
			}
		}

		window := timewindow.Interval{Start: appt.StartTime, End: appt.EndTime}
		busy, err := tx.ListEmployeeBusy(ctx, employeeID, appt.StartTime, appt.EndTime)
		if err != nil {
			return err
		}
		if offenders := conflictingEmployees(busy, window, ""); len(offenders) > 0 {
			return &ConflictError{EmployeeIDs: offenders, Start: appt.StartTime, End: appt.EndTime}
		}
		return tx.PutAssignment(ctx, asg)
	})
	if err != nil {
		return nil, storeErr("assign", err)
	}
	return asg, nil
}

// ReassignStaff moves an assignment to a different employee. Both the old
// and the new employee are locked; the old slot is implicitly freed.
func (e *Engine) ReassignStaff(ctx context.Context, assignmentID, newEmployeeID string) (*model.Assignment, error) {
	emp, err := e.store.GetEmployee(ctx, newEmployeeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &NotFoundError{Kind: "employee", ID: newEmployeeID}
		}
		return nil, storeErr("reassign", err)
	}
	if !emp.Active {
		return nil, &ValidationError{Field: "employee_id", Reason: "employee is not active"}
	}

	oldEmployeeID, appointmentID, err := e.snapshotAssignmentEmployee(ctx, assignmentID)
	if err != nil {
		return nil, err
	}

	var result *model.Assignment
	for attempt := 0; attempt < rescheduleRetries; attempt++ {
		retry := false
		err := e.store.Update(ctx, storage.Scope{
			EmployeeIDs:    []string{oldEmployeeID, newEmployeeID},
			AppointmentIDs: []string{appointmentID},
		}, func(tx storage.Tx) error {
			asg, err := tx.GetAssignment(ctx, assignmentID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return &NotFoundError{Kind: "assignment", ID: assignmentID}
				}
				return err
			}
			if asg.EmployeeID != oldEmployeeID {
				// Lost a race with a concurrent reassign; lock the right
				// employee and try again.
				oldEmployeeID = asg.EmployeeID
				retry = true
				return nil
			}
			if asg.Status.Terminal() {
				return &InvalidStateError{
					Kind: "assignment", ID: assignmentID,
					Status: string(asg.Status), Reason: "cannot reassign a closed assignment",
				}
			}

			appt, err := tx.GetAppointment(ctx, asg.AppointmentID)
			if err != nil {
				return err
			}
			window := timewindow.Interval{Start: appt.StartTime, End: appt.EndTime}
			busy, err := tx.ListEmployeeBusy(ctx, newEmployeeID, appt.StartTime, appt.EndTime)
			if err != nil {
				return err
			}
			if offenders := conflictingEmployees(busy, window, asg.ID); len(offenders) > 0 {
				return &ConflictError{EmployeeIDs: offenders, Start: appt.StartTime, End: appt.EndTime}
			}

			asg.EmployeeID = newEmployeeID
			asg.UpdatedAt = e.now()
			if err := tx.PutAssignment(ctx, asg); err != nil {
				return err
			}
			result = asg
			return nil
		})
		if err != nil {
			return nil, storeErr("reassign", err)
		}
		if !retry {
			return result, nil
		}
	}
	return nil, &ConflictError{EmployeeIDs: []string{oldEmployeeID}}
}

// CancelAssignment is idempotent: cancelling an already cancelled
// assignment is a no-op success.
func (e *Engine) CancelAssignment(ctx context.Context, assignmentID string) error {
	return e.mutateAssignment(ctx, assignmentID, func(asg *model.Assignment) error {
		if asg.Status == model.AssignmentCancelled {
			return nil
		}
		if !canTransitionAssignment(asg.Status, model.AssignmentCancelled) {
			return &InvalidTransitionError{
				Kind: "assignment", ID: assignmentID,
				From: string(asg.Status), To: string(model.AssignmentCancelled),
			}
		}
		asg.Status = model.AssignmentCancelled
		asg.UpdatedAt = e.now()
		return nil
	})
}

// TransitionAssignment drives the assignment state machine.
func (e *Engine) TransitionAssignment(ctx context.Context, assignmentID string, to model.AssignmentStatus) error {
	if !to.Valid() {
		return &ValidationError{Field: "status", Reason: "unknown assignment status"}
	}
	return e.mutateAssignment(ctx, assignmentID, func(asg *model.Assignment) error {
		if !canTransitionAssignment(asg.Status, to) {
			return &InvalidTransitionError{
				Kind: "assignment", ID: assignmentID,
				From: string(asg.Status), To: string(to),
			}
		}
		asg.Status = to
		asg.UpdatedAt = e.now()
		return nil
	})
}

// mutateAssignment locks the assignment's employee (re-snapshotting if a
// concurrent reassign moved it) and applies mutate inside the unit. A
// mutate that leaves the assignment untouched writes nothing.
func (e *Engine) mutateAssignment(ctx context.Context, assignmentID string, mutate func(asg *model.Assignment) error) error {
	employeeID, appointmentID, err := e.snapshotAssignmentEmployee(ctx, assignmentID)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < rescheduleRetries; attempt++ {
		retry := false
		err := e.store.Update(ctx, storage.Scope{
			EmployeeIDs:    []string{employeeID},
			AppointmentIDs: []string{appointmentID},
		}, func(tx storage.Tx) error {
			asg, err := tx.GetAssignment(ctx, assignmentID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return &NotFoundError{Kind: "assignment", ID: assignmentID}
				}
				return err
			}
			if asg.EmployeeID != employeeID {
				employeeID = asg.EmployeeID
				retry = true
				return nil
			}
			before := *asg
			if err := mutate(asg); err != nil {
				return err
			}
			if *asg == before {
				return nil
			}
			return tx.PutAssignment(ctx, asg)
		})
		if err != nil {
			return storeErr("assignment update", err)
		}
		if !retry {
			return nil
		}
	}
	return &ConflictError{EmployeeIDs: []string{employeeID}}
}

func (e *Engine) snapshotAssignmentEmployee(ctx context.Context, assignmentID string) (string, string, error) {
	var employeeID, appointmentID string
	err := e.store.View(ctx, func(tx storage.ReadTx) error {
		asg, err := tx.GetAssignment(ctx, assignmentID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return &NotFoundError{Kind: "assignment", ID: assignmentID}
			}
			return err
		}
		employeeID = asg.EmployeeID
		appointmentID = asg.AppointmentID
		return nil
	})
	if err != nil {
		return "", "", storeErr("assignment read", err)
	}
	return employeeID, appointmentID, nil
}

// Reschedule moves an appointment to a new start, keeping its duration and
// every assignment binding. All occupying assignments are re-validated
// against the new window inside one unit; any conflict fails the whole
// move with no partial state.
func (e *Engine) Reschedule(ctx context.Context, appointmentID string, newStart time.Time) (*model.Appointment, error) {
	now := e.now()
	if newStart.Before(now) {
		return nil, &ValidationError{Field: "start", Reason: "start time is in the past"}
	}
	if newStart.After(now.Add(e.cfg.BookingHorizon)) {
		return nil, &ValidationError{Field: "start", Reason: "start time is beyond the booking horizon"}
	}

	employeeIDs, err := e.snapshotOccupyingEmployees(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	var result *model.Appointment
	for attempt := 0; attempt < rescheduleRetries; attempt++ {
		retry := false
		err := e.store.Update(ctx, storage.Scope{
			EmployeeIDs:    employeeIDs,
			AppointmentIDs: []string{appointmentID},
		}, func(tx storage.Tx) error {
			appt, err := tx.GetAppointment(ctx, appointmentID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return &NotFoundError{Kind: "appointment", ID: appointmentID}
				}
				return err
			}
			if !canTransitionAppointment(appt.Status, model.AppointmentRescheduled) {
				return &InvalidTransitionError{
					Kind: "appointment", ID: appointmentID,
					From: string(appt.Status), To: string(model.AppointmentRescheduled),
				}
			}

			assignments, err := tx.ListAssignmentsByAppointment(ctx, appointmentID)
			if err != nil {
				return err
			}
			current := occupyingEmployees(assignments)
			if !sameIDSet(current, employeeIDs) {
				// An assign or reassign slipped in between the snapshot and
				// the lock; restart with the fresh employee set.
				employeeIDs = current
				retry = true
				return nil
			}

			duration := appt.EndTime.Sub(appt.StartTime)
			window := timewindow.Interval{Start: newStart, End: newStart.Add(duration)}

			var offenders []string
			for _, asg := range assignments {
				if !asg.Status.Occupies() {
					continue
				}
				busy, err := tx.ListEmployeeBusy(ctx, asg.EmployeeID, window.Start, window.End)
				if err != nil {
					return err
				}
				offenders = append(offenders, conflictingEmployees(busy, window, asg.ID)...)
			}
			if len(offenders) > 0 {
				sort.Strings(offenders)
				return &ConflictError{EmployeeIDs: dedup(offenders), Start: window.Start, End: window.End}
			}

			appt.StartTime = window.Start
			appt.EndTime = window.End
			appt.Status = model.AppointmentScheduled
			appt.UpdatedAt = e.now()
			if err := tx.PutAppointment(ctx, appt); err != nil {
				return err
			}
			result = appt
			return tx.AppendEvent(ctx, outbox.Event{
				EventID:       uuid.NewString(),
				AppointmentID: appt.ID,
				CustomerID:    appt.CustomerID,
				EventType:     outbox.TopicAppointmentRescheduled,
				NewStart:      &appt.StartTime,
			})
		})
		if err != nil {
			return nil, storeErr("reschedule", err)
		}
		if !retry {
			return result, nil
		}
	}
	return nil, &ConflictError{EmployeeIDs: employeeIDs}
}

// Cancel moves any non-terminal appointment to cancelled and cascades
// cancellation to its non-terminal assignments inside the same unit.
func (e *Engine) Cancel(ctx context.Context, appointmentID, reason string) (*model.Appointment, error) {
	return e.closeAppointment(ctx, appointmentID, model.AppointmentCancelled, reason)
}

// MarkNoShow records that the customer did not appear. Assignments are
// released the same way a cancellation releases them.
func (e *Engine) MarkNoShow(ctx context.Context, appointmentID string) (*model.Appointment, error) {
	return e.closeAppointment(ctx, appointmentID, model.AppointmentNoShow, "")
}

func (e *Engine) closeAppointment(ctx context.Context, appointmentID string, to model.AppointmentStatus, reason string) (*model.Appointment, error) {
	employeeIDs, err := e.snapshotOccupyingEmployees(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	var result *model.Appointment
	for attempt := 0; attempt < rescheduleRetries; attempt++ {
		retry := false
		err := e.store.Update(ctx, storage.Scope{
			EmployeeIDs:    employeeIDs,
			AppointmentIDs: []string{appointmentID},
		}, func(tx storage.Tx) error {
			appt, err := tx.GetAppointment(ctx, appointmentID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return &NotFoundError{Kind: "appointment", ID: appointmentID}
				}
				return err
			}
			if !canTransitionAppointment(appt.Status, to) {
				return &InvalidTransitionError{
					Kind: "appointment", ID: appointmentID,
					From: string(appt.Status), To: string(to),
				}
			}

			assignments, err := tx.ListAssignmentsByAppointment(ctx, appointmentID)
			if err != nil {
				return err
			}
			current := occupyingEmployees(assignments)
			if !sameIDSet(current, employeeIDs) {
				employeeIDs = current
				retry = true
				return nil
			}

			now := e.now()
			for _, asg := range assignments {
				if asg.Status.Terminal() {
					continue
				}
				asg.Status = model.AssignmentCancelled
				asg.UpdatedAt = now
				if err := tx.PutAssignment(ctx, asg); err != nil {
					return err
				}
			}

			appt.Status = to
			appt.CancelReason = reason
			appt.UpdatedAt = now
			if err := tx.PutAppointment(ctx, appt); err != nil {
				return err
			}
			result = appt
			if to != model.AppointmentCancelled {
				return nil
			}
			return tx.AppendEvent(ctx, outbox.Event{
				EventID:       uuid.NewString(),
				AppointmentID: appt.ID,
				CustomerID:    appt.CustomerID,
				EventType:     outbox.TopicAppointmentCancelled,
			})
		})
		if err != nil {
			return nil, storeErr("cancel", err)
		}
		if !retry {
			return result, nil
		}
	}
	return nil, &ConflictError{EmployeeIDs: employeeIDs}
}

// Confirm moves scheduled -> confirmed.
func (e *Engine) Confirm(ctx context.Context, appointmentID string) (*model.Appointment, error) {
	return e.transitionAppointment(ctx, appointmentID, model.AppointmentConfirmed, nil)
}

// Start moves confirmed -> in_progress and starts every assigned
// assignment with it.
func (e *Engine) Start(ctx context.Context, appointmentID string) (*model.Appointment, error) {
	return e.transitionAppointment(ctx, appointmentID, model.AppointmentInProgress,
		func(asg *model.Assignment) (model.AssignmentStatus, bool) {
			if asg.Status == model.AssignmentAssigned {
				return model.AssignmentInProgress, true
			}
			return "", false
		})
}

// Complete closes the work. It requires staffed work: at least one
// assignment in_progress or completed. Running assignments complete with
// the appointment; untouched assigned ones are released.
func (e *Engine) Complete(ctx context.Context, appointmentID string) (*model.Appointment, error) {
	return e.transitionAppointment(ctx, appointmentID, model.AppointmentCompleted,
		func(asg *model.Assignment) (model.AssignmentStatus, bool) {
			switch asg.Status {
			case model.AssignmentInProgress:
				return model.AssignmentCompleted, true
			case model.AssignmentAssigned:
				return model.AssignmentCancelled, true
			}
			return "", false
		})
}

func (e *Engine) transitionAppointment(
	ctx context.Context,
	appointmentID string,
	to model.AppointmentStatus,
	cascade func(asg *model.Assignment) (model.AssignmentStatus, bool),
) (*model.Appointment, error) {
	employeeIDs, err := e.snapshotOccupyingEmployees(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	var result *model.Appointment
	for attempt := 0; attempt < rescheduleRetries; attempt++ {
		retry := false
		err := e.store.Update(ctx, storage.Scope{
			EmployeeIDs:    employeeIDs,
			AppointmentIDs: []string{appointmentID},
		}, func(tx storage.Tx) error {
			appt, err := tx.GetAppointment(ctx, appointmentID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return &NotFoundError{Kind: "appointment", ID: appointmentID}
				}
				return err
			}
			if !canTransitionAppointment(appt.Status, to) {
				return &InvalidTransitionError{
					Kind: "appointment", ID: appointmentID,
					From: string(appt.Status), To: string(to),
				}
			}

			assignments, err := tx.ListAssignmentsByAppointment(ctx, appointmentID)
			if err != nil {
				return err
			}
			current := occupyingEmployees(assignments)
			if !sameIDSet(current, employeeIDs) {
				employeeIDs = current
				retry = true
				return nil
			}

			if to == model.AppointmentCompleted && !staffed(assignments) {
				return &InvalidStateError{
					Kind: "appointment", ID: appointmentID,
					Status: string(appt.Status), Reason: "cannot complete unstaffed work",
				}
			}

			now := e.now()
			if cascade != nil {
				for _, asg := range assignments {
					next, ok := cascade(asg)
					if !ok {
						continue
					}
					asg.Status = next
					asg.UpdatedAt = now
					if err := tx.PutAssignment(ctx, asg); err != nil {
						return err
					}
				}
			}

			appt.Status = to
			appt.UpdatedAt = now
			if err := tx.PutAppointment(ctx, appt); err != nil {
				return err
			}
			result = appt
			return nil
		})
		if err != nil {
			return nil, storeErr("transition", err)
		}
		if !retry {
			return result, nil
		}
	}
	return nil, &ConflictError{EmployeeIDs: employeeIDs}
}

func staffed(assignments []*model.Assignment) bool {
	for _, asg := range assignments {
		if asg.Status == model.AssignmentInProgress || asg.Status == model.AssignmentCompleted {
			return true
		}
	}
	return false
}

func (e *Engine) snapshotOccupyingEmployees(ctx context.Context, appointmentID string) ([]string, error) {
	var employeeIDs []string
	err := e.store.View(ctx, func(tx storage.ReadTx) error {
		if _, err := tx.GetAppointment(ctx, appointmentID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return &NotFoundError{Kind: "appointment", ID: appointmentID}
			}
			return err
		}
		assignments, err := tx.ListAssignmentsByAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		employeeIDs = occupyingEmployees(assignments)
		return nil
	})
	if err != nil {
		return nil, storeErr("appointment read", err)
	}
	return employeeIDs, nil
}

func occupyingEmployees(assignments []*model.Assignment) []string {
	var ids []string
	for _, asg := range assignments {
		if asg.Status.Occupies() {
			ids = append(ids, asg.EmployeeID)
		}
	}
	sort.Strings(ids)
	return dedup(ids)
}

func dedup(sorted []string) []string {
	out := sorted[:0]
	for i, id := range sorted {
		if i == 0 || sorted[i-1] != id {
			out = append(out, id)
		}
	}
	return out
}

func sameIDSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type SlotsRequest struct {
	ServiceID string
	Date      time.Time
	// EmployeeIDs narrows the candidate set; empty means every active
	// employee.
	EmployeeIDs []string
}

// AvailableSlots computes bookable starts for one date. A fully booked day
// yields an empty result, not an error. Working hours, existing occupied
// windows and time off all constrain the candidates.
func (e *Engine) AvailableSlots(ctx context.Context, req SlotsRequest) ([]model.TimeSlot, error) {
	now := e.now()
	dayStart := time.Date(req.Date.Year(), req.Date.Month(), req.Date.Day(), 0, 0, 0, 0, req.Date.Location())
	dayEnd := dayStart.Add(24 * time.Hour)
	if dayEnd.Before(now) {
		return nil, &ValidationError{Field: "date", Reason: "date is in the past"}
	}

	svc, err := e.store.GetService(ctx, req.ServiceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &NotFoundError{Kind: "service", ID: req.ServiceID}
		}
		return nil, storeErr("slots", err)
	}
	if svc.DurationMins <= 0 {
		return nil, &ValidationError{Field: "service_id", Reason: "service has no duration"}
	}

	var employees []*model.Employee
	if len(req.EmployeeIDs) > 0 {
		for _, id := range req.EmployeeIDs {
			emp, err := e.store.GetEmployee(ctx, id)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return nil, &NotFoundError{Kind: "employee", ID: id}
				}
				return nil, storeErr("slots", err)
			}
			employees = append(employees, emp)
		}
	} else {
		employees, err = e.store.ListActiveEmployees(ctx)
		if err != nil {
			return nil, storeErr("slots", err)
		}
	}

	def := e.defaultHours(dayStart)
	var candidates []availability.EmployeeDay
	err = e.store.View(ctx, func(tx storage.ReadTx) error {
		for _, emp := range employees {
			if !emp.Active {
				continue
			}
			if e.cfg.Hours != nil {
				if hours, err := e.cfg.Hours.EmployeeHours(ctx, emp.ID); err == nil {
					emp.Hours = hours
				}
			}
			window, ok := availability.WorkingWindow(emp, dayStart, def)
			if !ok {
				continue
			}
			busyIntervals, err := tx.ListEmployeeBusy(ctx, emp.ID, dayStart, dayEnd)
			if err != nil {
				return err
			}
			busy := make([]timewindow.Interval, 0, len(busyIntervals))
			for _, b := range busyIntervals {
				busy = append(busy, timewindow.Interval{Start: b.Start, End: b.End})
			}
			timeOff, err := e.store.ListTimeOff(ctx, emp.ID, dayStart, dayEnd)
			if err != nil {
				return err
			}
			for _, t := range timeOff {
				busy = append(busy, timewindow.Interval{Start: t.StartTime, End: t.EndTime})
			}
			candidates = append(candidates, availability.EmployeeDay{
				EmployeeID: emp.ID,
				Window:     window,
				Busy:       busy,
			})
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("slots", err)
	}

	return availability.Slots(availability.Request{
		Duration: time.Duration(svc.DurationMins) * time.Minute,
		Step:     e.cfg.SlotStep,
		Now:      now,
	}, candidates), nil
}

// GetAppointment returns the appointment and its assignments.
func (e *Engine) GetAppointment(ctx context.Context, id string) (*model.Appointment, []*model.Assignment, error) {
	var (
		appt        *model.Appointment
		assignments []*model.Assignment
	)
	err := e.store.View(ctx, func(tx storage.ReadTx) error {
		var err error
		appt, err = tx.GetAppointment(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return &NotFoundError{Kind: "appointment", ID: id}
			}
			return err
		}
		assignments, err = tx.ListAssignmentsByAppointment(ctx, id)
		return err
	})
	if err != nil {
		return nil, nil, storeErr("appointment read", err)
	}
	return appt, assignments, nil
}

// ListAppointments returns every appointment touching the given calendar
// day, ordered by start time.
func (e *Engine) ListAppointments(ctx context.Context, date time.Time) ([]*model.Appointment, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	out, err := e.store.ListAppointmentsByDay(ctx, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return nil, storeErr("appointment list", err)
	}
	return out, nil
}

// GetAssignment is a point lookup for the HTTP surface.
func (e *Engine) GetAssignment(ctx context.Context, id string) (*model.Assignment, error) {
	var asg *model.Assignment
	err := e.store.View(ctx, func(tx storage.ReadTx) error {
		var err error
		asg, err = tx.GetAssignment(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return &NotFoundError{Kind: "assignment", ID: id}
		}
		return err
	})
	if err != nil {
		return nil, storeErr("assignment read", err)
	}
	return asg, nil
}
