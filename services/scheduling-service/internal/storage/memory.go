package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dkalita/servicebook/services/scheduling-service/internal/model"
	"github.com/dkalita/servicebook/services/scheduling-service/internal/outbox"
	"github.com/dkalita/servicebook/services/scheduling-service/internal/timewindow"
)

// EventSink receives committed notification events. Called after the unit
// commits; sink failures cannot roll scheduling state back.
type EventSink func(ctx context.Context, events []outbox.Event)

// Memory is the in-process Store. Used by the service when DATABASE_URL is
// empty and by the engine tests.
type Memory struct {
	mu    sync.RWMutex
	locks keyedLocks

	employees    map[string]*model.Employee
	services     map[string]*model.Service
	customers    map[string]*model.Customer
	appointments map[string]*model.Appointment
	assignments  map[string]*model.Assignment
	timeOff      map[string]*model.TimeOff
	idem         map[string]string
	inbox        map[string]struct{}

	sink EventSink
}

func NewMemory() *Memory {
	return &Memory{
		employees:    make(map[string]*model.Employee),
		services:     make(map[string]*model.Service),
		customers:    make(map[string]*model.Customer),
		appointments: make(map[string]*model.Appointment),
		assignments:  make(map[string]*model.Assignment),
		timeOff:      make(map[string]*model.TimeOff),
		idem:         make(map[string]string),
		inbox:        make(map[string]struct{}),
	}
}

// SetEventSink installs the post-commit event consumer. Not safe to call
// once Update is in use.
func (m *Memory) SetEventSink(sink EventSink) { m.sink = sink }

// keyedLocks hands out one mutex per scope key.
type keyedLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (k *keyedLocks) get(id string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.m == nil {
		k.m = make(map[string]*sync.Mutex)
	}
	l, ok := k.m[id]
	if !ok {
		l = &sync.Mutex{}
		k.m[id] = l
	}
	return l
}

// scopeKeys flattens a scope into namespaced lock keys. The appointment
// prefix sorts before the employee prefix, so every unit acquires
// appointment locks first.
func scopeKeys(scope Scope) []string {
	keys := make([]string, 0, len(scope.AppointmentIDs)+len(scope.EmployeeIDs))
	for _, id := range scope.AppointmentIDs {
		keys = append(keys, "appointment/"+id)
	}
	for _, id := range scope.EmployeeIDs {
		keys = append(keys, "employee/"+id)
	}
	return keys
}

// acquire locks the given keys in sorted order and returns the release func.
func (k *keyedLocks) acquire(keys []string) func() {
	uniq := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		uniq = append(uniq, key)
	}
	sort.Strings(uniq)

	held := make([]*sync.Mutex, 0, len(uniq))
	for _, key := range uniq {
		l := k.get(key)
		l.Lock()
		held = append(held, l)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

func (m *Memory) View(ctx context.Context, fn func(tx ReadTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&memTx{m: m})
}

func (m *Memory) Update(ctx context.Context, scope Scope, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	release := m.locks.acquire(scopeKeys(scope))
	defer release()

	tx := &memTx{
		m:            m,
		appointments: make(map[string]*model.Appointment),
		assignments:  make(map[string]*model.Assignment),
		idem:         make(map[string]string),
	}
	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	for id, a := range tx.appointments {
		m.appointments[id] = a
	}
	for id, a := range tx.assignments {
		m.assignments[id] = a
	}
	for key, apptID := range tx.idem {
		if _, ok := m.idem[key]; !ok {
			m.idem[key] = apptID
		}
	}
	m.mu.Unlock()

	if m.sink != nil && len(tx.events) > 0 {
		m.sink(ctx, tx.events)
	}
	return nil
}

// memTx reads through to committed state with staged writes layered on
// top. A nil staging map makes the tx read-only (View).
type memTx struct {
	m            *Memory
	appointments map[string]*model.Appointment
	assignments  map[string]*model.Assignment
	idem         map[string]string
	events       []outbox.Event
}

func (t *memTx) GetAppointment(_ context.Context, id string) (*model.Appointment, error) {
	if a, ok := t.appointments[id]; ok {
		return cloneAppointment(a), nil
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	a, ok := t.m.appointments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAppointment(a), nil
}

func (t *memTx) GetAssignment(_ context.Context, id string) (*model.Assignment, error) {
	if a, ok := t.assignments[id]; ok {
		return cloneAssignment(a), nil
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	a, ok := t.m.assignments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAssignment(a), nil
}

func (t *memTx) ListAssignmentsByAppointment(_ context.Context, appointmentID string) ([]*model.Assignment, error) {
	out := make(map[string]*model.Assignment)
	t.m.mu.RLock()
	for id, a := range t.m.assignments {
		if a.AppointmentID == appointmentID {
			out[id] = a
		}
	}
	t.m.mu.RUnlock()
	for id, a := range t.assignments {
		if a.AppointmentID == appointmentID {
			out[id] = a
		} else {
			delete(out, id)
		}
	}

	res := make([]*model.Assignment, 0, len(out))
	for _, a := range out {
		res = append(res, cloneAssignment(a))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (t *memTx) ListEmployeeBusy(ctx context.Context, employeeID string, from, to time.Time) ([]model.BusyInterval, error) {
	window := timewindow.Interval{Start: from, End: to}

	merged := make(map[string]*model.Assignment)
	t.m.mu.RLock()
	for id, a := range t.m.assignments {
		merged[id] = a
	}
	t.m.mu.RUnlock()
	for id, a := range t.assignments {
		merged[id] = a
	}

	var busy []model.BusyInterval
	for _, a := range merged {
		if a.EmployeeID != employeeID || !a.Status.Occupies() {
			continue
		}
		appt, err := t.GetAppointment(ctx, a.AppointmentID)
		if err != nil {
			return nil, err
		}
		iv := timewindow.Interval{Start: appt.StartTime, End: appt.EndTime}
		if !timewindow.Overlaps(iv, window) {
			continue
		}
		busy = append(busy, model.BusyInterval{
			AssignmentID: a.ID,
			EmployeeID:   employeeID,
			Start:        appt.StartTime,
			End:          appt.EndTime,
		})
	}
	sort.Slice(busy, func(i, j int) bool { return busy[i].Start.Before(busy[j].Start) })
	return busy, nil
}

func (t *memTx) PutAppointment(_ context.Context, a *model.Appointment) error {
	t.appointments[a.ID] = cloneAppointment(a)
	return nil
}

func (t *memTx) PutAssignment(_ context.Context, a *model.Assignment) error {
	t.assignments[a.ID] = cloneAssignment(a)
	return nil
}

func (t *memTx) PutIdempotencyKey(_ context.Context, key, appointmentID string) error {
	t.idem[key] = appointmentID
	return nil
}

func (t *memTx) AppendEvent(_ context.Context, evt outbox.Event) error {
	t.events = append(t.events, evt)
	return nil
}

func (m *Memory) GetEmployee(_ context.Context, id string) (*model.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.employees[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEmployee(e), nil
}

func (m *Memory) ListActiveEmployees(_ context.Context) ([]*model.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Employee
	for _, e := range m.employees {
		if e.Active {
			out = append(out, cloneEmployee(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpsertEmployee(_ context.Context, e *model.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[e.ID] = cloneEmployee(e)
	return nil
}

func (m *Memory) GetService(_ context.Context, id string) (*model.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.services[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) PutService(_ context.Context, s *model.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.services[s.ID] = &cp
	return nil
}

func (m *Memory) GetCustomer(_ context.Context, id string) (*model.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.customers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) PutCustomer(_ context.Context, c *model.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.customers[c.ID] = &cp
	return nil
}

func (m *Memory) ListAppointmentsByDay(_ context.Context, dayStart, dayEnd time.Time) ([]*model.Appointment, error) {
	window := timewindow.Interval{Start: dayStart, End: dayEnd}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Appointment
	for _, a := range m.appointments {
		if timewindow.Overlaps(timewindow.Interval{Start: a.StartTime, End: a.EndTime}, window) {
			out = append(out, cloneAppointment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) CreateTimeOff(_ context.Context, t *model.TimeOff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.timeOff[t.ID] = &cp
	return nil
}

func (m *Memory) ListTimeOff(_ context.Context, employeeID string, from, to time.Time) ([]*model.TimeOff, error) {
	window := timewindow.Interval{Start: from, End: to}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.TimeOff
	for _, t := range m.timeOff {
		if employeeID != "" && t.EmployeeID != employeeID {
			continue
		}
		if !timewindow.Overlaps(timewindow.Interval{Start: t.StartTime, End: t.EndTime}, window) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *Memory) DeleteTimeOff(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.timeOff[id]; !ok {
		return ErrNotFound
	}
	delete(m.timeOff, id)
	return nil
}

func (m *Memory) LookupIdempotencyKey(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.idem[key]
	return id, ok, nil
}

func (m *Memory) RecordEventOnce(_ context.Context, consumer, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := consumer + "|" + eventID
	if _, ok := m.inbox[k]; ok {
		return false, nil
	}
	m.inbox[k] = struct{}{}
	return true, nil
}

func cloneAppointment(a *model.Appointment) *model.Appointment {
	cp := *a
	return &cp
}

func cloneAssignment(a *model.Assignment) *model.Assignment {
	cp := *a
	return &cp
}

func cloneEmployee(e *model.Employee) *model.Employee {
	cp := *e
	for i, h := range e.Hours {
		if h != nil {
			hc := *h
			cp.Hours[i] = &hc
		}
	}
	return &cp
}
