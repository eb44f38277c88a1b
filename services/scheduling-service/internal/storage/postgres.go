package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dkalita/servicebook/libs/db"
	"github.com/dkalita/servicebook/services/scheduling-service/internal/model"
	"github.com/dkalita/servicebook/services/scheduling-service/internal/outbox"
)

// Postgres implements Store on pgx. The atomic unit is a transaction that
// first locks the scoped appointment rows, then the employee rows, each in
// sorted id order with SELECT FOR UPDATE; concurrent units sharing an
// appointment or an employee serialize on those row locks.
type Postgres struct {
	pool *db.Pool
	repo *outbox.Repository
}

func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{pool: pool, repo: outbox.NewRepository(pool)}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS employee_hours (
		employee_id TEXT NOT NULL REFERENCES employees(id),
		weekday SMALLINT NOT NULL,
		working BOOLEAN NOT NULL,
		start_minute INT NOT NULL DEFAULT 0,
		end_minute INT NOT NULL DEFAULT 0,
		PRIMARY KEY (employee_id, weekday)
	)`,
	`CREATE TABLE IF NOT EXISTS services (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		duration_minutes INT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		service_id TEXT NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL,
		cancel_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_appointments_start ON appointments (start_time)`,
	`CREATE TABLE IF NOT EXISTS assignments (
		id TEXT PRIMARY KEY,
		appointment_id TEXT NOT NULL REFERENCES appointments(id),
		employee_id TEXT NOT NULL,
		status TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_assignments_employee ON assignments (employee_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_assignments_appointment ON assignments (appointment_id)`,
	`CREATE TABLE IF NOT EXISTS time_off (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		reason TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		key TEXT PRIMARY KEY,
		appointment_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id BIGSERIAL PRIMARY KEY,
		event_id TEXT NOT NULL,
		appointment_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload JSONB NOT NULL,
		trace_id TEXT NOT NULL DEFAULT '',
		span_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		published_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS inbox_events (
		consumer TEXT NOT NULL,
		event_id TEXT NOT NULL,
		received_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (consumer, event_id)
	)`,
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (p *Postgres) View(ctx context.Context, fn func(tx ReadTx) error) error {
	return fn(&pgTx{q: p.pool})
}

func (p *Postgres) Update(ctx context.Context, scope Scope, fn func(tx Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Appointment rows before employee rows; the same order in every unit
	// keeps overlapping scopes deadlock-free.
	if err := lockRows(ctx, tx, "appointments", scope.AppointmentIDs); err != nil {
		return err
	}
	if err := lockRows(ctx, tx, "employees", scope.EmployeeIDs); err != nil {
		return err
	}

	if err := fn(&pgTx{q: tx, tx: tx, repo: p.repo}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func lockRows(ctx context.Context, tx pgx.Tx, table string, ids []string) error {
	uniq := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}
	if len(uniq) == 0 {
		return nil
	}
	sort.Strings(uniq)

	rows, err := tx.Query(ctx, `
		SELECT id FROM `+table+`
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, uniq)
	if err != nil {
		return err
	}
	rows.Close()
	return rows.Err()
}

type pgTx struct {
	q    querier
	tx   pgx.Tx
	repo *outbox.Repository
}

func (t *pgTx) GetAppointment(ctx context.Context, id string) (*model.Appointment, error) {
	var a model.Appointment
	err := t.q.QueryRow(ctx, `
		SELECT id, customer_id, service_id, start_time, end_time, status, cancel_reason, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`, id).Scan(&a.ID, &a.CustomerID, &a.ServiceID, &a.StartTime, &a.EndTime, (*string)(&a.Status), &a.CancelReason, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *pgTx) GetAssignment(ctx context.Context, id string) (*model.Assignment, error) {
	var a model.Assignment
	err := t.q.QueryRow(ctx, `
		SELECT id, appointment_id, employee_id, status, notes, created_at, updated_at
		FROM assignments
		WHERE id = $1
	`, id).Scan(&a.ID, &a.AppointmentID, &a.EmployeeID, (*string)(&a.Status), &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *pgTx) ListAssignmentsByAppointment(ctx context.Context, appointmentID string) ([]*model.Assignment, error) {
	rows, err := t.q.Query(ctx, `
		SELECT id, appointment_id, employee_id, status, notes, created_at, updated_at
		FROM assignments
		WHERE appointment_id = $1
		ORDER BY created_at
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Assignment
	for rows.Next() {
		var a model.Assignment
		if err := rows.Scan(&a.ID, &a.AppointmentID, &a.EmployeeID, (*string)(&a.Status), &a.Notes, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (t *pgTx) ListEmployeeBusy(ctx context.Context, employeeID string, from, to time.Time) ([]model.BusyInterval, error) {
	rows, err := t.q.Query(ctx, `
		SELECT asg.id, ap.start_time, ap.end_time
		FROM assignments asg
		JOIN appointments ap ON ap.id = asg.appointment_id
		WHERE asg.employee_id = $1
		  AND asg.status IN ('assigned', 'in_progress')
		  AND ap.start_time < $3
		  AND ap.end_time > $2
		ORDER BY ap.start_time
	`, employeeID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BusyInterval
	for rows.Next() {
		b := model.BusyInterval{EmployeeID: employeeID}
		if err := rows.Scan(&b.AssignmentID, &b.Start, &b.End); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (t *pgTx) PutAppointment(ctx context.Context, a *model.Appointment) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO appointments (id, customer_id, service_id, start_time, end_time, status, cancel_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			status = EXCLUDED.status,
			cancel_reason = EXCLUDED.cancel_reason,
			updated_at = EXCLUDED.updated_at
	`, a.ID, a.CustomerID, a.ServiceID, a.StartTime, a.EndTime, string(a.Status), a.CancelReason, a.CreatedAt, a.UpdatedAt)
	return err
}

func (t *pgTx) PutAssignment(ctx context.Context, a *model.Assignment) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO assignments (id, appointment_id, employee_id, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET employee_id = EXCLUDED.employee_id,
			status = EXCLUDED.status,
			notes = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at
	`, a.ID, a.AppointmentID, a.EmployeeID, string(a.Status), a.Notes, a.CreatedAt, a.UpdatedAt)
	return err
}

func (t *pgTx) PutIdempotencyKey(ctx context.Context, key, appointmentID string) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO idempotency_keys (key, appointment_id)
		VALUES ($1, $2)
		ON CONFLICT (key) DO NOTHING
	`, key, appointmentID)
	return err
}

func (t *pgTx) AppendEvent(ctx context.Context, evt outbox.Event) error {
	if t.tx == nil {
		return errors.New("append event outside update")
	}
	return t.repo.Insert(ctx, t.tx, evt)
}

func (p *Postgres) GetEmployee(ctx context.Context, id string) (*model.Employee, error) {
	var e model.Employee
	err := p.pool.QueryRow(ctx, `
		SELECT id, name, role, active
		FROM employees
		WHERE id = $1
	`, id).Scan(&e.ID, &e.Name, &e.Role, &e.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := p.loadHours(ctx, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (p *Postgres) loadHours(ctx context.Context, e *model.Employee) error {
	rows, err := p.pool.Query(ctx, `
		SELECT weekday, working, start_minute, end_minute
		FROM employee_hours
		WHERE employee_id = $1
	`, e.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			weekday int
			h       model.DayHours
		)
		if err := rows.Scan(&weekday, &h.Working, &h.StartMinute, &h.EndMinute); err != nil {
			return err
		}
		if weekday >= 0 && weekday < 7 {
			e.Hours[weekday] = &h
		}
	}
	return rows.Err()
}

func (p *Postgres) ListActiveEmployees(ctx context.Context) ([]*model.Employee, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, name, role, active
		FROM employees
		WHERE active
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Employee
	for rows.Next() {
		var e model.Employee
		if err := rows.Scan(&e.ID, &e.Name, &e.Role, &e.Active); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	for _, e := range out {
		if err := p.loadHours(ctx, e); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (p *Postgres) UpsertEmployee(ctx context.Context, e *model.Employee) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO employees (id, name, role, active, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
			role = EXCLUDED.role,
			active = EXCLUDED.active,
			updated_at = now()
	`, e.ID, e.Name, e.Role, e.Active)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM employee_hours WHERE employee_id = $1`, e.ID); err != nil {
		return err
	}
	for weekday, h := range e.Hours {
		if h == nil {
			continue
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO employee_hours (employee_id, weekday, working, start_minute, end_minute)
			VALUES ($1, $2, $3, $4, $5)
		`, e.ID, weekday, h.Working, h.StartMinute, h.EndMinute)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) GetService(ctx context.Context, id string) (*model.Service, error) {
	var s model.Service
	err := p.pool.QueryRow(ctx, `
		SELECT id, name, category, duration_minutes
		FROM services
		WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.Category, &s.DurationMins)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *Postgres) PutService(ctx context.Context, s *model.Service) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO services (id, name, category, duration_minutes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
			category = EXCLUDED.category,
			duration_minutes = EXCLUDED.duration_minutes
	`, s.ID, s.Name, s.Category, s.DurationMins)
	return err
}

func (p *Postgres) GetCustomer(ctx context.Context, id string) (*model.Customer, error) {
	var c model.Customer
	err := p.pool.QueryRow(ctx, `
		SELECT id, name, email, phone
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Email, &c.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (p *Postgres) PutCustomer(ctx context.Context, c *model.Customer) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO customers (id, name, email, phone)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone
	`, c.ID, c.Name, c.Email, c.Phone)
	return err
}

func (p *Postgres) ListAppointmentsByDay(ctx context.Context, dayStart, dayEnd time.Time) ([]*model.Appointment, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, customer_id, service_id, start_time, end_time, status, cancel_reason, created_at, updated_at
		FROM appointments
		WHERE start_time < $2 AND end_time > $1
		ORDER BY start_time, id
	`, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Appointment
	for rows.Next() {
		var a model.Appointment
		if err := rows.Scan(&a.ID, &a.CustomerID, &a.ServiceID, &a.StartTime, &a.EndTime, (*string)(&a.Status), &a.CancelReason, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateTimeOff(ctx context.Context, t *model.TimeOff) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO time_off (id, employee_id, start_time, end_time, reason)
		VALUES ($1, $2, $3, $4, $5)
	`, t.ID, t.EmployeeID, t.StartTime, t.EndTime, t.Reason)
	return err
}

func (p *Postgres) ListTimeOff(ctx context.Context, employeeID string, from, to time.Time) ([]*model.TimeOff, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, employee_id, start_time, end_time, reason
		FROM time_off
		WHERE ($1 = '' OR employee_id = $1)
		  AND start_time < $3 AND end_time > $2
		ORDER BY start_time
	`, employeeID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.TimeOff
	for rows.Next() {
		var t model.TimeOff
		if err := rows.Scan(&t.ID, &t.EmployeeID, &t.StartTime, &t.EndTime, &t.Reason); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteTimeOff(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM time_off WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) LookupIdempotencyKey(ctx context.Context, key string) (string, bool, error) {
	var id string
	err := p.pool.QueryRow(ctx, `
		SELECT appointment_id FROM idempotency_keys WHERE key = $1
	`, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (p *Postgres) RecordEventOnce(ctx context.Context, consumer, eventID string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO inbox_events (consumer, event_id)
		VALUES ($1, $2)
		ON CONFLICT (consumer, event_id) DO NOTHING
	`, consumer, eventID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
