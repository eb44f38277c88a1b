package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkalita/servicebook/services/scheduling-service/internal/model"
	"github.com/dkalita/servicebook/services/scheduling-service/internal/outbox"
)

var day = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func seedAppointment(t *testing.T, s *Memory, id string, start, end time.Time) {
	t.Helper()
	err := s.Update(context.Background(), Scope{}, func(tx Tx) error {
		return tx.PutAppointment(context.Background(), &model.Appointment{
			ID:         id,
			CustomerID: "cust-1",
			ServiceID:  "svc-1",
			StartTime:  start,
			EndTime:    end,
			Status:     model.AppointmentScheduled,
			CreatedAt:  day,
			UpdatedAt:  day,
		})
	})
	if err != nil {
		t.Fatalf("seed appointment: %v", err)
	}
}

func seedAssignment(t *testing.T, s *Memory, id, apptID, empID string, status model.AssignmentStatus) {
	t.Helper()
	err := s.Update(context.Background(), Scope{EmployeeIDs: []string{empID}, AppointmentIDs: []string{apptID}}, func(tx Tx) error {
		return tx.PutAssignment(context.Background(), &model.Assignment{
			ID:            id,
			AppointmentID: apptID,
			EmployeeID:    empID,
			Status:        status,
			CreatedAt:     day,
			UpdatedAt:     day,
		})
	})
	if err != nil {
		t.Fatalf("seed assignment: %v", err)
	}
}

func TestMemory_GetAppointmentNotFound(t *testing.T) {
	s := NewMemory()
	err := s.View(context.Background(), func(tx ReadTx) error {
		_, err := tx.GetAppointment(context.Background(), "missing")
		return err
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_UpdateFailureLeavesNoState(t *testing.T) {
	s := NewMemory()
	boom := errors.New("boom")
	err := s.Update(context.Background(), Scope{EmployeeIDs: []string{"emp-1"}}, func(tx Tx) error {
		if err := tx.PutAppointment(context.Background(), &model.Appointment{ID: "a1", Status: model.AppointmentScheduled}); err != nil {
			return err
		}
		if err := tx.PutIdempotencyKey(context.Background(), "k1", "a1"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	err = s.View(context.Background(), func(tx ReadTx) error {
		_, err := tx.GetAppointment(context.Background(), "a1")
		return err
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("aborted unit left state behind: %v", err)
	}
	if _, ok, _ := s.LookupIdempotencyKey(context.Background(), "k1"); ok {
		t.Fatal("aborted unit left its idempotency key behind")
	}
}

func TestMemory_StagedWritesVisibleInsideUnit(t *testing.T) {
	s := NewMemory()
	seedAppointment(t, s, "a1", at(9, 0), at(9, 30))

	err := s.Update(context.Background(), Scope{EmployeeIDs: []string{"emp-1"}, AppointmentIDs: []string{"a1"}}, func(tx Tx) error {
		if err := tx.PutAssignment(context.Background(), &model.Assignment{
			ID: "as1", AppointmentID: "a1", EmployeeID: "emp-1",
			Status: model.AssignmentAssigned, CreatedAt: day, UpdatedAt: day,
		}); err != nil {
			return err
		}
		busy, err := tx.ListEmployeeBusy(context.Background(), "emp-1", day, day.Add(24*time.Hour))
		if err != nil {
			return err
		}
		if len(busy) != 1 || busy[0].AssignmentID != "as1" {
			t.Fatalf("staged assignment not visible: %v", busy)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestMemory_ListEmployeeBusySkipsTerminalAssignments(t *testing.T) {
	s := NewMemory()
	seedAppointment(t, s, "a1", at(9, 0), at(9, 30))
	seedAppointment(t, s, "a2", at(10, 0), at(10, 30))
	seedAppointment(t, s, "a3", at(11, 0), at(11, 30))
	seedAssignment(t, s, "as1", "a1", "emp-1", model.AssignmentAssigned)
	seedAssignment(t, s, "as2", "a2", "emp-1", model.AssignmentCancelled)
	seedAssignment(t, s, "as3", "a3", "emp-1", model.AssignmentCompleted)

	var busy []model.BusyInterval
	err := s.View(context.Background(), func(tx ReadTx) error {
		var err error
		busy, err = tx.ListEmployeeBusy(context.Background(), "emp-1", day, day.Add(24*time.Hour))
		return err
	})
	if err != nil {
		t.Fatalf("list busy: %v", err)
	}
	if len(busy) != 1 || busy[0].AssignmentID != "as1" {
		t.Fatalf("expected only the assigned interval, got %v", busy)
	}
}

func TestMemory_EventSinkFiresAfterCommit(t *testing.T) {
	s := NewMemory()
	var got []outbox.Event
	s.SetEventSink(func(_ context.Context, events []outbox.Event) { got = append(got, events...) })

	boom := errors.New("boom")
	_ = s.Update(context.Background(), Scope{}, func(tx Tx) error {
		_ = tx.AppendEvent(context.Background(), outbox.Event{EventID: "e0"})
		return boom
	})
	if len(got) != 0 {
		t.Fatalf("sink received events from an aborted unit: %v", got)
	}

	err := s.Update(context.Background(), Scope{}, func(tx Tx) error {
		return tx.AppendEvent(context.Background(), outbox.Event{EventID: "e1", EventType: outbox.TopicAppointmentBooked})
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(got) != 1 || got[0].EventID != "e1" {
		t.Fatalf("expected one committed event, got %v", got)
	}
}

func TestMemory_IdempotencyFirstWriterWins(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	put := func(appointmentID string) {
		err := s.Update(ctx, Scope{}, func(tx Tx) error {
			return tx.PutIdempotencyKey(ctx, "k", appointmentID)
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	put("a1")
	put("a2")
	id, ok, err := s.LookupIdempotencyKey(ctx, "k")
	if err != nil || !ok || id != "a1" {
		t.Fatalf("lookup = %q %v %v, want a1", id, ok, err)
	}
}

func TestMemory_UnitsSharingAppointmentSerialize(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	first := make(chan struct{})
	go func() {
		_ = s.Update(ctx, Scope{AppointmentIDs: []string{"a1"}}, func(Tx) error {
			close(entered)
			<-release
			return nil
		})
		close(first)
	}()
	<-entered

	second := make(chan struct{})
	go func() {
		_ = s.Update(ctx, Scope{EmployeeIDs: []string{"emp-1"}, AppointmentIDs: []string{"a1"}}, func(Tx) error {
			return nil
		})
		close(second)
	}()

	select {
	case <-second:
		t.Fatal("unit sharing the appointment did not block")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-first
	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("blocked unit never ran")
	}
}

func TestMemory_RecordEventOnce(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	first, err := s.RecordEventOnce(ctx, "scheduling", "evt-1")
	if err != nil || !first {
		t.Fatalf("first = %v %v", first, err)
	}
	second, err := s.RecordEventOnce(ctx, "scheduling", "evt-1")
	if err != nil || second {
		t.Fatalf("second = %v %v, want false", second, err)
	}
	other, err := s.RecordEventOnce(ctx, "other-consumer", "evt-1")
	if err != nil || !other {
		t.Fatalf("other consumer = %v %v, want true", other, err)
	}
}

func TestMemory_TimeOffWindowFilter(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	mk := func(id string, start, end time.Time) {
		if err := s.CreateTimeOff(ctx, &model.TimeOff{ID: id, EmployeeID: "emp-1", StartTime: start, EndTime: end}); err != nil {
			t.Fatal(err)
		}
	}
	mk("t1", at(9, 0), at(12, 0))
	mk("t2", day.AddDate(0, 0, 3), day.AddDate(0, 0, 4))

	got, err := s.ListTimeOff(ctx, "emp-1", day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "t1" {
		t.Fatalf("expected only t1, got %v", got)
	}

	if err := s.DeleteTimeOff(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteTimeOff(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
