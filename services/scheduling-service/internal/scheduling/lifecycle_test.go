package scheduling

import (
	"testing"

	"github.com/dkalita/servicebook/services/scheduling-service/internal/model"
)

func TestAppointmentTransitions(t *testing.T) {
	allowed := []struct{ from, to model.AppointmentStatus }{
		{model.AppointmentScheduled, model.AppointmentConfirmed},
		{model.AppointmentScheduled, model.AppointmentCancelled},
		{model.AppointmentScheduled, model.AppointmentRescheduled},
		{model.AppointmentConfirmed, model.AppointmentInProgress},
		{model.AppointmentConfirmed, model.AppointmentCancelled},
		{model.AppointmentConfirmed, model.AppointmentNoShow},
		{model.AppointmentConfirmed, model.AppointmentRescheduled},
		{model.AppointmentInProgress, model.AppointmentCompleted},
		{model.AppointmentInProgress, model.AppointmentCancelled},
		{model.AppointmentRescheduled, model.AppointmentScheduled},
	}
	for _, tr := range allowed {
		if !canTransitionAppointment(tr.from, tr.to) {
			t.Errorf("%s -> %s should be allowed", tr.from, tr.to)
		}
	}

	denied := []struct{ from, to model.AppointmentStatus }{
		{model.AppointmentScheduled, model.AppointmentInProgress},
		{model.AppointmentScheduled, model.AppointmentNoShow},
		{model.AppointmentScheduled, model.AppointmentCompleted},
		{model.AppointmentInProgress, model.AppointmentNoShow},
		{model.AppointmentInProgress, model.AppointmentRescheduled},
		{model.AppointmentCompleted, model.AppointmentScheduled},
		{model.AppointmentCancelled, model.AppointmentScheduled},
		{model.AppointmentNoShow, model.AppointmentConfirmed},
	}
	for _, tr := range denied {
		if canTransitionAppointment(tr.from, tr.to) {
			t.Errorf("%s -> %s should be rejected", tr.from, tr.to)
		}
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	all := []model.AppointmentStatus{
		model.AppointmentScheduled, model.AppointmentConfirmed,
		model.AppointmentInProgress, model.AppointmentCompleted,
		model.AppointmentCancelled, model.AppointmentNoShow,
		model.AppointmentRescheduled,
	}
	for _, from := range all {
		if !from.Terminal() {
			continue
		}
		for _, to := range all {
			if canTransitionAppointment(from, to) {
				t.Errorf("terminal %s has an exit to %s", from, to)
			}
		}
	}
}

func TestAssignmentTransitions(t *testing.T) {
	allowed := []struct{ from, to model.AssignmentStatus }{
		{model.AssignmentAssigned, model.AssignmentInProgress},
		{model.AssignmentAssigned, model.AssignmentCancelled},
		{model.AssignmentInProgress, model.AssignmentCompleted},
		{model.AssignmentInProgress, model.AssignmentCancelled},
	}
	for _, tr := range allowed {
		if !canTransitionAssignment(tr.from, tr.to) {
			t.Errorf("%s -> %s should be allowed", tr.from, tr.to)
		}
	}

	denied := []struct{ from, to model.AssignmentStatus }{
		{model.AssignmentAssigned, model.AssignmentCompleted},
		{model.AssignmentCompleted, model.AssignmentCancelled},
		{model.AssignmentCompleted, model.AssignmentInProgress},
		{model.AssignmentCancelled, model.AssignmentAssigned},
		{model.AssignmentCancelled, model.AssignmentInProgress},
	}
	for _, tr := range denied {
		if canTransitionAssignment(tr.from, tr.to) {
			t.Errorf("%s -> %s should be rejected", tr.from, tr.to)
		}
	}
}
