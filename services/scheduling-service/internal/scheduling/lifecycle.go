package scheduling

import "github.com/dkalita/servicebook/services/scheduling-service/internal/model"

// Appointment lifecycle. Initial state is scheduled; completed, cancelled
// and no_show are terminal. rescheduled is transient: it only exists inside
// the reschedule unit and re-enters scheduled before commit.
var appointmentTransitions = map[model.AppointmentStatus][]model.AppointmentStatus{
	model.AppointmentScheduled:   {model.AppointmentConfirmed, model.AppointmentCancelled, model.AppointmentRescheduled},
	model.AppointmentConfirmed:   {model.AppointmentInProgress, model.AppointmentCancelled, model.AppointmentNoShow, model.AppointmentRescheduled},
	model.AppointmentInProgress:  {model.AppointmentCompleted, model.AppointmentCancelled},
	model.AppointmentRescheduled: {model.AppointmentScheduled},
}

func canTransitionAppointment(from, to model.AppointmentStatus) bool {
	for _, next := range appointmentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

var assignmentTransitions = map[model.AssignmentStatus][]model.AssignmentStatus{
	model.AssignmentAssigned:   {model.AssignmentInProgress, model.AssignmentCancelled},
	model.AssignmentInProgress: {model.AssignmentCompleted, model.AssignmentCancelled},
}

func canTransitionAssignment(from, to model.AssignmentStatus) bool {
	for _, next := range assignmentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
