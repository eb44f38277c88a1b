package outbox

import (
	"encoding/json"
	"time"
)

// Topic names follow <service>.<aggregate>.<action>.v1; the Kafka topic
// equals the event type.
const (
	TopicAppointmentBooked      = "scheduling.appointment.booked.v1"
	TopicAppointmentRescheduled = "scheduling.appointment.rescheduled.v1"
	TopicAppointmentCancelled   = "scheduling.appointment.cancelled.v1"
)

// Event is the notification envelope appended inside the scheduling atomic
// unit. Delivery is fire-and-forget from the engine's perspective.
type Event struct {
	EventID       string
	AppointmentID string
	CustomerID    string
	EventType     string
	NewStart      *time.Time
}

type payload struct {
	AppointmentID string     `json:"appointment_id"`
	CustomerID    string     `json:"customer_id"`
	EventType     string     `json:"event_type"`
	NewStart      *time.Time `json:"new_start,omitempty"`
}

func (e Event) Payload() ([]byte, error) {
	return json.Marshal(payload{
		AppointmentID: e.AppointmentID,
		CustomerID:    e.CustomerID,
		EventType:     e.EventType,
		NewStart:      e.NewStart,
	})
}
