package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dkalita/servicebook/libs/httpx"
	"github.com/dkalita/servicebook/services/scheduling-service/internal/model"
	"github.com/dkalita/servicebook/services/scheduling-service/internal/scheduling"
	"github.com/dkalita/servicebook/services/scheduling-service/internal/storage"
)

type SchedulingHandler struct {
	engine *scheduling.Engine
	store  storage.Store
	logger *slog.Logger
}

func NewSchedulingHandler(engine *scheduling.Engine, store storage.Store, logger *slog.Logger) *SchedulingHandler {
	return &SchedulingHandler{engine: engine, store: store, logger: logger}
}

func (h *SchedulingHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/appointments/book", h.Book)
	mux.HandleFunc("/api/v1/appointments/reschedule", h.Reschedule)
	mux.HandleFunc("/api/v1/appointments/cancel", h.Cancel)
	mux.HandleFunc("/api/v1/appointments/confirm", h.Confirm)
	mux.HandleFunc("/api/v1/appointments/start", h.Start)
	mux.HandleFunc("/api/v1/appointments/complete", h.Complete)
	mux.HandleFunc("/api/v1/appointments/no-show", h.NoShow)
	mux.HandleFunc("/api/v1/appointments", h.Appointments)
	mux.HandleFunc("/api/v1/assignments/assign", h.Assign)
	mux.HandleFunc("/api/v1/assignments/reassign", h.Reassign)
	mux.HandleFunc("/api/v1/assignments/cancel", h.CancelAssignment)
	mux.HandleFunc("/api/v1/assignments/transition", h.TransitionAssignment)
	mux.HandleFunc("/api/v1/slots", h.Slots)
	mux.HandleFunc("/api/v1/time-off", h.TimeOff)
}

type appointmentResponse struct {
	ID           string `json:"id"`
	CustomerID   string `json:"customer_id"`
	ServiceID    string `json:"service_id"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	Status       string `json:"status"`
	CancelReason string `json:"cancel_reason,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type assignmentResponse struct {
	ID            string `json:"id"`
	AppointmentID string `json:"appointment_id"`
	EmployeeID    string `json:"employee_id"`
	Status        string `json:"status"`
	Notes         string `json:"notes,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func appointmentJSON(a *model.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:           a.ID,
		CustomerID:   a.CustomerID,
		ServiceID:    a.ServiceID,
		StartTime:    a.StartTime.Format(time.RFC3339),
		EndTime:      a.EndTime.Format(time.RFC3339),
		Status:       string(a.Status),
		CancelReason: a.CancelReason,
		CreatedAt:    a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    a.UpdatedAt.Format(time.RFC3339),
	}
}

func assignmentJSON(a *model.Assignment) assignmentResponse {
	return assignmentResponse{
		ID:            a.ID,
		AppointmentID: a.AppointmentID,
		EmployeeID:    a.EmployeeID,
		Status:        string(a.Status),
		Notes:         a.Notes,
		CreatedAt:     a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     a.UpdatedAt.Format(time.RFC3339),
	}
}

// writeSchedulingError maps the engine's error taxonomy onto HTTP codes.
func (h *SchedulingHandler) writeSchedulingError(w http.ResponseWriter, err error) {
	switch {
	case scheduling.IsValidation(err):
		httpx.Error(w, http.StatusBadRequest, err.Error())
	case scheduling.IsNotFound(err):
		httpx.Error(w, http.StatusNotFound, err.Error())
	case scheduling.IsConflict(err):
		httpx.Error(w, http.StatusConflict, err.Error())
	case scheduling.IsInvalidState(err), scheduling.IsInvalidTransition(err):
		httpx.Error(w, http.StatusUnprocessableEntity, err.Error())
	case scheduling.IsPersistence(err):
		h.logger.Error("store unavailable", "err", err)
		httpx.Error(w, http.StatusServiceUnavailable, "store unavailable, retry later")
	default:
		h.logger.Error("unexpected scheduling error", "err", err)
		httpx.Error(w, http.StatusInternalServerError, "internal error")
	}
}

type bookRequest struct {
	CustomerID string `json:"customer_id"`
	ServiceID  string `json:"service_id"`
	StartTime  string `json:"start_time"`
}

func (h *SchedulingHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	if req.CustomerID == "" || req.ServiceID == "" {
		httpx.Error(w, http.StatusBadRequest, "customer_id and service_id required")
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid start_time")
		return
	}

	appt, err := h.engine.Book(r.Context(), scheduling.BookRequest{
		CustomerID:     req.CustomerID,
		ServiceID:      req.ServiceID,
		Start:          start,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		h.writeSchedulingError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, appointmentJSON(appt))
}

type appointmentActionRequest struct {
	AppointmentID string `json:"appointment_id"`
	StartTime     string `json:"start_time,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

func (h *SchedulingHandler) decodeAppointmentAction(w http.ResponseWriter, r *http.Request) (appointmentActionRequest, bool) {
	var req appointmentActionRequest
	if r.Method != http.MethodPost {
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json body")
		return req, false
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		httpx.Error(w, http.StatusBadRequest, "appointment_id required")
		return req, false
	}
	return req, true
}

func (h *SchedulingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAppointmentAction(w, r)
	if !ok {
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid start_time")
		return
	}
	appt, err := h.engine.Reschedule(r.Context(), req.AppointmentID, start)
	if err != nil {
		h.writeSchedulingError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appointmentJSON(appt))
}

func (h *SchedulingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAppointmentAction(w, r)
	if !ok {
		return
	}
	appt, err := h.engine.Cancel(r.Context(), req.AppointmentID, strings.TrimSpace(req.Reason))
	if err != nil {
		h.writeSchedulingError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appointmentJSON(appt))
}

func (h *SchedulingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.appointmentTransition(w, r, h.engine.Confirm)
}

func (h *SchedulingHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.appointmentTransition(w, r, h.engine.Start)
}

func (h *SchedulingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.appointmentTransition(w, r, h.engine.Complete)
}

func (h *SchedulingHandler) NoShow(w http.ResponseWriter, r *http.Request) {
	h.appointmentTransition(w, r, h.engine.MarkNoShow)
}

func (h *SchedulingHandler) appointmentTransition(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, appointmentID string) (*model.Appointment, error),
) {
	req, ok := h.decodeAppointmentAction(w, r)
	if !ok {
		return
	}
	appt, err := op(r.Context(), req.AppointmentID)
	if err != nil {
		h.writeSchedulingError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appointmentJSON(appt))
}

// Appointments serves GET lookups: ?id= for one appointment with its
// assignments, ?date=YYYY-MM-DD for the day listing.
func (h *SchedulingHandler) Appointments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if id := strings.TrimSpace(r.URL.Query().Get("id")); id != "" {
		appt, assignments, err := h.engine.GetAppointment(r.Context(), id)
		if err != nil {
			h.writeSchedulingError(w, err)
			return
		}
		resp := struct {
			Appointment appointmentResponse  `json:"appointment"`
			Assignments []assignmentResponse `json:"assignments"`
		}{Appointment: appointmentJSON(appt), Assignments: []assignmentResponse{}}
		for _, asg := range assignments {
			resp.Assignments = append(resp.Assignments, assignmentJSON(asg))
		}
		httpx.WriteJSON(w, http.StatusOK, resp)
		return
	}

	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if dateStr == "" {
		httpx.Error(w, http.StatusBadRequest, "id or date required")
		return
	}
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid date")
		return
	}

	appts, err := h.engine.ListAppointments(r.Context(), date)
	if err != nil {
		h.writeSchedulingError(w, err)
		return
	}
	out := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		out = append(out, appointmentJSON(a))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointments": out})
}

type assignRequest struct {
	AppointmentID string `json:"appointment_id"`
	EmployeeID    string `json:"employee_id"`
	Notes         string `json:"notes"`
}

func (h *SchedulingHandler) Assign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.EmployeeID = strings.TrimSpace(req.EmployeeID)
	if req.AppointmentID == "" || req.EmployeeID == "" {
		httpx.Error(w, http.StatusBadRequest, "appointment_id and employee_id required")
		return
	}

	asg, err := h.engine.AssignStaff(r.Context(), req.AppointmentID, req.EmployeeID, strings.TrimSpace(req.Notes))
	if err != nil {
		h.writeSchedulingError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, assignmentJSON(asg))
}

type assignmentActionRequest struct {
	AssignmentID string `json:"assignment_id"`
	EmployeeID   string `json:"employee_id,omitempty"`
	Status       string `json:"status,omitempty"`
}

func (h *SchedulingHandler) decodeAssignmentAction(w http.ResponseWriter, r *http.Request) (assignmentActionRequest, bool) {
	var req assignmentActionRequest
	if r.Method != http.MethodPost {
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json body")
		return req, false
	}
	req.AssignmentID = strings.TrimSpace(req.AssignmentID)
	if req.AssignmentID == "" {
		httpx.Error(w, http.StatusBadRequest, "assignment_id required")
		return req, false
	}
	return req, true
}

func (h *SchedulingHandler) Reassign(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAssignmentAction(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.EmployeeID) == "" {
		httpx.Error(w, http.StatusBadRequest, "employee_id required")
		return
	}
	asg, err := h.engine.ReassignStaff(r.Context(), req.AssignmentID, strings.TrimSpace(req.EmployeeID))
	if err != nil {
		h.writeSchedulingError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, assignmentJSON(asg))
}

func (h *SchedulingHandler) CancelAssignment(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAssignmentAction(w, r)
	if !ok {
		return
	}
	if err := h.engine.CancelAssignment(r.Context(), req.AssignmentID); err != nil {
		h.writeSchedulingError(w, err)
		return
	}
	asg, err := h.engine.GetAssignment(r.Context(), req.AssignmentID)
	if err != nil {
		h.writeSchedulingError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, assignmentJSON(asg))
}

func (h *SchedulingHandler) TransitionAssignment(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAssignmentAction(w, r)
	if !ok {
		return
	}
	if err := h.engine.TransitionAssignment(r.Context(), req.AssignmentID, model.AssignmentStatus(strings.TrimSpace(req.Status))); err != nil {
		h.writeSchedulingError(w, err)
		return
	}
	asg, err := h.engine.GetAssignment(r.Context(), req.AssignmentID)
	if err != nil {
		h.writeSchedulingError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, assignmentJSON(asg))
}

type slotResponse struct {
	EmployeeID string `json:"employee_id"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
}

func (h *SchedulingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	serviceID := strings.TrimSpace(q.Get("service_id"))
	dateStr := strings.TrimSpace(q.Get("date"))
	if serviceID == "" || dateStr == "" {
		httpx.Error(w, http.StatusBadRequest, "service_id and date required")
		return
	}
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid date")
		return
	}

	slots, err := h.engine.AvailableSlots(r.Context(), scheduling.SlotsRequest{
		ServiceID:   serviceID,
		Date:        date,
		EmployeeIDs: q["employee_id"],
	})
	if err != nil {
		h.writeSchedulingError(w, err)
		return
	}
	out := make([]slotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotResponse{
			EmployeeID: s.EmployeeID,
			StartTime:  s.Start.Format(time.RFC3339),
			EndTime:    s.End.Format(time.RFC3339),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"slots": out})
}

type timeOffRequest struct {
	EmployeeID string `json:"employee_id"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Reason     string `json:"reason"`
}

type timeOffResponse struct {
	ID         string `json:"id"`
	EmployeeID string `json:"employee_id"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Reason     string `json:"reason,omitempty"`
}

// TimeOff manages availability blackouts: POST creates, GET lists for a
// window, DELETE removes by id.
func (h *SchedulingHandler) TimeOff(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createTimeOff(w, r)
	case http.MethodGet:
		h.listTimeOff(w, r)
	case http.MethodDelete:
		h.deleteTimeOff(w, r)
	default:
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *SchedulingHandler) createTimeOff(w http.ResponseWriter, r *http.Request) {
	var req timeOffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.EmployeeID = strings.TrimSpace(req.EmployeeID)
	if req.EmployeeID == "" {
		httpx.Error(w, http.StatusBadRequest, "employee_id required")
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid start_time")
		return
	}
	end, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid end_time")
		return
	}
	if !end.After(start) {
		httpx.Error(w, http.StatusBadRequest, "end_time must be after start_time")
		return
	}
	if _, err := h.store.GetEmployee(r.Context(), req.EmployeeID); err != nil {
		httpx.Error(w, http.StatusNotFound, "employee not found")
		return
	}

	rec := &model.TimeOff{
		ID:         uuid.NewString(),
		EmployeeID: req.EmployeeID,
		StartTime:  start,
		EndTime:    end,
		Reason:     strings.TrimSpace(req.Reason),
	}
	if err := h.store.CreateTimeOff(r.Context(), rec); err != nil {
		h.logger.Error("time off create failed", "err", err)
		httpx.Error(w, http.StatusServiceUnavailable, "store unavailable, retry later")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, timeOffResponse{
		ID:         rec.ID,
		EmployeeID: rec.EmployeeID,
		StartTime:  rec.StartTime.Format(time.RFC3339),
		EndTime:    rec.EndTime.Format(time.RFC3339),
		Reason:     rec.Reason,
	})
}

func (h *SchedulingHandler) listTimeOff(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := time.Parse("2006-01-02", strings.TrimSpace(q.Get("from")))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid from date")
		return
	}
	to, err := time.Parse("2006-01-02", strings.TrimSpace(q.Get("to")))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid to date")
		return
	}

	records, err := h.store.ListTimeOff(r.Context(), strings.TrimSpace(q.Get("employee_id")), from, to.AddDate(0, 0, 1))
	if err != nil {
		h.logger.Error("time off list failed", "err", err)
		httpx.Error(w, http.StatusServiceUnavailable, "store unavailable, retry later")
		return
	}
	out := make([]timeOffResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, timeOffResponse{
			ID:         rec.ID,
			EmployeeID: rec.EmployeeID,
			StartTime:  rec.StartTime.Format(time.RFC3339),
			EndTime:    rec.EndTime.Format(time.RFC3339),
			Reason:     rec.Reason,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"time_off": out})
}

func (h *SchedulingHandler) deleteTimeOff(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		httpx.Error(w, http.StatusBadRequest, "id required")
		return
	}
	if err := h.store.DeleteTimeOff(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpx.Error(w, http.StatusNotFound, "time off not found")
			return
		}
		h.logger.Error("time off delete failed", "err", err)
		httpx.Error(w, http.StatusServiceUnavailable, "store unavailable, retry later")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
