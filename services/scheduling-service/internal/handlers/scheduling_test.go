package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dkalita/servicebook/services/scheduling-service/internal/model"
	"github.com/dkalita/servicebook/services/scheduling-service/internal/scheduling"
	"github.com/dkalita/servicebook/services/scheduling-service/internal/storage"
)

var day = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := storage.NewMemory()
	ctx := t.Context()

	if err := store.PutService(ctx, &model.Service{ID: "svc-1", DurationMins: 30}); err != nil {
		t.Fatal(err)
	}
	if err := store.PutCustomer(ctx, &model.Customer{ID: "cust-1"}); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertEmployee(ctx, &model.Employee{ID: "emp-1", Active: true}); err != nil {
		t.Fatal(err)
	}

	eng := scheduling.NewEngine(store, scheduling.Config{
		Now: func() time.Time { return at(8, 0) },
	})

	mux := http.NewServeMux()
	NewSchedulingHandler(eng, store, slog.Default()).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("invalid json response %q: %v", raw, err)
	}
	return out
}

func bookHTTP(t *testing.T, srv *httptest.Server, start time.Time) string {
	t.Helper()
	resp, body := postJSON(t, srv.URL+"/api/v1/appointments/book", map[string]string{
		"customer_id": "cust-1",
		"service_id":  "svc-1",
		"start_time":  start.Format(time.RFC3339),
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("book status = %d, body %v", resp.StatusCode, body)
	}
	return body["id"].(string)
}

func assignHTTP(t *testing.T, srv *httptest.Server, apptID, empID string) (string, *http.Response, map[string]any) {
	t.Helper()
	resp, body := postJSON(t, srv.URL+"/api/v1/assignments/assign", map[string]string{
		"appointment_id": apptID,
		"employee_id":    empID,
	}, nil)
	id, _ := body["id"].(string)
	return id, resp, body
}

func TestBookEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/api/v1/appointments/book", map[string]string{
		"customer_id": "cust-1",
		"service_id":  "svc-1",
		"start_time":  at(9, 0).Format(time.RFC3339),
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "scheduled" {
		t.Fatalf("status field = %v", body["status"])
	}
	if body["end_time"] != at(9, 30).Format(time.RFC3339) {
		t.Fatalf("end_time = %v", body["end_time"])
	}
}

func TestBookEndpoint_BadRequests(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/appointments/book", "application/json", bytes.NewReader([]byte("{")))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed json: status = %d", resp.StatusCode)
	}

	resp2, _ := postJSON(t, srv.URL+"/api/v1/appointments/book", map[string]string{
		"customer_id": "cust-1",
		"service_id":  "svc-1",
		"start_time":  at(7, 0).Format(time.RFC3339),
	}, nil)
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("past start: status = %d", resp2.StatusCode)
	}

	resp3, _ := postJSON(t, srv.URL+"/api/v1/appointments/book", map[string]string{
		"customer_id": "ghost",
		"service_id":  "svc-1",
		"start_time":  at(9, 0).Format(time.RFC3339),
	}, nil)
	if resp3.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown customer: status = %d", resp3.StatusCode)
	}
}

func TestBookEndpoint_IdempotencyKeyReplay(t *testing.T) {
	srv := newTestServer(t)
	headers := map[string]string{"Idempotency-Key": "req-42"}
	payload := map[string]string{
		"customer_id": "cust-1",
		"service_id":  "svc-1",
		"start_time":  at(9, 0).Format(time.RFC3339),
	}

	_, first := postJSON(t, srv.URL+"/api/v1/appointments/book", payload, headers)
	_, second := postJSON(t, srv.URL+"/api/v1/appointments/book", payload, headers)
	if first["id"] != second["id"] {
		t.Fatalf("replay created a new appointment: %v vs %v", first["id"], second["id"])
	}
}

func TestAssignEndpoint_ConflictMapsTo409(t *testing.T) {
	srv := newTestServer(t)

	a1 := bookHTTP(t, srv, at(9, 0))
	if _, resp, body := assignHTTP(t, srv, a1, "emp-1"); resp.StatusCode != http.StatusCreated {
		t.Fatalf("assign status = %d, body %v", resp.StatusCode, body)
	}

	a2 := bookHTTP(t, srv, at(9, 15))
	_, resp, body := assignHTTP(t, srv, a2, "emp-1")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("overlapping assign status = %d, body %v", resp.StatusCode, body)
	}
	if body["error"] == "" {
		t.Fatal("conflict response carries no error message")
	}
}

func TestCompleteEndpoint_UnstaffedMapsTo422(t *testing.T) {
	srv := newTestServer(t)

	id := bookHTTP(t, srv, at(9, 0))
	if resp, _ := postJSON(t, srv.URL+"/api/v1/appointments/confirm", map[string]string{"appointment_id": id}, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm status = %d", resp.StatusCode)
	}
	if resp, _ := postJSON(t, srv.URL+"/api/v1/appointments/start", map[string]string{"appointment_id": id}, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	resp, _ := postJSON(t, srv.URL+"/api/v1/appointments/complete", map[string]string{"appointment_id": id}, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unstaffed complete status = %d", resp.StatusCode)
	}
}

func TestAppointmentLookupAndDayListing(t *testing.T) {
	srv := newTestServer(t)

	id := bookHTTP(t, srv, at(9, 0))
	assignHTTP(t, srv, id, "emp-1")

	resp, err := http.Get(srv.URL + "/api/v1/appointments?id=" + id)
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("lookup status = %d", resp.StatusCode)
	}
	assignments := body["assignments"].([]any)
	if len(assignments) != 1 {
		t.Fatalf("assignments = %v", assignments)
	}

	resp2, err := http.Get(srv.URL + "/api/v1/appointments?date=" + day.Format("2006-01-02"))
	if err != nil {
		t.Fatal(err)
	}
	body2 := decodeBody(t, resp2)
	if got := body2["appointments"].([]any); len(got) != 1 {
		t.Fatalf("day listing = %v", got)
	}

	resp3, err := http.Get(srv.URL + "/api/v1/appointments?id=missing")
	if err != nil {
		t.Fatal(err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusNotFound {
		t.Fatalf("missing lookup status = %d", resp3.StatusCode)
	}
}

func TestSlotsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	url := fmt.Sprintf("%s/api/v1/slots?service_id=svc-1&date=%s", srv.URL, day.Format("2006-01-02"))
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	slots := body["slots"].([]any)
	// 09:00-17:00 at 15 minute steps for a 30 minute service.
	if len(slots) != 31 {
		t.Fatalf("slot count = %d, want 31", len(slots))
	}
	first := slots[0].(map[string]any)
	if first["start_time"] != at(9, 0).Format(time.RFC3339) || first["employee_id"] != "emp-1" {
		t.Fatalf("first slot = %v", first)
	}
}

func TestTimeOffEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/api/v1/time-off", map[string]string{
		"employee_id": "emp-1",
		"start_time":  at(9, 0).Format(time.RFC3339),
		"end_time":    at(12, 0).Format(time.RFC3339),
		"reason":      "dentist",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, body %v", resp.StatusCode, body)
	}
	id := body["id"].(string)

	listURL := fmt.Sprintf("%s/api/v1/time-off?employee_id=emp-1&from=%s&to=%s",
		srv.URL, day.Format("2006-01-02"), day.Format("2006-01-02"))
	resp2, err := http.Get(listURL)
	if err != nil {
		t.Fatal(err)
	}
	body2 := decodeBody(t, resp2)
	if got := body2["time_off"].([]any); len(got) != 1 {
		t.Fatalf("list = %v", got)
	}

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/time-off?id="+id, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp3, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp3.StatusCode)
	}

	resp4, err := http.DefaultClient.Do(req.Clone(req.Context()))
	if err != nil {
		t.Fatal(err)
	}
	resp4.Body.Close()
	if resp4.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status = %d", resp4.StatusCode)
	}

	// The blackout also rejects creation for an unknown employee.
	resp5, _ := postJSON(t, srv.URL+"/api/v1/time-off", map[string]string{
		"employee_id": "ghost",
		"start_time":  at(9, 0).Format(time.RFC3339),
		"end_time":    at(10, 0).Format(time.RFC3339),
	}, nil)
	if resp5.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown employee status = %d", resp5.StatusCode)
	}
}

func TestMethodGuards(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/appointments/book")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET book status = %d", resp.StatusCode)
	}

	resp2, _ := postJSON(t, srv.URL+"/api/v1/assignments/transition", map[string]string{
		"assignment_id": "whatever",
		"status":        "sideways",
	}, nil)
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad status value: status = %d", resp2.StatusCode)
	}
}
