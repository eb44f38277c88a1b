package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

func main() {
	var (
		baseURL    = flag.String("base-url", getenv("BASE_URL", "http://localhost:8084"), "scheduling service base url")
		customerID = flag.String("customer-id", getenv("CUSTOMER_ID", ""), "customer to book for")
		serviceID  = flag.String("service-id", getenv("SERVICE_ID", ""), "service to book")
		employeeID = flag.String("employee-id", getenv("EMPLOYEE_ID", ""), "employee to assign (optional)")
		start      = flag.String("start", "", "appointment start (RFC3339, default next full hour)")
	)
	flag.Parse()

	if strings.TrimSpace(*customerID) == "" {
		fatal("CUSTOMER_ID is required")
	}
	if strings.TrimSpace(*serviceID) == "" {
		fatal("SERVICE_ID is required")
	}

	startAt := time.Now().UTC().Truncate(time.Hour).Add(time.Hour)
	if *start != "" {
		t, err := time.Parse(time.RFC3339, *start)
		if err != nil {
			fatal("invalid -start: " + err.Error())
		}
		startAt = t
	}

	appt, err := postJSON(*baseURL, "/api/v1/appointments/book", map[string]any{
		"customer_id": *customerID,
		"service_id":  *serviceID,
		"start_time":  startAt.Format(time.RFC3339),
	}, map[string]string{"Idempotency-Key": uuid.NewString()})
	if err != nil {
		fatal(err.Error())
	}
	fmt.Printf("booked appointment_id=%s start=%s\n", appt["id"], appt["start_time"])

	if strings.TrimSpace(*employeeID) == "" {
		return
	}
	asg, err := postJSON(*baseURL, "/api/v1/assignments/assign", map[string]any{
		"appointment_id": appt["id"],
		"employee_id":    *employeeID,
	}, nil)
	if err != nil {
		fatal(err.Error())
	}
	fmt.Printf("assigned assignment_id=%s employee_id=%s\n", asg["id"], asg["employee_id"])
}

func postJSON(baseURL, path string, body map[string]any, headers map[string]string) (map[string]any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(baseURL, "/")+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: status=%d body=%s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", path, err)
	}
	return out, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
