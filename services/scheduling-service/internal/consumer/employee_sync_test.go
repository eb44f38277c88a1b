package consumer

import (
	"context"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/dkalita/servicebook/services/scheduling-service/internal/storage"
)

func TestEmployeeSyncHandler(t *testing.T) {
	store := storage.NewMemory()
	handler := EmployeeSyncHandler(slog.Default(), store)
	ctx := context.Background()

	payload := `{
		"employee_id": "emp-1",
		"name": "Dana",
		"role": "stylist",
		"active": true,
		"working_hours": [
			{"weekday": 1, "working": true, "start_minute": 600, "end_minute": 840},
			{"weekday": 9, "working": true, "start_minute": 0, "end_minute": 60}
		]
	}`
	if err := handler(ctx, kafka.Message{Value: []byte(payload)}); err != nil {
		t.Fatalf("handler: %v", err)
	}

	emp, err := store.GetEmployee(ctx, "emp-1")
	if err != nil {
		t.Fatalf("replica missing: %v", err)
	}
	if emp.Name != "Dana" || !emp.Active {
		t.Fatalf("replica = %+v", emp)
	}
	if emp.Hours[1] == nil || emp.Hours[1].StartMinute != 600 {
		t.Fatalf("monday hours not applied: %+v", emp.Hours[1])
	}
	for wd, h := range emp.Hours {
		if wd != 1 && h != nil {
			t.Fatalf("unexpected hours on weekday %d", wd)
		}
	}
}

func TestEmployeeSyncHandler_MalformedPayloadDropped(t *testing.T) {
	store := storage.NewMemory()
	handler := EmployeeSyncHandler(slog.Default(), store)

	if err := handler(context.Background(), kafka.Message{Value: []byte("not json")}); err != nil {
		t.Fatalf("malformed payload should be dropped, got %v", err)
	}
	if err := handler(context.Background(), kafka.Message{Value: []byte(`{"name":"ghost"}`)}); err != nil {
		t.Fatalf("missing employee_id should be dropped, got %v", err)
	}
}
