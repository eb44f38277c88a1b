package consumer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/dkalita/servicebook/services/scheduling-service/internal/model"
	"github.com/dkalita/servicebook/services/scheduling-service/internal/storage"
)

type employeeUpdated struct {
	EmployeeID   string `json:"employee_id"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	Active       bool   `json:"active"`
	WorkingHours []struct {
		Weekday     int  `json:"weekday"`
		Working     bool `json:"working"`
		StartMinute int  `json:"start_minute"`
		EndMinute   int  `json:"end_minute"`
	} `json:"working_hours"`
}

// EmployeeSyncHandler upserts the employee replica from a directory
// update. Unknown fields are ignored so the directory service can evolve
// its payload.
func EmployeeSyncHandler(logger *slog.Logger, store storage.Store) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt employeeUpdated
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			logger.Error("malformed employee event", "err", err)
			// Not retryable; drop it.
			return nil
		}
		if evt.EmployeeID == "" {
			return nil
		}

		emp := &model.Employee{
			ID:     evt.EmployeeID,
			Name:   evt.Name,
			Role:   evt.Role,
			Active: evt.Active,
		}
		for _, h := range evt.WorkingHours {
			if h.Weekday < 0 || h.Weekday > 6 {
				continue
			}
			emp.Hours[h.Weekday] = &model.DayHours{
				Working:     h.Working,
				StartMinute: h.StartMinute,
				EndMinute:   h.EndMinute,
			}
		}
		if err := store.UpsertEmployee(ctx, emp); err != nil {
			return err
		}
		logger.Info("employee replica updated", "employee_id", evt.EmployeeID, "active", evt.Active)
		return nil
	}
}
