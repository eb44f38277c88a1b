//go:build protogen

package directory

import (
	"context"
	"log/slog"
	"time"

	"github.com/dkalita/servicebook/libs/grpcx"
	directoryv1 "github.com/dkalita/servicebook/protos/gen/directory/v1"
	"github.com/dkalita/servicebook/services/scheduling-service/internal/model"
	"github.com/dkalita/servicebook/services/scheduling-service/internal/storage"
)

type grpcProvider struct {
	client directoryv1.DirectoryServiceClient
}

func NewDirectoryProvider(logger *slog.Logger, store storage.Store, addr string) (Provider, error) {
	if addr == "" {
		return NewStoreProvider(store), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := grpcx.Dial(ctx, addr, grpcx.DialOptions{Timeout: 5 * time.Second})
	if err != nil {
		logger.Warn("grpc directory provider unavailable, using local replica", "err", err)
		return NewStoreProvider(store), nil
	}

	logger.Info("grpc directory provider enabled", "addr", addr)
	return &grpcProvider{client: directoryv1.NewDirectoryServiceClient(conn)}, nil
}

func (p *grpcProvider) EmployeeHours(ctx context.Context, employeeID string) ([7]*model.DayHours, error) {
	resp, err := p.client.GetEmployee(ctx, &directoryv1.EmployeeRequest{EmployeeId: employeeID})
	if err != nil {
		return [7]*model.DayHours{}, err
	}
	var hours [7]*model.DayHours
	for _, h := range resp.GetWorkingHours() {
		wd := int(h.GetWeekday())
		if wd < 0 || wd > 6 {
			continue
		}
		hours[wd] = &model.DayHours{
			Working:     h.GetWorking(),
			StartMinute: int(h.GetStartMinute()),
			EndMinute:   int(h.GetEndMinute()),
		}
	}
	return hours, nil
}
