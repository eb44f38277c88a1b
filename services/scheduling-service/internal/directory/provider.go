// Package directory resolves employee working hours from the staff
// directory. The default provider reads the local replica kept fresh by
// the directory consumer; builds with -tags protogen talk to the
// directory service over gRPC instead.
package directory

import (
	"context"

	"github.com/dkalita/servicebook/services/scheduling-service/internal/model"
	"github.com/dkalita/servicebook/services/scheduling-service/internal/storage"
)

type Provider interface {
	EmployeeHours(ctx context.Context, employeeID string) ([7]*model.DayHours, error)
}

type storeProvider struct {
	store storage.Store
}

func NewStoreProvider(store storage.Store) Provider {
	return &storeProvider{store: store}
}

func (p *storeProvider) EmployeeHours(ctx context.Context, employeeID string) ([7]*model.DayHours, error) {
	emp, err := p.store.GetEmployee(ctx, employeeID)
	if err != nil {
		return [7]*model.DayHours{}, err
	}
	return emp.Hours, nil
}
