package convenio

import (
	"context"

	"custodia/pkg/domain"
)

type Store interface {
	Create(ctx context.Context, agreement *Agreement) error
	GetByEmployee(ctx context.Context, employeeID domain.EmployeeID) (*Agreement, error)
	Update(ctx context.Context, agreement *Agreement) error
}
