package service

import "context"

// Allocations returns the read-model rows for orderID.
func Allocations(ctx context.Context, uow UnitOfWork, orderID string) ([]AllocationView, error) {
	if err := uow.Begin(ctx); err != nil {
		return nil, err
	}
	defer rollback(ctx, uow)

	return uow.Allocations().ListByOrder(ctx, orderID)
}
