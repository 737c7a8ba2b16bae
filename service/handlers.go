package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/next-trace/scg-allocation/allocation"
)

// Notifications delivers human-readable alerts.
type Notifications interface {
	Send(ctx context.Context, destination, message string) error
}

func rollback(ctx context.Context, uow UnitOfWork) { _ = uow.Rollback(ctx) }

// AddBatch creates the product on first use and adds the batch to it.
func AddBatch(ctx context.Context, cmd allocation.CreateBatch, uow UnitOfWork) error {
	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer rollback(ctx, uow)

	p, err := uow.Products().Get(ctx, cmd.SKU)
	switch {
	case errors.Is(err, ErrNotFound):
		p = allocation.NewProduct(cmd.SKU, nil, 0)
		if err := uow.Products().Add(ctx, p); err != nil {
			return err
		}
	case err != nil:
		return err
	}

	if err := p.AddBatch(allocation.NewBatch(cmd.Ref, cmd.SKU, cmd.Qty, cmd.ETA)); err != nil {
		return err
	}

	return uow.Commit(ctx)
}

// Allocate allocates an order line to the product's best batch.
func Allocate(ctx context.Context, cmd allocation.Allocate, uow UnitOfWork) error {
	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer rollback(ctx, uow)

	p, err := uow.Products().Get(ctx, cmd.SKU)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("allocate %s: %w", cmd.SKU, allocation.ErrInvalidSku)
	}

	if err != nil {
		return err
	}

	p.Allocate(allocation.OrderLine{OrderID: cmd.OrderID, SKU: cmd.SKU, Qty: cmd.Qty})

	return uow.Commit(ctx)
}

// ChangeBatchQuantity updates a batch's quantity, deallocating lines that no longer fit.
func ChangeBatchQuantity(ctx context.Context, cmd allocation.ChangeBatchQuantity, uow UnitOfWork) error {
	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer rollback(ctx, uow)

	p, err := uow.Products().GetByBatchRef(ctx, cmd.Ref)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("change batch quantity %s: %w", cmd.Ref, allocation.ErrBatchNotFound)
	}

	if err != nil {
		return err
	}

	if err := p.ChangeBatchQuantity(cmd.Ref, cmd.Qty); err != nil {
		return err
	}

	return uow.Commit(ctx)
}

// Reallocate turns a deallocated line back into an Allocate command.
func Reallocate(_ context.Context, e allocation.Deallocated, uow UnitOfWork) error {
	uow.Emit(allocation.Allocate{OrderID: e.OrderID, SKU: e.SKU, Qty: e.Qty})
	return nil
}

func AddAllocationToReadModel(ctx context.Context, e allocation.Allocated, uow UnitOfWork) error {
	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer rollback(ctx, uow)

	v := AllocationView{OrderID: e.OrderID, SKU: e.SKU, BatchRef: e.BatchRef}
	if err := uow.Allocations().Add(ctx, v); err != nil {
		return err
	}

	return uow.Commit(ctx)
}

func RemoveAllocationFromReadModel(ctx context.Context, e allocation.Deallocated, uow UnitOfWork) error {
	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer rollback(ctx, uow)

	if err := uow.Allocations().Remove(ctx, e.OrderID, e.SKU); err != nil {
		return err
	}

	return uow.Commit(ctx)
}

// Notifier sends out-of-stock alerts to a fixed destination.
type Notifier struct {
	Notifications Notifications
	Destination   string
}

func (n Notifier) SendOutOfStockNotification(ctx context.Context, e allocation.OutOfStock, _ UnitOfWork) error {
	return n.Notifications.Send(ctx, n.Destination, "Out of stock for "+e.SKU)
}
