package service

import (
	"context"
	"errors"

	"github.com/next-trace/scg-allocation/allocation"
	cbus "github.com/next-trace/scg-allocation/contract/bus"
)

// ErrNotFound is returned by repositories when nothing matches.
var ErrNotFound = errors.New("not found")

// ProductRepository loads and tracks Product aggregates within a unit of work.
type ProductRepository interface {
	Add(ctx context.Context, p *allocation.Product) error
	Get(ctx context.Context, sku string) (*allocation.Product, error)
	GetByBatchRef(ctx context.Context, ref string) (*allocation.Product, error)
}

// AllocationView is one row of the allocations read model.
type AllocationView struct {
	OrderID  string `json:"-" db:"orderid"`
	SKU      string `json:"sku" db:"sku"`
	BatchRef string `json:"batchref" db:"batchref"`
}

// AllocationsReadModel is the denormalised view kept up to date by event handlers.
type AllocationsReadModel interface {
	Add(ctx context.Context, v AllocationView) error
	Remove(ctx context.Context, orderID, sku string) error
	ListByOrder(ctx context.Context, orderID string) ([]AllocationView, error)
}

// UnitOfWork is the transactional scope handed to every handler of one bus dispatch.
// Begin opens a transaction; Rollback after Commit is a no-op. The outbox collects events of every
// product the unit of work has seen plus anything passed to Emit.
type UnitOfWork interface {
	cbus.Scope

	Begin(ctx context.Context) error
	Products() ProductRepository
	Allocations() AllocationsReadModel
	Emit(msgs ...cbus.Message)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// UnitOfWorkFactory returns a fresh, independent unit of work.
type UnitOfWorkFactory func() UnitOfWork

// Outbox is the message buffer shared by UnitOfWork implementations.
type Outbox struct {
	seen    []*allocation.Product
	pending []cbus.Message
}

// Track remembers p so that its recorded events are collected.
func (o *Outbox) Track(p *allocation.Product) {
	for _, s := range o.seen {
		if s == p {
			return
		}
	}

	o.seen = append(o.seen, p)
}

// Emit appends messages that do not originate from a product.
func (o *Outbox) Emit(msgs ...cbus.Message) { o.pending = append(o.pending, msgs...) }

// CollectNewMessages drains product events in the order products were seen, then emitted messages.
func (o *Outbox) CollectNewMessages() []cbus.Message {
	var out []cbus.Message
	for _, p := range o.seen {
		out = append(out, p.PopMessages()...)
	}

	out = append(out, o.pending...)
	o.pending = nil

	return out
}

// Forget drops tracked products, e.g. when a transaction ends.
func (o *Outbox) Forget() { o.seen = nil }
