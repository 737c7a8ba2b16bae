// Package memstore keeps products and the allocations view in process memory.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/next-trace/scg-allocation/allocation"
	"github.com/next-trace/scg-allocation/service"
)

var errNoTransaction = errors.New("memstore: no open transaction")

// Store is the shared, committed state. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	products map[string]*allocation.Product
	views    map[string][]service.AllocationView
}

// New returns an empty store.
func New() *Store {
	return &Store{
		products: make(map[string]*allocation.Product),
		views:    make(map[string][]service.AllocationView),
	}
}

// NewUnitOfWork returns a unit of work over s. It satisfies service.UnitOfWorkFactory.
func (s *Store) NewUnitOfWork() service.UnitOfWork { return &UnitOfWork{store: s} }

// Product returns a copy of the committed product, for inspection.
func (s *Store) Product(sku string) (*allocation.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[sku]
	if !ok {
		return nil, false
	}

	return p.Clone(), true
}

type viewOp struct {
	add  bool
	view service.AllocationView
}

type tx struct {
	loaded   map[string]*allocation.Product
	versions map[string]int
	added    map[string]*allocation.Product
	ops      []viewOp
}

// UnitOfWork stages product and view changes and applies them atomically on Commit.
type UnitOfWork struct {
	service.Outbox

	store *Store
	tx    *tx
}

var _ service.UnitOfWork = (*UnitOfWork)(nil)

func (u *UnitOfWork) Begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	u.Forget()
	u.tx = &tx{
		loaded:   make(map[string]*allocation.Product),
		versions: make(map[string]int),
		added:    make(map[string]*allocation.Product),
	}

	return nil
}

func (u *UnitOfWork) Products() service.ProductRepository { return products{u} }

func (u *UnitOfWork) Allocations() service.AllocationsReadModel { return views{u} }

func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.tx == nil {
		return errNoTransaction
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	t := u.tx
	u.tx = nil

	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for sku, v := range t.versions {
		if cur, ok := s.products[sku]; !ok || cur.VersionNumber != v {
			return fmt.Errorf("commit %s: %w", sku, allocation.ErrConcurrentModification)
		}
	}

	for sku := range t.added {
		if _, ok := s.products[sku]; ok {
			return fmt.Errorf("commit %s: %w", sku, allocation.ErrConcurrentModification)
		}
	}

	for sku, p := range t.loaded {
		s.products[sku] = p.Clone()
	}

	for sku, p := range t.added {
		s.products[sku] = p.Clone()
	}

	for _, op := range t.ops {
		if op.add {
			s.views[op.view.OrderID] = append(s.views[op.view.OrderID], op.view)
			continue
		}

		rows := s.views[op.view.OrderID][:0]
		for _, v := range s.views[op.view.OrderID] {
			if v.SKU != op.view.SKU {
				rows = append(rows, v)
			}
		}

		if len(rows) == 0 {
			delete(s.views, op.view.OrderID)
		} else {
			s.views[op.view.OrderID] = rows
		}
	}

	return nil
}

func (u *UnitOfWork) Rollback(context.Context) error {
	u.tx = nil
	return nil
}

type products struct{ u *UnitOfWork }

func (r products) Add(_ context.Context, p *allocation.Product) error {
	t := r.u.tx
	if t == nil {
		return errNoTransaction
	}

	t.added[p.SKU] = p
	r.u.Track(p)

	return nil
}

func (r products) Get(_ context.Context, sku string) (*allocation.Product, error) {
	t := r.u.tx
	if t == nil {
		return nil, errNoTransaction
	}

	if p, ok := t.added[sku]; ok {
		return p, nil
	}

	if p, ok := t.loaded[sku]; ok {
		return p, nil
	}

	s := r.u.store
	s.mu.RLock()
	cur, ok := s.products[sku]

	var p *allocation.Product
	if ok {
		p = cur.Clone()
	}
	s.mu.RUnlock()

	if !ok {
		return nil, service.ErrNotFound
	}

	t.loaded[sku] = p
	t.versions[sku] = p.VersionNumber
	r.u.Track(p)

	return p, nil
}

func (r products) GetByBatchRef(ctx context.Context, ref string) (*allocation.Product, error) {
	t := r.u.tx
	if t == nil {
		return nil, errNoTransaction
	}

	for _, staged := range []map[string]*allocation.Product{t.added, t.loaded} {
		for _, p := range staged {
			if _, ok := p.Batch(ref); ok {
				return p, nil
			}
		}
	}

	s := r.u.store
	s.mu.RLock()

	sku := ""
	for _, p := range s.products {
		if _, ok := p.Batch(ref); ok {
			sku = p.SKU
			break
		}
	}
	s.mu.RUnlock()

	if sku == "" {
		return nil, service.ErrNotFound
	}

	return r.Get(ctx, sku)
}

type views struct{ u *UnitOfWork }

func (r views) Add(_ context.Context, v service.AllocationView) error {
	if r.u.tx == nil {
		return errNoTransaction
	}

	r.u.tx.ops = append(r.u.tx.ops, viewOp{add: true, view: v})

	return nil
}

func (r views) Remove(_ context.Context, orderID, sku string) error {
	if r.u.tx == nil {
		return errNoTransaction
	}

	r.u.tx.ops = append(r.u.tx.ops, viewOp{view: service.AllocationView{OrderID: orderID, SKU: sku}})

	return nil
}

func (r views) ListByOrder(_ context.Context, orderID string) ([]service.AllocationView, error) {
	s := r.u.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]service.AllocationView(nil), s.views[orderID]...), nil
}
