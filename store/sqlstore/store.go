package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/next-trace/scg-allocation/allocation"
	"github.com/next-trace/scg-allocation/service"
)

var errNoTransaction = errors.New("sqlstore: no open transaction")

// Store hands out units of work over one database.
type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store { return &Store{db: db} }

// NewUnitOfWork satisfies service.UnitOfWorkFactory.
func (s *Store) NewUnitOfWork() service.UnitOfWork { return &UnitOfWork{db: s.db} }

type tracked struct {
	product *allocation.Product
	version int
	isNew   bool
}

// UnitOfWork maps one database transaction. Products loaded through it are written back on Commit,
// guarded by their version number.
type UnitOfWork struct {
	service.Outbox

	db     *sqlx.DB
	tx     *sqlx.Tx
	loaded map[string]*tracked
}

var _ service.UnitOfWork = (*UnitOfWork)(nil)

func (u *UnitOfWork) Begin(ctx context.Context) error {
	if u.tx != nil {
		_ = u.tx.Rollback()
	}

	tx, err := u.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cannot begin transaction: %w", err)
	}

	u.Forget()
	u.tx = tx
	u.loaded = make(map[string]*tracked)

	return nil
}

func (u *UnitOfWork) Products() service.ProductRepository { return products{u} }

func (u *UnitOfWork) Allocations() service.AllocationsReadModel { return views{u} }

func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.tx == nil {
		return errNoTransaction
	}

	tx := u.tx
	u.tx = nil

	for _, t := range u.loaded {
		if err := saveProduct(ctx, tx, t); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cannot commit: %w", err)
	}

	return nil
}

func (u *UnitOfWork) Rollback(context.Context) error {
	if u.tx == nil {
		return nil
	}

	tx := u.tx
	u.tx = nil

	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("cannot rollback: %w", err)
	}

	return nil
}

func saveProduct(ctx context.Context, tx *sqlx.Tx, t *tracked) error {
	p := t.product

	if t.isNew {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO products (sku, version_number) VALUES (?, ?)`),
			p.SKU, p.VersionNumber); err != nil {
			return fmt.Errorf("cannot save product %s: %w", p.SKU, err)
		}
	} else {
		res, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE products SET version_number = ? WHERE sku = ? AND version_number = ?`),
			p.VersionNumber, p.SKU, t.version)
		if err != nil {
			return fmt.Errorf("cannot save product %s: %w", p.SKU, err)
		}

		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("save product %s: %w", p.SKU, allocation.ErrConcurrentModification)
		}
	}

	for _, b := range p.Batches {
		var eta sql.NullTime
		if b.ETA != nil {
			eta = sql.NullTime{Time: b.ETA.UTC(), Valid: true}
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO batches (reference, sku, purchased_quantity, eta) VALUES (?, ?, ?, ?)
			ON CONFLICT (reference) DO UPDATE SET purchased_quantity = excluded.purchased_quantity, eta = excluded.eta`),
			b.Reference, b.SKU, b.PurchasedQuantity, eta); err != nil {
			return fmt.Errorf("cannot save batch %s: %w", b.Reference, err)
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM allocations WHERE batch_reference = ?`), b.Reference); err != nil {
			return fmt.Errorf("cannot save allocations of %s: %w", b.Reference, err)
		}

		for i, line := range b.Allocations() {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`
				INSERT INTO allocations (batch_reference, seq, orderid, sku, qty) VALUES (?, ?, ?, ?, ?)`),
				b.Reference, i, line.OrderID, line.SKU, line.Qty); err != nil {
				return fmt.Errorf("cannot save allocations of %s: %w", b.Reference, err)
			}
		}
	}

	return nil
}

type products struct{ u *UnitOfWork }

func (r products) Add(_ context.Context, p *allocation.Product) error {
	if r.u.tx == nil {
		return errNoTransaction
	}

	r.u.loaded[p.SKU] = &tracked{product: p, version: p.VersionNumber, isNew: true}
	r.u.Track(p)

	return nil
}

func (r products) Get(ctx context.Context, sku string) (*allocation.Product, error) {
	tx := r.u.tx
	if tx == nil {
		return nil, errNoTransaction
	}

	if t, ok := r.u.loaded[sku]; ok {
		return t.product, nil
	}

	var pr productRow
	if err := tx.GetContext(ctx, &pr, tx.Rebind(`SELECT sku, version_number FROM products WHERE sku = ?`), sku); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, service.ErrNotFound
		}

		return nil, fmt.Errorf("cannot get product %s: %w", sku, err)
	}

	var batches []batchRow
	if err := tx.SelectContext(ctx, &batches, tx.Rebind(`
		SELECT reference, sku, purchased_quantity, eta FROM batches WHERE sku = ? ORDER BY reference`), sku); err != nil {
		return nil, fmt.Errorf("cannot get batches of %s: %w", sku, err)
	}

	var lines []allocationRow
	if err := tx.SelectContext(ctx, &lines, tx.Rebind(`
		SELECT a.batch_reference, a.orderid, a.sku, a.qty
		FROM allocations a JOIN batches b ON b.reference = a.batch_reference
		WHERE b.sku = ? ORDER BY a.batch_reference, a.seq`), sku); err != nil {
		return nil, fmt.Errorf("cannot get allocations of %s: %w", sku, err)
	}

	byBatch := make(map[string][]allocation.OrderLine, len(batches))
	for _, l := range lines {
		byBatch[l.BatchReference] = append(byBatch[l.BatchReference], allocation.OrderLine{OrderID: l.OrderID, SKU: l.SKU, Qty: l.Qty})
	}

	restored := make([]*allocation.Batch, 0, len(batches))
	for _, b := range batches {
		var eta *time.Time
		if b.ETA.Valid {
			t := b.ETA.Time.UTC()
			eta = &t
		}

		restored = append(restored, allocation.RestoreBatch(b.Reference, b.SKU, b.PurchasedQuantity, eta, byBatch[b.Reference]))
	}

	p := allocation.NewProduct(pr.SKU, restored, pr.VersionNumber)
	r.u.loaded[sku] = &tracked{product: p, version: pr.VersionNumber}
	r.u.Track(p)

	return p, nil
}

func (r products) GetByBatchRef(ctx context.Context, ref string) (*allocation.Product, error) {
	tx := r.u.tx
	if tx == nil {
		return nil, errNoTransaction
	}

	for _, t := range r.u.loaded {
		if _, ok := t.product.Batch(ref); ok {
			return t.product, nil
		}
	}

	var sku string
	if err := tx.GetContext(ctx, &sku, tx.Rebind(`SELECT sku FROM batches WHERE reference = ?`), ref); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, service.ErrNotFound
		}

		return nil, fmt.Errorf("cannot find batch %s: %w", ref, err)
	}

	return r.Get(ctx, sku)
}

type views struct{ u *UnitOfWork }

func (r views) Add(ctx context.Context, v service.AllocationView) error {
	tx := r.u.tx
	if tx == nil {
		return errNoTransaction
	}

	if _, err := tx.NamedExecContext(ctx,
		`INSERT INTO allocations_view (orderid, sku, batchref) VALUES (:orderid, :sku, :batchref)`, v); err != nil {
		return fmt.Errorf("cannot add allocation view: %w", err)
	}

	return nil
}

func (r views) Remove(ctx context.Context, orderID, sku string) error {
	tx := r.u.tx
	if tx == nil {
		return errNoTransaction
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM allocations_view WHERE orderid = ? AND sku = ?`), orderID, sku); err != nil {
		return fmt.Errorf("cannot remove allocation view: %w", err)
	}

	return nil
}

func (r views) ListByOrder(ctx context.Context, orderID string) ([]service.AllocationView, error) {
	var q sqlx.QueryerContext = r.u.db
	if r.u.tx != nil {
		q = r.u.tx
	}

	rows := []service.AllocationView{}
	if err := sqlx.SelectContext(ctx, q, &rows, r.u.db.Rebind(`
		SELECT orderid, sku, batchref FROM allocations_view WHERE orderid = ? ORDER BY sku, batchref`), orderID); err != nil {
		return nil, fmt.Errorf("cannot list allocations of %s: %w", orderID, err)
	}

	return rows, nil
}
