package allocation

import (
	"fmt"
	"slices"
	"time"

	cbus "github.com/next-trace/scg-allocation/contract/bus"
)

// OrderLine is a value object: one SKU and quantity of a customer order.
type OrderLine struct {
	OrderID string
	SKU     string
	Qty     int
}

// Batch is a quantity of one SKU that arrives at ETA; a nil ETA means the stock is in the warehouse.
type Batch struct {
	Reference         string
	SKU               string
	ETA               *time.Time
	PurchasedQuantity int

	// allocations keeps insertion order; deallocation releases the oldest line first.
	allocations []OrderLine
}

// NewBatch creates an empty batch.
func NewBatch(ref, sku string, qty int, eta *time.Time) *Batch {
	return &Batch{Reference: ref, SKU: sku, PurchasedQuantity: qty, ETA: eta}
}

// RestoreBatch rebuilds a batch with its existing allocations, e.g. from storage.
func RestoreBatch(ref, sku string, qty int, eta *time.Time, lines []OrderLine) *Batch {
	b := NewBatch(ref, sku, qty, eta)
	b.allocations = append([]OrderLine(nil), lines...)

	return b
}

// Allocations returns a copy of the lines allocated to the batch.
func (b *Batch) Allocations() []OrderLine {
	return append([]OrderLine(nil), b.allocations...)
}

func (b *Batch) AllocatedQuantity() int {
	total := 0
	for _, l := range b.allocations {
		total += l.Qty
	}

	return total
}

func (b *Batch) AvailableQuantity() int {
	return b.PurchasedQuantity - b.AllocatedQuantity()
}

// CanAllocate reports whether line fits into the batch.
func (b *Batch) CanAllocate(line OrderLine) bool {
	return b.SKU == line.SKU && b.AvailableQuantity() >= line.Qty
}

// Allocate adds line to the batch. Allocating the same line twice is a no-op.
func (b *Batch) Allocate(line OrderLine) {
	if !b.CanAllocate(line) || b.has(line) {
		return
	}

	b.allocations = append(b.allocations, line)
}

// Deallocate removes line if present.
func (b *Batch) Deallocate(line OrderLine) {
	if i := slices.Index(b.allocations, line); i >= 0 {
		b.allocations = slices.Delete(b.allocations, i, i+1)
	}
}

func (b *Batch) has(line OrderLine) bool {
	return slices.Contains(b.allocations, line)
}

func (b *Batch) deallocateOne() OrderLine {
	line := b.allocations[0]
	b.allocations = b.allocations[1:]

	return line
}

// before orders in-stock batches first, then by ascending ETA.
func (b *Batch) before(o *Batch) bool {
	switch {
	case b.ETA == nil:
		return o.ETA != nil
	case o.ETA == nil:
		return false
	default:
		return b.ETA.Before(*o.ETA)
	}
}

// Product is the aggregate root for every batch of one SKU.
// VersionNumber increments on each allocation and guards concurrent writers.
type Product struct {
	SKU           string
	Batches       []*Batch
	VersionNumber int

	messages []cbus.Message
}

// NewProduct creates a product; batches may be nil.
func NewProduct(sku string, batches []*Batch, version int) *Product {
	return &Product{SKU: sku, Batches: batches, VersionNumber: version}
}

// AddBatch appends a batch for the product's SKU.
func (p *Product) AddBatch(b *Batch) error {
	if b.SKU != p.SKU {
		return fmt.Errorf("add batch %s to product %s: %w", b.Reference, p.SKU, ErrInvalidSku)
	}

	if _, exists := p.Batch(b.Reference); exists {
		return fmt.Errorf("add batch %s: %w", b.Reference, ErrBatchExists)
	}

	p.Batches = append(p.Batches, b)

	return nil
}

// Batch returns the batch with reference ref.
func (p *Product) Batch(ref string) (*Batch, bool) {
	for _, b := range p.Batches {
		if b.Reference == ref {
			return b, true
		}
	}

	return nil, false
}

// Allocate places line in the earliest batch that can take it and returns the batch reference.
// When nothing fits, an OutOfStock event is recorded and the reference is empty.
func (p *Product) Allocate(line OrderLine) string {
	sorted := append([]*Batch(nil), p.Batches...)
	slices.SortStableFunc(sorted, func(a, b *Batch) int {
		switch {
		case a.before(b):
			return -1
		case b.before(a):
			return 1
		default:
			return 0
		}
	})

	for _, b := range sorted {
		if !b.CanAllocate(line) {
			continue
		}

		b.Allocate(line)
		p.VersionNumber++
		p.record(Allocated{OrderID: line.OrderID, SKU: line.SKU, Qty: line.Qty, BatchRef: b.Reference})

		return b.Reference
	}

	p.record(OutOfStock{SKU: line.SKU})

	return ""
}

// ChangeBatchQuantity sets the purchased quantity of batch ref, releasing the oldest allocations
// until the batch is no longer over-allocated. Each released line records a Deallocated event.
func (p *Product) ChangeBatchQuantity(ref string, qty int) error {
	b, ok := p.Batch(ref)
	if !ok {
		return fmt.Errorf("change quantity of %s: %w", ref, ErrBatchNotFound)
	}

	b.PurchasedQuantity = qty
	for b.AvailableQuantity() < 0 {
		line := b.deallocateOne()
		p.record(Deallocated{OrderID: line.OrderID, SKU: line.SKU, Qty: line.Qty})
	}

	return nil
}

func (p *Product) record(m cbus.Message) { p.messages = append(p.messages, m) }

// PopMessages returns and forgets the messages recorded since the last call.
func (p *Product) PopMessages() []cbus.Message {
	out := p.messages
	p.messages = nil

	return out
}

// Clone returns a deep copy without pending messages.
func (p *Product) Clone() *Product {
	c := &Product{SKU: p.SKU, VersionNumber: p.VersionNumber, Batches: make([]*Batch, 0, len(p.Batches))}

	for _, b := range p.Batches {
		var eta *time.Time
		if b.ETA != nil {
			t := *b.ETA
			eta = &t
		}

		c.Batches = append(c.Batches, RestoreBatch(b.Reference, b.SKU, b.PurchasedQuantity, eta, b.allocations))
	}

	return c
}
