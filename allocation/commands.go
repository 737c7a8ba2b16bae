package allocation

import (
	"time"

	cbus "github.com/next-trace/scg-allocation/contract/bus"
)

// CreateBatch registers a new batch of purchased stock.
type CreateBatch struct {
	cbus.CommandMessage
	Ref string     `json:"ref" validate:"required"`
	SKU string     `json:"sku" validate:"required"`
	Qty int        `json:"qty" validate:"gt=0"`
	ETA *time.Time `json:"eta,omitempty"`
}

func (CreateBatch) MessageName() string { return "create_batch" }

// Allocate asks for an order line to be allocated to a batch.
type Allocate struct {
	cbus.CommandMessage
	OrderID string `json:"orderid" validate:"required"`
	SKU     string `json:"sku" validate:"required"`
	Qty     int    `json:"qty" validate:"gt=0"`
}

func (Allocate) MessageName() string { return "allocate" }

// ChangeBatchQuantity sets a batch's purchased quantity, e.g. after a shipment was damaged.
type ChangeBatchQuantity struct {
	cbus.CommandMessage
	Ref string `json:"batchref" validate:"required"`
	Qty int    `json:"qty" validate:"gte=0"`
}

func (ChangeBatchQuantity) MessageName() string { return "change_batch_quantity" }

// Commands lists every command the service must be able to handle.
func Commands() []cbus.Command {
	return []cbus.Command{CreateBatch{}, Allocate{}, ChangeBatchQuantity{}}
}
