package allocation

import cbus "github.com/next-trace/scg-allocation/contract/bus"

// Allocated records that an order line was allocated to a batch.
type Allocated struct {
	cbus.EventMessage
	OrderID  string `json:"orderid"`
	SKU      string `json:"sku"`
	Qty      int    `json:"qty"`
	BatchRef string `json:"batchref"`
}

func (Allocated) MessageName() string { return "allocated" }

// Deallocated records that an order line lost its batch and needs a new one.
type Deallocated struct {
	cbus.EventMessage
	OrderID string `json:"orderid"`
	SKU     string `json:"sku"`
	Qty     int    `json:"qty"`
}

func (Deallocated) MessageName() string { return "deallocated" }

// OutOfStock records that no batch could take an order line.
type OutOfStock struct {
	cbus.EventMessage
	SKU string `json:"sku"`
}

func (OutOfStock) MessageName() string { return "out_of_stock" }
