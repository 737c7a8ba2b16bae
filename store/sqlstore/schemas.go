package sqlstore

import "database/sql"

type productRow struct {
	SKU           string `db:"sku"`
	VersionNumber int    `db:"version_number"`
}

type batchRow struct {
	Reference         string       `db:"reference"`
	SKU               string       `db:"sku"`
	PurchasedQuantity int          `db:"purchased_quantity"`
	ETA               sql.NullTime `db:"eta"`
}

type allocationRow struct {
	BatchReference string `db:"batch_reference"`
	OrderID        string `db:"orderid"`
	SKU            string `db:"sku"`
	Qty            int    `db:"qty"`
}
