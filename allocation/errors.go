package allocation

import "errors"

var (
	ErrInvalidSku             = errors.New("invalid sku")
	ErrBatchNotFound          = errors.New("batch not found")
	ErrBatchExists            = errors.New("batch already exists")
	ErrConcurrentModification = errors.New("product was modified concurrently")
)
