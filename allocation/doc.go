// Package allocation holds the stock-allocation domain: batches of stock, order lines and the
// Product aggregate that allocates lines to batches, plus the commands and events exchanged with
// the message bus.
package allocation
