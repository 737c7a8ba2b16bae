package bridge_test

import (
	"encoding/json"
	"testing"

	"github.com/next-trace/scg-allocation/allocation"
	"github.com/next-trace/scg-allocation/bridge"
	berr "github.com/next-trace/scg-allocation/contract/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeAllocatedIsFlat(t *testing.T) {
	body, err := bridge.Encode(allocation.Allocated{OrderID: "o1", SKU: "RED-CHAIR", Qty: 10, BatchRef: "b2"})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, map[string]any{"orderid": "o1", "sku": "RED-CHAIR", "qty": float64(10), "batchref": "b2"}, got)
}

func TestJSONDecoderChangeBatchQuantity(t *testing.T) {
	decode := bridge.JSONDecoder[allocation.ChangeBatchQuantity]()

	cmd, err := decode([]byte(`{"batchref":"b1","qty":5}`))
	require.NoError(t, err)
	assert.Equal(t, allocation.ChangeBatchQuantity{Ref: "b1", Qty: 5}, cmd)
}

func TestJSONDecoderRejectsMalformed(t *testing.T) {
	decode := bridge.JSONDecoder[allocation.ChangeBatchQuantity]()

	for name, payload := range map[string]string{
		"not json":      `batch1 please`,
		"wrong type":    `{"batchref":"b1","qty":"five"}`,
		"missing ref":   `{"qty":5}`,
		"missing qty":   `{"batchref":"b1"}`,
		"null body":     `null`,
		"negative qty":  `{"batchref":"b1","qty":-1}`,
		"json is array": `[1,2]`,
	} {
		payload := payload
		t.Run(name, func(t *testing.T) {
			_, err := decode([]byte(payload))
			require.ErrorIs(t, err, berr.ErrDeserialization)
		})
	}
}

func TestJSONDecoderAcceptsExplicitZeroAndOptionalFields(t *testing.T) {
	cmd, err := bridge.JSONDecoder[allocation.ChangeBatchQuantity]()([]byte(`{"batchref":"b1","qty":0}`))
	require.NoError(t, err)
	assert.Equal(t, allocation.ChangeBatchQuantity{Ref: "b1", Qty: 0}, cmd)

	cmd, err = bridge.JSONDecoder[allocation.CreateBatch]()([]byte(`{"ref":"b1","sku":"LAMP","qty":3}`))
	require.NoError(t, err)
	assert.Equal(t, allocation.CreateBatch{Ref: "b1", SKU: "LAMP", Qty: 3}, cmd)
}
