package bridge_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/next-trace/scg-allocation/allocation"
	"github.com/next-trace/scg-allocation/bridge"
	cbus "github.com/next-trace/scg-allocation/contract/bus"
	berr "github.com/next-trace/scg-allocation/contract/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noScope struct{}

func (noScope) CollectNewMessages() []cbus.Message { return nil }

type sent struct {
	channel string
	payload string
}

type fakeChannel struct {
	mu    sync.Mutex
	fails int
	err   error
	calls int
	sent  []sent
}

func (f *fakeChannel) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.fails > 0 {
		f.fails--
		return f.err
	}

	f.sent = append(f.sent, sent{channel: channel, payload: string(payload)})

	return nil
}

func TestPublisherSendsEncodedEvent(t *testing.T) {
	ch := &fakeChannel{}
	p := bridge.NewPublisher(ch, nil)

	err := p.Publish(testContext(t), "line_allocated", allocation.Allocated{OrderID: "o1", SKU: "S", Qty: 1, BatchRef: "b"})
	require.NoError(t, err)
	require.Len(t, ch.sent, 1)
	assert.Equal(t, "line_allocated", ch.sent[0].channel)
	assert.JSONEq(t, `{"orderid":"o1","sku":"S","qty":1,"batchref":"b"}`, ch.sent[0].payload)
}

func TestPublisherWrapsTransportFailure(t *testing.T) {
	ch := &fakeChannel{fails: 1, err: errors.New("connection reset")}
	p := bridge.NewPublisher(ch, nil)

	err := p.Publish(testContext(t), "line_allocated", allocation.Allocated{})
	require.ErrorIs(t, err, berr.ErrPublishFailed)
	assert.Contains(t, err.Error(), berr.ErrCodePublishFailed)
}

func TestPublisherWithoutChannel(t *testing.T) {
	var p *bridge.Publisher
	require.ErrorIs(t, p.Publish(testContext(t), "c", allocation.Allocated{}), berr.ErrPublishFailed)
}

func TestPublisherHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(testContext(t))
	cancel()

	err := bridge.NewPublisher(&fakeChannel{}, nil).Publish(ctx, "c", allocation.Allocated{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestPublishHandlerForwards(t *testing.T) {
	ch := &fakeChannel{}
	h := bridge.PublishHandler[allocation.Allocated, noScope](bridge.NewPublisher(ch, nil), "line_allocated")

	require.NoError(t, h(testContext(t), allocation.Allocated{OrderID: "o"}, noScope{}))
	require.Len(t, ch.sent, 1)
}

func fastRetry(n uint64) bridge.RetryPolicy {
	return bridge.RetryPolicy{MaxRetries: n, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestWithRetryRecovers(t *testing.T) {
	ch := &fakeChannel{fails: 2, err: errors.New("temporary")}

	err := bridge.WithRetry(ch, fastRetry(3)).Publish(testContext(t), "c", []byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, 3, ch.calls)
	assert.Len(t, ch.sent, 1)
}

func TestWithRetryGivesUp(t *testing.T) {
	ch := &fakeChannel{fails: 10, err: errors.New("down")}

	err := bridge.WithRetry(ch, fastRetry(2)).Publish(testContext(t), "c", []byte("{}"))
	require.EqualError(t, err, "down")
	assert.Equal(t, 3, ch.calls)
}

func TestWithRetryDoesNotRetrySerialization(t *testing.T) {
	ch := &fakeChannel{fails: 10, err: berr.ErrSerializationFailed}

	err := bridge.WithRetry(ch, fastRetry(5)).Publish(testContext(t), "c", []byte("{}"))
	require.ErrorIs(t, err, berr.ErrSerializationFailed)
	assert.Equal(t, 1, ch.calls)
}
