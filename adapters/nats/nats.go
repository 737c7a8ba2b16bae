package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	cbus "github.com/next-trace/scg-allocation/contract/bus"
	berr "github.com/next-trace/scg-allocation/contract/errors"
)

const contentType = "application/json"

// Client is a minimal NATS-like interface decoupled from any concrete library.
// Channel names are used as subjects unchanged.
type Client interface {
	// Publish publishes a message to a subject with optional headers.
	Publish(subject string, data []byte, headers map[string]string) error
	// Subscribe delivers messages of every subject to sink until the returned stop is called.
	// It returns once the server has acknowledged the interest.
	Subscribe(subjects []string, sink chan<- cbus.ChannelMessage) (stop func() error, err error)
	IsClosed() bool
}

// Adapter implements cbus.Channel using an injected NATS-like Client.
type Adapter struct {
	Client  Client
	Buffer  int
	cleanup func()
}

// Ensure Adapter implements the channel contract.
var _ cbus.Channel = (*Adapter)(nil)

// New creates a new NATS adapter instance with the provided client.
func New(c Client) *Adapter { return &Adapter{Client: c, Buffer: 64} }

func (a *Adapter) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := a.ready(ctx, berr.ErrPublishFailed, "publish"); err != nil {
		return err
	}

	if err := a.Client.Publish(channel, payload, map[string]string{"content-type": contentType}); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("nats publish %s: %w", channel, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

func (a *Adapter) Subscribe(ctx context.Context, channels ...string) (cbus.Subscription, error) {
	if err := a.ready(ctx, berr.ErrSubscribeFailed, "subscribe"); err != nil {
		return nil, err
	}

	if len(channels) == 0 {
		return nil, fmt.Errorf("nats subscribe: no channels: %w", berr.ErrSubscribeFailed)
	}

	size := a.Buffer
	if size <= 0 {
		size = 1
	}

	sink := make(chan cbus.ChannelMessage, size)

	stop, err := a.Client.Subscribe(channels, sink)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %v: %w", channels, errors.Join(berr.ErrSubscribeFailed, err))
	}

	return &subscription{client: a.Client, sink: sink, stop: stop}, nil
}

// Close releases the connection when the adapter owns it.
func (a *Adapter) Close() error {
	if a.cleanup != nil {
		a.cleanup()
	}

	return nil
}

func (a *Adapter) ready(ctx context.Context, base error, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Client == nil {
		return fmt.Errorf("nats %s: %w", label, base)
	}

	return nil
}

type subscription struct {
	client Client
	sink   chan cbus.ChannelMessage
	stop   func() error
}

func (s *subscription) NextMessage(ctx context.Context, timeout time.Duration) (cbus.ChannelMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-s.sink:
		return msg, nil
	case <-ctx.Done():
		return cbus.ChannelMessage{}, ctx.Err()
	case <-timer.C:
		if s.client.IsClosed() {
			return cbus.ChannelMessage{}, fmt.Errorf("nats receive: connection closed: %w", berr.ErrTransport)
		}

		return cbus.ChannelMessage{}, berr.ErrNoMessage
	}
}

func (s *subscription) Close() error {
	if s.stop == nil {
		return nil
	}

	return s.stop()
}
