package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	cbus "github.com/next-trace/scg-allocation/contract/bus"
	berr "github.com/next-trace/scg-allocation/contract/errors"
	goredis "github.com/redis/go-redis/v9"
)

// PubSub is the subset of *goredis.PubSub the adapter reads from.
type PubSub interface {
	ReceiveTimeout(ctx context.Context, timeout time.Duration) (interface{}, error)
	Close() error
}

// Client publishes to and subscribes on Redis channels.
type Client interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns once every channel subscription is confirmed.
	Subscribe(ctx context.Context, channels ...string) (PubSub, error)
}

// Adapter implements cbus.Channel on Redis pub/sub. Delivery is at-most-once: messages published
// while no subscription is active are lost.
type Adapter struct {
	Client  Client
	cleanup func()
}

var _ cbus.Channel = (*Adapter)(nil)

func New(c Client) *Adapter { return &Adapter{Client: c} }

func (a *Adapter) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Client == nil {
		return fmt.Errorf("redis publish: %w", berr.ErrPublishFailed)
	}

	if err := a.Client.Publish(ctx, channel, payload); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("redis publish %s: %w", channel, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

func (a *Adapter) Subscribe(ctx context.Context, channels ...string) (cbus.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if a.Client == nil {
		return nil, fmt.Errorf("redis subscribe: %w", berr.ErrSubscribeFailed)
	}

	if len(channels) == 0 {
		return nil, fmt.Errorf("redis subscribe: no channels: %w", berr.ErrSubscribeFailed)
	}

	ps, err := a.Client.Subscribe(ctx, channels...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("redis subscribe %v: %w", channels, errors.Join(berr.ErrSubscribeFailed, err))
	}

	return &subscription{ps: ps}, nil
}

// Close releases the client when the adapter owns it.
func (a *Adapter) Close() error {
	if a.cleanup != nil {
		a.cleanup()
	}

	return nil
}

type subscription struct{ ps PubSub }

func (s *subscription) NextMessage(ctx context.Context, timeout time.Duration) (cbus.ChannelMessage, error) {
	v, err := s.ps.ReceiveTimeout(ctx, timeout)
	if err != nil {
		if ctx.Err() != nil {
			return cbus.ChannelMessage{}, ctx.Err()
		}

		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return cbus.ChannelMessage{}, berr.ErrNoMessage
		}

		return cbus.ChannelMessage{}, fmt.Errorf("redis receive: %w", errors.Join(berr.ErrTransport, err))
	}

	switch m := v.(type) {
	case *goredis.Message:
		return cbus.ChannelMessage{Channel: m.Channel, Payload: []byte(m.Payload)}, nil
	default:
		// subscription confirmations and pongs
		return cbus.ChannelMessage{}, berr.ErrNoMessage
	}
}

func (s *subscription) Close() error { return s.ps.Close() }
