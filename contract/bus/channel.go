package bus

import (
	"context"
	"time"
)

// ChannelMessage is one payload received from an external pub/sub channel.
type ChannelMessage struct {
	Channel string
	Payload []byte
}

// ChannelPublisher sends raw payloads to a named external channel.
// Implementations must be safe for concurrent use.
type ChannelPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Subscription is an acknowledged subscription to one or more channels.
type Subscription interface {
	// NextMessage blocks until a message arrives, timeout elapses or ctx is done.
	// An elapsed timeout returns errors.ErrNoMessage; a broken transport returns errors.ErrTransport.
	NextMessage(ctx context.Context, timeout time.Duration) (ChannelMessage, error)
	// Close unsubscribes and releases the subscription's resources.
	Close() error
}

// ChannelSubscriber opens subscriptions. Subscribe returns once the broker acknowledged it.
type ChannelSubscriber interface {
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
}
