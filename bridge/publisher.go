package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	cbus "github.com/next-trace/scg-allocation/contract/bus"
	berr "github.com/next-trace/scg-allocation/contract/errors"
)

// Publisher sends internal events to an external channel. It does not retry; wrap the channel
// with WithRetry for that.
type Publisher struct {
	channel cbus.ChannelPublisher
	logger  *slog.Logger
}

// NewPublisher creates a Publisher over ch.
func NewPublisher(ch cbus.ChannelPublisher, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Publisher{channel: ch, logger: logger}
}

// Publish encodes e and sends it on channel.
func (p *Publisher) Publish(ctx context.Context, channel string, e cbus.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if p == nil || p.channel == nil {
		return fmt.Errorf("publish %s: no channel configured: %w", channel, berr.ErrPublishFailed)
	}

	body, err := Encode(e)
	if err != nil {
		return err
	}

	if err := p.channel.Publish(ctx, channel, body); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("publish %s to %s: %w", e.MessageName(), channel, errors.Join(berr.ErrPublishFailed, err))
	}

	p.logger.DebugContext(ctx, "published", "message", e.MessageName(), "channel", channel)

	return nil
}

// PublishHandler adapts p into an event handler that forwards every E to channel.
func PublishHandler[E cbus.Event, S cbus.Scope](p *Publisher, channel string) func(ctx context.Context, e E, s S) error {
	return func(ctx context.Context, e E, _ S) error {
		return p.Publish(ctx, channel, e)
	}
}
