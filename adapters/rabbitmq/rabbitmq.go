package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	cbus "github.com/next-trace/scg-allocation/contract/bus"
	berr "github.com/next-trace/scg-allocation/contract/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the topic exchange channels are routed through.
const DefaultExchange = "allocation"

type PubMsg struct {
	Exchange   string
	RoutingKey string
	Body       []byte
	Headers    map[string]string
}

type Publisher interface {
	Publish(ctx context.Context, m PubMsg) error
}

// Delivery is an inbound message as seen by the adapter.
type Delivery struct {
	RoutingKey string
	Body       []byte
}

// Consumer binds a private queue to keys on exchange and streams its deliveries.
// The returned channel is closed when the underlying AMQP channel goes away.
type Consumer interface {
	Consume(ctx context.Context, exchange string, keys []string) (<-chan Delivery, func() error, error)
}

type Adapter struct {
	Publisher Publisher
	Consumer  Consumer
	Exchange  string
	cleanup   func()
}

var _ cbus.Channel = (*Adapter)(nil)

func New(p Publisher, c Consumer) *Adapter {
	return &Adapter{Publisher: p, Consumer: c, Exchange: DefaultExchange}
}

func (a *Adapter) exchange() string {
	if a.Exchange == "" {
		return DefaultExchange
	}

	return a.Exchange
}

func (a *Adapter) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Publisher == nil {
		return fmt.Errorf("rabbitmq publish: %w", berr.ErrPublishFailed)
	}

	msg := PubMsg{
		Exchange:   a.exchange(),
		RoutingKey: channel,
		Body:       payload,
		Headers:    map[string]string{"channel": channel},
	}
	if err := a.Publisher.Publish(ctx, msg); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("rabbitmq publish %s: %w", channel, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

func (a *Adapter) Subscribe(ctx context.Context, channels ...string) (cbus.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if a.Consumer == nil {
		return nil, fmt.Errorf("rabbitmq subscribe: %w", berr.ErrSubscribeFailed)
	}

	if len(channels) == 0 {
		return nil, fmt.Errorf("rabbitmq subscribe: no channels: %w", berr.ErrSubscribeFailed)
	}

	deliveries, stop, err := a.Consumer.Consume(ctx, a.exchange(), channels)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		return nil, fmt.Errorf("rabbitmq subscribe %v: %w", channels, errors.Join(berr.ErrSubscribeFailed, err))
	}

	return &subscription{deliveries: deliveries, stop: stop}, nil
}

// Close stops the connection when the adapter owns it.
func (a *Adapter) Close() error {
	if a.cleanup != nil {
		a.cleanup()
	}

	return nil
}

type subscription struct {
	deliveries <-chan Delivery
	stop       func() error
}

func (s *subscription) NextMessage(ctx context.Context, timeout time.Duration) (cbus.ChannelMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d, ok := <-s.deliveries:
		if !ok {
			return cbus.ChannelMessage{}, fmt.Errorf("rabbitmq receive: channel closed: %w", berr.ErrTransport)
		}

		return cbus.ChannelMessage{Channel: d.RoutingKey, Payload: d.Body}, nil
	case <-ctx.Done():
		return cbus.ChannelMessage{}, ctx.Err()
	case <-timer.C:
		return cbus.ChannelMessage{}, berr.ErrNoMessage
	}
}

func (s *subscription) Close() error {
	if s.stop == nil {
		return nil
	}

	return s.stop()
}

func amqpHeaders(m map[string]string) amqp.Table {
	if len(m) == 0 {
		return nil
	}

	h := amqp.Table{}
	for k, v := range m {
		h[k] = v
	}

	return h
}

type amqpChannelPublisher struct{ ch *amqp.Channel }

func (p amqpChannelPublisher) Publish(ctx context.Context, m PubMsg) error {
	return p.ch.PublishWithContext(
		ctx,
		m.Exchange,
		m.RoutingKey,
		false,
		false,
		amqp.Publishing{
			Headers:     amqpHeaders(m.Headers),
			Body:        m.Body,
			ContentType: "application/json",
		},
	)
}

// NewWithAMQPChannel publishes on an existing channel. The adapter cannot subscribe.
func NewWithAMQPChannel(ch *amqp.Channel) *Adapter {
	return New(amqpChannelPublisher{ch: ch}, nil)
}
