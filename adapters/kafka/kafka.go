package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	cbus "github.com/next-trace/scg-allocation/contract/bus"
	berr "github.com/next-trace/scg-allocation/contract/errors"
)

// Writer is a minimal Kafka-like writer interface. Channels are used as topics.
type Writer interface {
	Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Record is a consumed message.
type Record struct {
	Topic string
	Value []byte
}

// Reader polls records for the topics it was created with.
type Reader interface {
	// Poll blocks until records arrive or ctx ends.
	Poll(ctx context.Context) ([]Record, error)
	Close()
}

// ReaderFactory creates a Reader consuming topics from their latest offset.
type ReaderFactory func(topics []string) (Reader, error)

// Adapter implements cbus.Channel using an injected Writer and ReaderFactory.
type Adapter struct {
	Writer  Writer
	Readers ReaderFactory
	cleanup func()
}

var _ cbus.Channel = (*Adapter)(nil)

// New creates a new Kafka adapter instance.
func New(w Writer, r ReaderFactory) *Adapter { return &Adapter{Writer: w, Readers: r} }

func (a *Adapter) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Writer == nil {
		return fmt.Errorf("kafka publish: %w", berr.ErrPublishFailed)
	}

	headers := map[string]string{"content-type": "application/json"}

	if err := a.Writer.Write(ctx, channel, nil, payload, headers); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("kafka publish write: %w", errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

func (a *Adapter) Subscribe(ctx context.Context, channels ...string) (cbus.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if a.Readers == nil {
		return nil, fmt.Errorf("kafka subscribe: %w", berr.ErrSubscribeFailed)
	}

	if len(channels) == 0 {
		return nil, fmt.Errorf("kafka subscribe: no channels: %w", berr.ErrSubscribeFailed)
	}

	r, err := a.Readers(channels)
	if err != nil {
		return nil, fmt.Errorf("kafka subscribe %v: %w", channels, errors.Join(berr.ErrSubscribeFailed, err))
	}

	return &subscription{reader: r}, nil
}

// Close releases the producer when the adapter owns it.
func (a *Adapter) Close() error {
	if a.cleanup != nil {
		a.cleanup()
	}

	return nil
}

type subscription struct {
	reader  Reader
	pending []Record
}

func (s *subscription) NextMessage(ctx context.Context, timeout time.Duration) (cbus.ChannelMessage, error) {
	if len(s.pending) == 0 {
		pctx, cancel := context.WithTimeout(ctx, timeout)
		records, err := s.reader.Poll(pctx)

		cancel()

		switch {
		case err == nil:
		case ctx.Err() != nil:
			return cbus.ChannelMessage{}, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return cbus.ChannelMessage{}, berr.ErrNoMessage
		default:
			return cbus.ChannelMessage{}, fmt.Errorf("kafka poll: %w", errors.Join(berr.ErrTransport, err))
		}

		s.pending = records
	}

	if len(s.pending) == 0 {
		return cbus.ChannelMessage{}, berr.ErrNoMessage
	}

	r := s.pending[0]
	s.pending = s.pending[1:]

	return cbus.ChannelMessage{Channel: r.Topic, Payload: r.Value}, nil
}

func (s *subscription) Close() error {
	s.reader.Close()
	return nil
}
