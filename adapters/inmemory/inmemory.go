package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	cbus "github.com/next-trace/scg-allocation/contract/bus"
	berr "github.com/next-trace/scg-allocation/contract/errors"
)

// Broker is a thread-safe in-process channel. Every subscription of a channel receives each
// message published on it after the subscription was made. Published messages are recorded for
// tests and examples.
type Broker struct {
	mu        sync.Mutex
	subs      map[*subscription]struct{}
	published []cbus.ChannelMessage
	closed    bool
}

// Ensure Broker implements the channel contract.
var _ cbus.Channel = (*Broker)(nil)

// New creates an empty broker.
func New() *Broker { return &Broker{subs: make(map[*subscription]struct{})} }

func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := cbus.ChannelMessage{Channel: channel, Payload: append([]byte(nil), payload...)}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("inmemory publish %s: broker closed: %w", channel, berr.ErrPublishFailed)
	}

	b.published = append(b.published, msg)

	for s := range b.subs {
		if _, ok := s.channels[channel]; ok {
			s.push(msg)
		}
	}

	return nil
}

// Published returns a copy of every message sent so far.
func (b *Broker) Published() []cbus.ChannelMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]cbus.ChannelMessage(nil), b.published...)
}

func (b *Broker) Subscribe(ctx context.Context, channels ...string) (cbus.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(channels) == 0 {
		return nil, fmt.Errorf("inmemory subscribe: no channels: %w", berr.ErrSubscribeFailed)
	}

	s := &subscription{
		broker:   b,
		channels: make(map[string]struct{}, len(channels)),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, c := range channels {
		s.channels[c] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("inmemory subscribe: broker closed: %w", berr.ErrSubscribeFailed)
	}

	b.subs[s] = struct{}{}

	return s, nil
}

// Close ends every subscription. Further publishes fail.
func (b *Broker) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*subscription]struct{})
	b.closed = true
	b.mu.Unlock()

	for s := range subs {
		s.shut()
	}

	return nil
}

type subscription struct {
	broker   *Broker
	channels map[string]struct{}

	mu     sync.Mutex
	queue  []cbus.ChannelMessage
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) push(msg cbus.ChannelMessage) {
	s.mu.Lock()
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription) pop() (cbus.ChannelMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return cbus.ChannelMessage{}, false
	}

	msg := s.queue[0]
	s.queue = s.queue[1:]

	return msg, true
}

func (s *subscription) NextMessage(ctx context.Context, timeout time.Duration) (cbus.ChannelMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if msg, ok := s.pop(); ok {
			return msg, nil
		}

		select {
		case <-s.notify:
		case <-s.done:
			return cbus.ChannelMessage{}, fmt.Errorf("inmemory receive: subscription closed: %w", berr.ErrTransport)
		case <-ctx.Done():
			return cbus.ChannelMessage{}, ctx.Err()
		case <-timer.C:
			return cbus.ChannelMessage{}, berr.ErrNoMessage
		}
	}
}

func (s *subscription) Close() error {
	s.broker.mu.Lock()
	delete(s.broker.subs, s)
	s.broker.mu.Unlock()

	s.shut()

	return nil
}

func (s *subscription) shut() { s.once.Do(func() { close(s.done) }) }
