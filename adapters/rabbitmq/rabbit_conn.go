package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	berr "github.com/next-trace/scg-allocation/contract/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Concrete AMQP connection-backed constructor with auto-reconnect.

const exchangeKind = "topic"

type Config struct {
	URL         string
	Exchange    string
	ConnTimeout time.Duration
}

type session struct {
	cfg    Config
	mu     sync.RWMutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed chan struct{}
	ready  chan struct{} // closed once a channel is ready
}

func newSession(cfg Config) (*session, func()) {
	s := &session{
		cfg:    cfg,
		closed: make(chan struct{}),
		ready:  make(chan struct{}),
	}
	go s.run()

	return s, s.close
}

func (s *session) current(ctx context.Context) (*amqp.Connection, *amqp.Channel, error) {
	s.mu.RLock()
	conn, ch, ready := s.conn, s.ch, s.ready
	s.mu.RUnlock()

	if ch != nil {
		return conn, ch, nil
	}

	select {
	case <-ready:
	case <-s.closed:
		return nil, nil, fmt.Errorf("rabbitmq: session closed: %w", berr.ErrTransport)
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ch == nil {
		return nil, nil, fmt.Errorf("rabbitmq: not connected: %w", berr.ErrTransport)
	}

	return s.conn, s.ch, nil
}

func (s *session) Publish(ctx context.Context, m PubMsg) error {
	_, ch, err := s.current(ctx)
	if err != nil {
		return err
	}

	return ch.PublishWithContext(
		ctx,
		m.Exchange,
		m.RoutingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			Headers:      amqpHeaders(m.Headers),
			ContentType:  "application/json",
			Body:         m.Body,
		},
	)
}

func (s *session) Consume(ctx context.Context, exchange string, keys []string) (<-chan Delivery, func() error, error) {
	conn, _, err := s.current(ctx)
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, err
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, nil, err
	}

	for _, key := range keys {
		if err := ch.QueueBind(q.Name, key, exchange, false, nil); err != nil {
			_ = ch.Close()
			return nil, nil, err
		}
	}

	src, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, nil, err
	}

	out := make(chan Delivery)
	done := make(chan struct{})

	var once sync.Once

	stop := func() error {
		once.Do(func() { close(done) })
		return ch.Close()
	}

	go func() {
		defer close(out)

		for d := range src {
			select {
			case out <- Delivery{RoutingKey: d.RoutingKey, Body: d.Body}:
			case <-done:
				return
			}
		}
	}()

	return out, stop, nil
}

func (s *session) dial() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(s.cfg.URL, amqp.Config{
		Locale:     "en_US",
		Properties: amqp.Table{"product": "scg-allocation"},
		Dial:       amqp.DefaultDial(s.cfg.ConnTimeout),
	})
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	if err := ch.ExchangeDeclare(s.cfg.Exchange, exchangeKind, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()

		return nil, nil, err
	}

	return conn, ch, nil
}

func (s *session) run() {
	wait := backoff.NewExponentialBackOff()
	wait.InitialInterval = time.Second
	wait.MaxInterval = 30 * time.Second
	wait.MaxElapsedTime = 0

	for {
		select {
		case <-s.closed:
			return
		default:
		}

		conn, ch, err := s.dial()
		if err != nil {
			t := time.NewTimer(wait.NextBackOff())
			select {
			case <-s.closed:
				t.Stop()
				return
			case <-t.C:
			}

			continue
		}

		wait.Reset()

		s.mu.Lock()
		s.conn = conn
		s.ch = ch
		close(s.ready)
		s.mu.Unlock()

		// Block on connection close notifications to trigger reconnect
		notify := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-s.closed:
			return
		case <-notify:
			s.mu.Lock()
			s.conn, s.ch = nil, nil
			s.ready = make(chan struct{})
			s.mu.Unlock()

			_ = ch.Close()
			_ = conn.Close()
		}
	}
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.closed:
		return
	default:
		close(s.closed)
	}

	if s.ch != nil {
		_ = s.ch.Close()
		s.ch = nil
	}

	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// NewWithAMQPConn dials RabbitMQ with auto-reconnect, ensures the exchange, and returns Adapter and cleanup.
func NewWithAMQPConn(cfg Config) (*Adapter, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: rabbitmq url required", berr.ErrConfiguration)
	}

	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}

	s, cleanup := newSession(cfg)
	ad := New(s, s)
	ad.Exchange = cfg.Exchange
	ad.cleanup = cleanup

	return ad, cleanup, nil
}
