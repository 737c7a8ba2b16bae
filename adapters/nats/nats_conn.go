package nats

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	cbus "github.com/next-trace/scg-allocation/contract/bus"
	berr "github.com/next-trace/scg-allocation/contract/errors"
)

// Concrete NATS connection-backed Client and constructor.

type Config struct {
	URL           string
	Name          string
	ConnTimeout   time.Duration
	MaxReconnects int
}

type natsClient struct{ nc *nats.Conn }

func (c natsClient) Publish(subject string, data []byte, headers map[string]string) error {
	msg := &nats.Msg{Subject: subject, Data: data}

	var h nats.Header
	if len(headers) > 0 {
		h = nats.Header{}
		for k, v := range headers {
			h.Add(k, v)
		}
	}

	msg.Header = h

	if err := c.nc.PublishMsg(msg); err != nil {
		return err
	}

	return c.nc.Flush()
}

// forward hands each message to sink. Once done is closed, messages are dropped so the delivery
// goroutine never blocks on a sink nobody reads.
func forward(sink chan<- cbus.ChannelMessage, done <-chan struct{}) nats.MsgHandler {
	return func(m *nats.Msg) {
		select {
		case sink <- cbus.ChannelMessage{Channel: m.Subject, Payload: m.Data}:
		case <-done:
		}
	}
}

func (c natsClient) Subscribe(subjects []string, sink chan<- cbus.ChannelMessage) (func() error, error) {
	subs := make([]*nats.Subscription, 0, len(subjects))
	done := make(chan struct{})

	var once sync.Once

	stop := func() error {
		once.Do(func() { close(done) })

		var errs []error
		for _, s := range subs {
			errs = append(errs, s.Unsubscribe())
		}

		return errors.Join(errs...)
	}

	for _, subject := range subjects {
		s, err := c.nc.Subscribe(subject, forward(sink, done))
		if err != nil {
			_ = stop()
			return nil, err
		}

		subs = append(subs, s)
	}

	if err := c.nc.Flush(); err != nil {
		_ = stop()
		return nil, err
	}

	return stop, nil
}

func (c natsClient) IsClosed() bool { return c.nc.IsClosed() }

// NewWithNATS creates a real NATS connection and returns an Adapter and a cleanup.
// Close on the adapter runs the same cleanup.
func NewWithNATS(cfg Config) (*Adapter, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: nats url required", berr.ErrConfiguration)
	}

	opts := []nats.Option{}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.ConnTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnTimeout))
	}

	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: nats connect: %w", berr.ErrTransport, err)
	}

	ad := New(natsClient{nc: nc})
	cleanup := func() {
		if nc != nil && !nc.IsClosed() {
			_ = nc.Drain() //nolint:errcheck // best-effort shutdown; cannot return error here
			nc.Close()
		}
	}
	ad.cleanup = cleanup

	return ad, cleanup, nil
}
