package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	cbus "github.com/next-trace/scg-allocation/contract/bus"
	berr "github.com/next-trace/scg-allocation/contract/errors"
)

// State is the lifecycle position of a Listener.
type State int32

const (
	StateIdle State = iota
	StateSubscribed
	StateListening
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribed:
		return "subscribed"
	case StateListening:
		return "listening"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// DefaultPollTimeout bounds each wait for the next inbound message.
const DefaultPollTimeout = time.Second

// Route binds an inbound channel to the decoder for its command.
type Route struct {
	Channel string
	Decode  Decoder
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithPollTimeout sets how long a single receive waits before checking for shutdown.
func WithPollTimeout(d time.Duration) ListenerOption {
	return func(l *Listener) {
		if d > 0 {
			l.pollTimeout = d
		}
	}
}

// WithListenerMetrics records deliveries on m.
func WithListenerMetrics(m *Metrics) ListenerOption {
	return func(l *Listener) { l.metrics = m }
}

// Listener receives inbound channel messages and dispatches them as commands, one at a time.
type Listener struct {
	sub         cbus.ChannelSubscriber
	dispatch    cbus.DispatchFunc
	routes      map[string]Decoder
	channels    []string
	pollTimeout time.Duration
	logger      *slog.Logger
	metrics     *Metrics

	state    atomic.Int32
	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
}

// NewListener validates routes and returns an idle Listener.
func NewListener(
	sub cbus.ChannelSubscriber,
	dispatch cbus.DispatchFunc,
	logger *slog.Logger,
	routes []Route,
	opts ...ListenerOption,
) (*Listener, error) {
	if sub == nil || dispatch == nil {
		return nil, fmt.Errorf("listener: subscriber and dispatch are required: %w", berr.ErrConfiguration)
	}

	if len(routes) == 0 {
		return nil, fmt.Errorf("listener: no routes: %w", berr.ErrConfiguration)
	}

	if logger == nil {
		logger = slog.Default()
	}

	l := &Listener{
		sub:         sub,
		dispatch:    dispatch,
		routes:      make(map[string]Decoder, len(routes)),
		pollTimeout: DefaultPollTimeout,
		logger:      logger,
		stop:        make(chan struct{}),
	}

	for _, r := range routes {
		if r.Channel == "" || r.Decode == nil {
			return nil, fmt.Errorf("listener: route %q incomplete: %w", r.Channel, berr.ErrConfiguration)
		}

		if _, dup := l.routes[r.Channel]; dup {
			return nil, fmt.Errorf("listener: duplicate route %q: %w", r.Channel, berr.ErrConfiguration)
		}

		l.routes[r.Channel] = r.Decode
		l.channels = append(l.channels, r.Channel)
	}

	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// State reports the current lifecycle state.
func (l *Listener) State() State { return State(l.state.Load()) }

func (l *Listener) setState(s State) {
	l.state.Store(int32(s))
	l.logger.Debug("listener state", "state", s.String())
}

// Run subscribes and processes messages until ctx is cancelled, Stop is called or the transport
// breaks. A requested stop returns nil; a broken transport returns an error wrapping ErrTransport.
// A Listener runs at most once.
func (l *Listener) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return fmt.Errorf("listener already started: %w", berr.ErrConfiguration)
	}

	select {
	case <-l.stop:
		l.setState(StateStopped)
		return nil
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-l.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	subscription, err := l.sub.Subscribe(ctx, l.channels...)
	if err != nil {
		if ctx.Err() != nil {
			l.setState(StateStopped)
			return nil
		}

		l.setState(StateError)

		return fmt.Errorf("listener subscribe: %w", err)
	}

	l.setState(StateSubscribed)

	defer func() {
		if cerr := subscription.Close(); cerr != nil {
			l.logger.Warn("listener unsubscribe", "err", cerr)
		}
	}()

	l.setState(StateListening)
	l.logger.Info("listening", "channels", l.channels)

	for {
		if ctx.Err() != nil {
			l.setState(StateStopped)
			return nil
		}

		msg, err := subscription.NextMessage(ctx, l.pollTimeout)

		switch {
		case err == nil:
			l.deliver(ctx, msg)
		case errors.Is(err, berr.ErrNoMessage):
			continue
		case ctx.Err() != nil:
			l.setState(StateStopped)
			return nil
		default:
			l.setState(StateError)
			if errors.Is(err, berr.ErrTransport) {
				return fmt.Errorf("listener receive: %w", err)
			}

			return fmt.Errorf("listener receive: %w", errors.Join(berr.ErrTransport, err))
		}
	}
}

// Stop asks the listener to return. In-flight dispatches complete first. A Stop before Run
// makes Run return immediately.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Listener) deliver(ctx context.Context, msg cbus.ChannelMessage) {
	log := l.logger.With("channel", msg.Channel, "delivery_id", uuid.NewString())

	decode, ok := l.routes[msg.Channel]
	if !ok {
		log.Warn("no route for channel")
		l.metrics.observe(msg.Channel, OutcomeUnrouted)

		return
	}

	cmd, err := decode(msg.Payload)
	if err != nil {
		log.Error("dropping malformed message", "err", err, "payload", string(msg.Payload))
		l.metrics.observe(msg.Channel, OutcomeMalformed)

		return
	}

	log.Info("handling", "message", cmd.MessageName())

	if err := l.dispatch(context.WithoutCancel(ctx), cmd); err != nil {
		log.Error("command failed", "message", cmd.MessageName(), "err", err)
		l.metrics.observe(msg.Channel, OutcomeFailed)

		return
	}

	l.metrics.observe(msg.Channel, OutcomeDispatched)
}
