package servicebus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cbus "github.com/next-trace/scg-allocation/contract/bus"
	berr "github.com/next-trace/scg-allocation/contract/errors"
)

// Bus drains messages through the handlers of a sealed Registry.
//
// Bus is concurrency-safe and contains no global state. Each Handle call owns its scope.
type Bus[S cbus.Scope] struct {
	reg     *Registry[S]
	mw      []Middleware[S]
	metrics *Metrics
	logger  *slog.Logger
}

// Ensure Bus implements the dispatcher contract.
var _ cbus.Dispatcher[cbus.Scope] = (*Bus[cbus.Scope])(nil)

// Option configures a Bus instance.
type Option[S cbus.Scope] func(*Bus[S])

// Middleware wraps every handler invocation. Middlewares are executed in registration order.
type Middleware[S cbus.Scope] func(next cbus.HandlerFunc[S]) cbus.HandlerFunc[S]

// WithMiddleware registers global handler middleware.
func WithMiddleware[S cbus.Scope](mw ...Middleware[S]) Option[S] {
	return func(b *Bus[S]) { b.mw = append(b.mw, mw...) }
}

// WithMetrics records handler outcomes and latencies.
func WithMetrics[S cbus.Scope](m *Metrics) Option[S] {
	return func(b *Bus[S]) { b.metrics = m }
}

// New seals reg and returns a Bus dispatching through it.
// A registry that fails validation is reported as a configuration error.
func New[S cbus.Scope](reg *Registry[S], logger *slog.Logger, opts ...Option[S]) (*Bus[S], error) {
	if reg == nil {
		return nil, fmt.Errorf("new bus: nil registry: %w", berr.ErrConfiguration)
	}

	if err := reg.Seal(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	b := &Bus[S]{reg: reg, logger: logger}
	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// HandlerError reports a failed handler invocation.
// It unwraps to both ErrCommandHandler or ErrEventHandler and the handler's own error.
type HandlerError struct {
	Kind    cbus.Kind
	Message string
	Handler string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s %s: handler %s: %v", e.Kind, e.Message, e.Handler, e.Err)
}

func (e *HandlerError) Unwrap() []error {
	base := berr.ErrEventHandler
	if e.Kind == cbus.KindCommand {
		base = berr.ErrCommandHandler
	}

	return []error{base, e.Err}
}

// Handle processes m and every message its handlers emit, breadth-first, until the queue is empty.
//
// A failing command drops whatever its handler left in the scope's outbox, but messages queued
// before the failure are still processed. All command failures are joined and returned once the
// queue is drained. Event handler failures are logged only.
func (b *Bus[S]) Handle(ctx context.Context, m cbus.Message, s S) error {
	if m == nil {
		return fmt.Errorf("handle: nil message: %w", berr.ErrConfiguration)
	}

	queue := []cbus.Message{m}

	var errs []error

	for head := 0; head < len(queue); head++ {
		msg := queue[head]
		queue[head] = nil

		var (
			next []cbus.Message
			err  error
		)

		switch cbus.KindOf(msg) {
		case cbus.KindCommand:
			next, err = b.handleCommand(ctx, msg, s)
		case cbus.KindEvent:
			next = b.handleEvent(ctx, msg, s)
		default:
			err = fmt.Errorf("handle %s: neither command nor event: %w", msg.MessageName(), berr.ErrConfiguration)
		}

		if err != nil {
			errs = append(errs, err)
			continue
		}

		queue = append(queue, next...)
	}

	b.logger.DebugContext(ctx, "drained",
		"root", m.MessageName(),
		"processed", len(queue),
		"failures", len(errs),
	)

	return errors.Join(errs...)
}

func (b *Bus[S]) handleCommand(ctx context.Context, msg cbus.Message, s S) ([]cbus.Message, error) {
	hs, err := b.reg.HandlersFor(msg)
	if err != nil {
		b.logger.ErrorContext(ctx, "command not routable", "message", msg.MessageName(), "err", err)
		return nil, err
	}

	h := hs[0]

	if err := b.invoke(ctx, cbus.KindCommand, msg, h, s); err != nil {
		dropped := s.CollectNewMessages()
		b.logger.WarnContext(ctx, "command failed",
			"message", msg.MessageName(),
			"handler", h.Name,
			"dropped", len(dropped),
			"err", err,
		)

		return nil, &HandlerError{Kind: cbus.KindCommand, Message: msg.MessageName(), Handler: h.Name, Err: err}
	}

	return s.CollectNewMessages(), nil
}

func (b *Bus[S]) handleEvent(ctx context.Context, msg cbus.Message, s S) []cbus.Message {
	hs, err := b.reg.HandlersFor(msg)
	if err != nil {
		b.logger.ErrorContext(ctx, "event not routable", "message", msg.MessageName(), "err", err)
		return nil
	}

	var out []cbus.Message

	for _, h := range hs {
		if err := b.invoke(ctx, cbus.KindEvent, msg, h, s); err != nil {
			dropped := s.CollectNewMessages()
			herr := &HandlerError{Kind: cbus.KindEvent, Message: msg.MessageName(), Handler: h.Name, Err: err}
			b.logger.ErrorContext(ctx, "event handler failed",
				"message", msg.MessageName(),
				"handler", h.Name,
				"dropped", len(dropped),
				"err", herr,
			)

			continue
		}

		out = append(out, s.CollectNewMessages()...)
	}

	return out
}

func (b *Bus[S]) invoke(ctx context.Context, kind cbus.Kind, msg cbus.Message, h Handler[S], s S) (err error) {
	final := h.Call
	for i := len(b.mw) - 1; i >= 0; i-- {
		final = b.mw[i](final)
	}

	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}

		b.metrics.observe(kind, msg.MessageName(), h.Name, err, time.Since(start))
	}()

	return final(ctx, msg, s)
}
