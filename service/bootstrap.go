package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/next-trace/scg-allocation/allocation"
	"github.com/next-trace/scg-allocation/bridge"
	cbus "github.com/next-trace/scg-allocation/contract/bus"
	berr "github.com/next-trace/scg-allocation/contract/errors"
	"github.com/next-trace/scg-allocation/servicebus"
)

// DefaultAllocatedChannel is where Allocated events are published.
const DefaultAllocatedChannel = "line_allocated"

// Dependencies are the collaborators handlers close over.
type Dependencies struct {
	Logger           *slog.Logger
	Notifications    Notifications
	NotifyTo         string
	Publisher        *bridge.Publisher
	AllocatedChannel string
	Metrics          *servicebus.Metrics
	Middleware       []servicebus.Middleware[UnitOfWork]
}

// Bootstrap registers every allocation handler and returns a sealed bus.
//
// Event handlers run in this order: deallocated → remove_allocation_from_read_model, reallocate;
// allocated → publish_allocated_event, add_allocation_to_read_model; out_of_stock →
// send_out_of_stock_notification.
func Bootstrap(deps Dependencies) (*servicebus.Bus[UnitOfWork], error) {
	if deps.Publisher == nil {
		return nil, fmt.Errorf("bootstrap: publisher is required: %w", berr.ErrConfiguration)
	}

	if deps.Notifications == nil {
		return nil, fmt.Errorf("bootstrap: notifications are required: %w", berr.ErrConfiguration)
	}

	channel := deps.AllocatedChannel
	if channel == "" {
		channel = DefaultAllocatedChannel
	}

	notifier := Notifier{Notifications: deps.Notifications, Destination: deps.NotifyTo}

	r := servicebus.NewRegistry[UnitOfWork]()
	steps := []error{
		r.Require(allocation.Commands()...),
		servicebus.BindCommand(r, "add_batch", AddBatch),
		servicebus.BindCommand(r, "allocate", Allocate),
		servicebus.BindCommand(r, "change_batch_quantity", ChangeBatchQuantity),
		servicebus.BindEvent(r, "remove_allocation_from_read_model", RemoveAllocationFromReadModel),
		servicebus.BindEvent(r, "reallocate", Reallocate),
		servicebus.BindEvent(r, "publish_allocated_event",
			bridge.PublishHandler[allocation.Allocated, UnitOfWork](deps.Publisher, channel)),
		servicebus.BindEvent(r, "add_allocation_to_read_model", AddAllocationToReadModel),
		servicebus.BindEvent(r, "send_out_of_stock_notification", notifier.SendOutOfStockNotification),
	}

	for _, err := range steps {
		if err != nil {
			return nil, err
		}
	}

	opts := []servicebus.Option[UnitOfWork]{servicebus.WithMiddleware(deps.Middleware...)}
	if deps.Metrics != nil {
		opts = append(opts, servicebus.WithMetrics[UnitOfWork](deps.Metrics))
	}

	return servicebus.New(r, deps.Logger, opts...)
}

// NewDispatchFunc dispatches each command on bus with a fresh unit of work from factory.
func NewDispatchFunc(bus *servicebus.Bus[UnitOfWork], factory UnitOfWorkFactory) cbus.DispatchFunc {
	return func(ctx context.Context, cmd cbus.Command) error {
		return bus.Handle(ctx, cmd, factory())
	}
}

// LoggingMiddleware logs each handler invocation at debug level.
func LoggingMiddleware(logger *slog.Logger) servicebus.Middleware[UnitOfWork] {
	return func(next cbus.HandlerFunc[UnitOfWork]) cbus.HandlerFunc[UnitOfWork] {
		return func(ctx context.Context, m cbus.Message, uow UnitOfWork) error {
			logger.DebugContext(ctx, "handling", "message", m.MessageName())
			return next(ctx, m, uow)
		}
	}
}
