// Package memory wires the allocation service entirely in process: memstore, the in-memory broker
// and a listener on the change_batch_quantity channel.
package memory

import (
	"context"
	"log/slog"

	"github.com/next-trace/scg-allocation/adapters/inmemory"
	"github.com/next-trace/scg-allocation/allocation"
	"github.com/next-trace/scg-allocation/bridge"
	cbus "github.com/next-trace/scg-allocation/contract/bus"
	"github.com/next-trace/scg-allocation/notify"
	"github.com/next-trace/scg-allocation/service"
	"github.com/next-trace/scg-allocation/servicebus"
	"github.com/next-trace/scg-allocation/store/memstore"
)

// Channel names used by the in-memory composition.
const (
	LineAllocatedChannel       = service.DefaultAllocatedChannel
	ChangeBatchQuantityChannel = "change_batch_quantity"
)

// App is a fully wired in-memory allocation service.
type App struct {
	Bus           *servicebus.Bus[service.UnitOfWork]
	Store         *memstore.Store
	Broker        *inmemory.Broker
	Notifications *notify.Recorder
	Listener      *bridge.Listener
	Dispatch      cbus.DispatchFunc
}

// New constructs the app. The listener is idle until Run is called; the cleanup stops it and closes
// the broker.
func New(logger *slog.Logger, opts ...bridge.ListenerOption) (*App, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	app := &App{
		Store:         memstore.New(),
		Broker:        inmemory.New(),
		Notifications: &notify.Recorder{},
	}

	bus, err := service.Bootstrap(service.Dependencies{
		Logger:        logger,
		Notifications: app.Notifications,
		NotifyTo:      "stock@example.com",
		Publisher:     bridge.NewPublisher(bridge.WithRetry(app.Broker, bridge.DefaultRetryPolicy()), logger),
		Middleware:    []servicebus.Middleware[service.UnitOfWork]{service.LoggingMiddleware(logger)},
	})
	if err != nil {
		return nil, nil, err
	}

	app.Bus = bus
	app.Dispatch = service.NewDispatchFunc(bus, app.Store.NewUnitOfWork)

	app.Listener, err = bridge.NewListener(app.Broker, app.Dispatch, logger, []bridge.Route{
		{Channel: ChangeBatchQuantityChannel, Decode: bridge.JSONDecoder[allocation.ChangeBatchQuantity]()},
	}, opts...)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		app.Listener.Stop()
		_ = app.Broker.Close()
	}

	return app, cleanup, nil
}

// Run blocks in the listener until ctx ends.
func (a *App) Run(ctx context.Context) error { return a.Listener.Run(ctx) }
