package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/next-trace/scg-allocation/adapters/inmemory"
	"github.com/next-trace/scg-allocation/adapters/kafka"
	"github.com/next-trace/scg-allocation/adapters/nats"
	"github.com/next-trace/scg-allocation/adapters/rabbitmq"
	"github.com/next-trace/scg-allocation/adapters/redis"
	"github.com/next-trace/scg-allocation/bridge"
	"github.com/next-trace/scg-allocation/config"
	cbus "github.com/next-trace/scg-allocation/contract/bus"
	"github.com/next-trace/scg-allocation/notify"
	"github.com/next-trace/scg-allocation/service"
	"github.com/next-trace/scg-allocation/servicebus"
	"github.com/next-trace/scg-allocation/store/sqlstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *sqlx.DB
	channel  cbus.Channel
	store    *sqlstore.Store
	bus      *servicebus.Bus[service.UnitOfWork]
	dispatch cbus.DispatchFunc
	registry *prometheus.Registry
	bridge   *bridge.Metrics
}

func (r *runtime) Close() {
	if r.channel != nil {
		_ = r.channel.Close()
	}

	if r.db != nil {
		_ = r.db.Close()
	}
}

func openChannel(ctx context.Context, cfg *config.Config) (cbus.Channel, error) {
	switch cfg.Broker {
	case config.BrokerMemory:
		return inmemory.New(), nil
	case config.BrokerRedis:
		return channel(redis.NewWithRedis(ctx, redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}))
	case config.BrokerNATS:
		return channel(nats.NewWithNATS(nats.Config{
			URL:           cfg.NATS.URL,
			Name:          "allocation",
			ConnTimeout:   cfg.NATS.ConnTimeout,
			MaxReconnects: cfg.NATS.MaxReconnects,
		}))
	case config.BrokerRabbitMQ:
		return channel(rabbitmq.NewWithAMQPConn(rabbitmq.Config{
			URL:         cfg.RabbitMQ.URL,
			Exchange:    cfg.RabbitMQ.Exchange,
			ConnTimeout: cfg.RabbitMQ.ConnTimeout,
		}))
	case config.BrokerKafka:
		return channel(kafka.NewWithKgo(kafka.Config{Brokers: cfg.Kafka.Brokers, ClientID: cfg.Kafka.ClientID}))
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Broker)
	}
}

// channel drops the cleanup func; Close on the adapter runs it.
func channel[A cbus.Channel](ad A, _ func(), err error) (cbus.Channel, error) {
	if err != nil {
		return nil, err
	}

	return ad, nil
}

func notifications(cfg *config.Config, logger *slog.Logger) service.Notifications {
	if cfg.SMTP.Host == "" {
		return notify.NewLog(logger)
	}

	return notify.NewEmail(notify.EmailConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}, nil)
}

func setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}

	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	busMetrics, err := servicebus.NewMetrics(rt.registry)
	if err != nil {
		return nil, err
	}

	if rt.bridge, err = bridge.NewMetrics(rt.registry); err != nil {
		return nil, err
	}

	if rt.db, err = sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.DSN); err != nil {
		return nil, err
	}

	if n, err := sqlstore.Migrate(rt.db); err != nil {
		rt.Close()
		return nil, err
	} else if n > 0 {
		logger.Info("migrations applied", "count", n)
	}

	if rt.channel, err = openChannel(ctx, cfg); err != nil {
		rt.Close()
		return nil, err
	}

	policy := bridge.DefaultRetryPolicy()
	policy.MaxRetries = cfg.PublishRetries

	rt.bus, err = service.Bootstrap(service.Dependencies{
		Logger:           logger,
		Notifications:    notifications(cfg, logger),
		NotifyTo:         cfg.NotifyTo,
		Publisher:        bridge.NewPublisher(bridge.WithRetry(rt.channel, policy), logger),
		AllocatedChannel: cfg.Channels.LineAllocated,
		Metrics:          busMetrics,
		Middleware:       []servicebus.Middleware[service.UnitOfWork]{service.LoggingMiddleware(logger)},
	})
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.store = sqlstore.New(rt.db)
	rt.dispatch = service.NewDispatchFunc(rt.bus, rt.store.NewUnitOfWork)

	return rt, nil
}
