package redis

import (
	"context"
	"fmt"

	berr "github.com/next-trace/scg-allocation/contract/errors"
	goredis "github.com/redis/go-redis/v9"
)

// Concrete go-redis backed Client and constructor.

type Config struct {
	Addr     string
	Password string
	DB       int
}

type rdbClient struct{ rdb goredis.UniversalClient }

// NewClient wraps an existing go-redis client.
func NewClient(rdb goredis.UniversalClient) Client { return rdbClient{rdb: rdb} }

func (c rdbClient) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.rdb.Publish(ctx, channel, payload).Err()
}

func (c rdbClient) Subscribe(ctx context.Context, channels ...string) (PubSub, error) {
	ps := c.rdb.Subscribe(ctx, channels...)

	for range channels {
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return nil, err
		}
	}

	return ps, nil
}

// NewWithRedis connects to Redis, verifies the connection with PING and returns an Adapter and cleanup.
func NewWithRedis(ctx context.Context, cfg Config) (*Adapter, func(), error) {
	if cfg.Addr == "" {
		return nil, nil, fmt.Errorf("%w: redis addr required", berr.ErrConfiguration)
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("%w: redis ping: %w", berr.ErrTransport, err)
	}

	ad := New(NewClient(rdb))
	cleanup := func() { _ = rdb.Close() }
	ad.cleanup = cleanup

	return ad, cleanup, nil
}
