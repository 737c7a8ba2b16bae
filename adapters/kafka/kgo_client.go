package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	berr "github.com/next-trace/scg-allocation/contract/errors"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Concrete franz-go based constructor, writer and reader wrappers.

type Config struct {
	Brokers     []string
	TLS         *tls.Config
	Acks        kgo.Acks
	Idempotent  bool
	ClientID    string
	Compression kgo.CompressionCodec
}

func (cfg Config) baseOpts() []kgo.Opt {
	opts := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...)}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	if cfg.TLS != nil {
		opts = append(opts, kgo.DialTLSConfig(cfg.TLS))
	}

	return opts
}

type kgoWriter struct{ cl *kgo.Client }

func (w kgoWriter) Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	if len(headers) > 0 {
		rec.Headers = make([]kgo.RecordHeader, 0, len(headers))
		for k, v := range headers {
			rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
		}
	}

	return w.cl.ProduceSync(ctx, rec).FirstErr()
}

type kgoReader struct{ cl *kgo.Client }

func (r kgoReader) Poll(ctx context.Context) ([]Record, error) {
	fetches := r.cl.PollFetches(ctx)
	if fetches.IsClientClosed() {
		return nil, kgo.ErrClientClosed
	}

	var errs []error

	fetches.EachError(func(_ string, _ int32, err error) { errs = append(errs, err) })

	if err := errors.Join(errs...); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, err
	}

	var out []Record

	fetches.EachRecord(func(rec *kgo.Record) {
		out = append(out, Record{Topic: rec.Topic, Value: rec.Value})
	})

	return out, nil
}

func (r kgoReader) Close() { r.cl.Close() }

// NewWithKgo builds a franz-go client based Adapter. The returned cleanup closes the producer;
// each subscription owns its own consumer client.
func NewWithKgo(cfg Config) (*Adapter, func(), error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil, fmt.Errorf("%w: kafka brokers required", berr.ErrConfiguration)
	}

	opts := cfg.baseOpts()
	if cfg.Idempotent {
		if cfg.Compression != (kgo.CompressionCodec{}) {
			opts = append(opts, kgo.ProducerBatchCompression(cfg.Compression))
		}
	} else {
		opts = append(opts, kgo.DisableIdempotentWrite())
	}

	if cfg.Acks != (kgo.Acks{}) {
		opts = append(opts, kgo.RequiredAcks(cfg.Acks))
	}

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: kafka client init: %w", berr.ErrConfiguration, err)
	}

	readers := func(topics []string) (Reader, error) {
		ropts := append(cfg.baseOpts(),
			kgo.ConsumeTopics(topics...),
			kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		)

		rc, err := kgo.NewClient(ropts...)
		if err != nil {
			return nil, err
		}

		return kgoReader{cl: rc}, nil
	}

	ad := New(kgoWriter{cl: cl}, readers)
	cleanup := func() { cl.Close() }
	ad.cleanup = cleanup

	return ad, cleanup, nil
}
