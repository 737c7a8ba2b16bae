package servicebus

import (
	"errors"
	"time"

	cbus "github.com/next-trace/scg-allocation/contract/bus"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

// Metrics exposes handler outcomes and latencies to Prometheus.
type Metrics struct {
	handled  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the bus collectors and registers them with reg.
// Collectors already registered by an earlier call are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	handled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "allocation",
		Subsystem: "bus",
		Name:      "handled_total",
		Help:      "Handler invocations by message kind, message, handler and outcome.",
	}, []string{"kind", "message", "handler", "outcome"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "allocation",
		Subsystem: "bus",
		Name:      "handler_seconds",
		Help:      "Handler latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind", "message"})

	var err error
	if handled, err = register(reg, handled); err != nil {
		return nil, err
	}

	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}

	return &Metrics{handled: handled, duration: duration}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}

		return c, err
	}

	return c, nil
}

func (m *Metrics) observe(kind cbus.Kind, message, handler string, err error, d time.Duration) {
	if m == nil {
		return
	}

	outcome := outcomeOK
	if err != nil {
		outcome = outcomeError
	}

	m.handled.WithLabelValues(kind.String(), message, handler, outcome).Inc()
	m.duration.WithLabelValues(kind.String(), message).Observe(d.Seconds())
}
