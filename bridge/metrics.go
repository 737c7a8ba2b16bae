package bridge

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Delivery outcomes recorded by the listener.
const (
	OutcomeDispatched = "dispatched"
	OutcomeMalformed  = "malformed"
	OutcomeUnrouted   = "unrouted"
	OutcomeFailed     = "failed"
)

// Metrics counts inbound deliveries per channel and outcome.
type Metrics struct {
	deliveries *prometheus.CounterVec
}

// NewMetrics registers the listener collectors on reg. Collectors already registered are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "allocation_bridge_deliveries_total",
		Help: "Inbound channel messages by channel and outcome.",
	}, []string{"channel", "outcome"})

	if err := reg.Register(deliveries); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}

		existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}

		deliveries = existing
	}

	return &Metrics{deliveries: deliveries}, nil
}

func (m *Metrics) observe(channel, outcome string) {
	if m == nil {
		return
	}

	m.deliveries.WithLabelValues(channel, outcome).Inc()
}
