package observability

import (
	"log/slog"
	"strconv"

	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the replication collectors.
type Metrics struct {
	Flushes         prometheus.Counter
	FlushedEvents   prometheus.Histogram
	TransportErrors *prometheus.CounterVec
	Envelopes       *prometheus.CounterVec
	Ops             *prometheus.CounterVec
	Transactions    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scenesync",
			Name:      "flushes_total",
			Help:      "Notification batches delivered to transports.",
		}),
		FlushedEvents: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scenesync",
			Name:      "flush_events",
			Help:      "Events coalesced into one flushed message.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
		}),
		TransportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scenesync",
			Name:      "transport_errors_total",
			Help:      "Failed or panicking transport sends.",
		}, []string{"transport"}),
		Envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scenesync",
			Name:      "envelopes_total",
			Help:      "Inbound patch envelopes.",
		}, []string{"duplicate"}),
		Ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scenesync",
			Name:      "patch_ops_total",
			Help:      "Inbound patch operations by type and outcome.",
		}, []string{"type", "outcome"}),
		Transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scenesync",
			Name:      "transactions_total",
			Help:      "Local transactions by result.",
		}, []string{"result"}),
	}

	for _, c := range []prometheus.Collector{m.Flushes, m.FlushedEvents, m.TransportErrors, m.Envelopes, m.Ops, m.Transactions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Hooks returns hooks that update the collectors.
func (m *Metrics) Hooks() domain.Hooks {
	return domain.Hooks{
		OnFlush: func(e *domain.FlushEvent) {
			m.Flushes.Inc()
			m.FlushedEvents.Observe(float64(e.Events))
		},
		OnTransportError: func(e *domain.TransportErrorEvent) {
			m.TransportErrors.WithLabelValues(e.Transport).Inc()
		},
		OnEnvelope: func(e *domain.EnvelopeEvent) {
			m.Envelopes.WithLabelValues(strconv.FormatBool(e.Duplicate)).Inc()
		},
		OnOp: func(e *domain.OpEvent) {
			m.Ops.WithLabelValues(string(e.OpType), string(e.Outcome)).Inc()
		},
		OnCommit: func(*domain.TransactionEvent) {
			m.Transactions.WithLabelValues("commit").Inc()
		},
		OnRollback: func(*domain.TransactionEvent) {
			m.Transactions.WithLabelValues("rollback").Inc()
		},
	}
}

// LogHooks returns hooks that write one structured line per event.
// Per-operation events are logged at debug level.
func LogHooks(logger *slog.Logger) domain.Hooks {
	return domain.Hooks{
		OnFlush: func(e *domain.FlushEvent) {
			logger.Info("flush", "mutation_id", e.MutationID, "events", e.Events, "transports", e.Transports)
		},
		OnTransportError: func(e *domain.TransportErrorEvent) {
			logger.Warn("transport_error", "transport", e.Transport, "mutation_id", e.MutationID, "err", e.Err)
		},
		OnEnvelope: func(e *domain.EnvelopeEvent) {
			logger.Info("envelope", "mutation_id", e.MutationID, "duplicate", e.Duplicate, "ops", e.Ops)
		},
		OnOp: func(e *domain.OpEvent) {
			logger.Debug("op", "type", e.OpType, "entity", e.EntityID, "outcome", e.Outcome)
		},
		OnCommit: func(e *domain.TransactionEvent) {
			logger.Info("commit", "name", e.Name, "records", e.Records)
		},
		OnRollback: func(e *domain.TransactionEvent) {
			logger.Info("rollback", "name", e.Name, "records", e.Records)
		},
	}
}
