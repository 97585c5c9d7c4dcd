// Package metrics exposes per-node prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Admission paths
const (
	PathLocal      = "local"
	PathReplicated = "replicated"
	PathReconciled = "reconciled"
)

// Metrics owns a private registry so several nodes can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	admitted             *prometheus.CounterVec
	duplicates           *prometheus.CounterVec
	replicationAttempts  *prometheus.CounterVec
	replicationAbandoned prometheus.Counter
	reconcileRuns        prometheus.Counter
	peerFetchErrors      prometheus.Counter
	rejectedReplicas     prometheus.Counter
	logins               *prometheus.CounterVec
}

// New builds the collectors for nodeID and registers them.
func New(nodeID string) *Metrics {
	labels := prometheus.Labels{"node": nodeID}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		admitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "mural_messages_admitted_total",
			Help:        "Messages newly admitted into the local store, by admission path.",
			ConstLabels: labels,
		}, []string{"path"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "mural_messages_duplicate_total",
			Help:        "Deliveries dropped because the id was already stored, by admission path.",
			ConstLabels: labels,
		}, []string{"path"}),
		replicationAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "mural_replication_attempts_total",
			Help:        "Outbound replication attempts by result.",
			ConstLabels: labels,
		}, []string{"result"}),
		replicationAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mural_replication_abandoned_total",
			Help:        "Peer deliveries given up after the retry budget.",
			ConstLabels: labels,
		}),
		reconcileRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mural_reconcile_runs_total",
			Help:        "Completed reconciliation passes.",
			ConstLabels: labels,
		}),
		peerFetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mural_reconcile_fetch_errors_total",
			Help:        "Peer snapshot fetches that failed during reconciliation.",
			ConstLabels: labels,
		}),
		rejectedReplicas: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mural_replication_rejected_total",
			Help:        "Inbound replications refused while the node was unavailable.",
			ConstLabels: labels,
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "mural_logins_total",
			Help:        "Login attempts by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.admitted,
		m.duplicates,
		m.replicationAttempts,
		m.replicationAbandoned,
		m.reconcileRuns,
		m.peerFetchErrors,
		m.rejectedReplicas,
		m.logins,
	)
	return m
}

// Gauge registers a gauge whose value is read from fn at scrape time.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

// Admission records the outcome of one Insert on the given path.
// All recording methods are no-ops on a nil *Metrics.
func (m *Metrics) Admission(path string, added bool) {
	if m == nil {
		return
	}
	if added {
		m.admitted.WithLabelValues(path).Inc()
		return
	}
	m.duplicates.WithLabelValues(path).Inc()
}

func (m *Metrics) ReplicationAttempt(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.replicationAttempts.WithLabelValues("ok").Inc()
		return
	}
	m.replicationAttempts.WithLabelValues("error").Inc()
}

func (m *Metrics) ReplicationAbandoned() {
	if m != nil {
		m.replicationAbandoned.Inc()
	}
}

func (m *Metrics) ReconcileRun() {
	if m != nil {
		m.reconcileRuns.Inc()
	}
}

func (m *Metrics) PeerFetchError() {
	if m != nil {
		m.peerFetchErrors.Inc()
	}
}

func (m *Metrics) ReplicaRejected() {
	if m != nil {
		m.rejectedReplicas.Inc()
	}
}

func (m *Metrics) Login(outcome string) {
	if m != nil {
		m.logins.WithLabelValues(outcome).Inc()
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
