// Package metrics exposes Prometheus counters for the stats engine.
//
// A nil *Manager is valid and records nothing, so components can be built
// without metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Goal kinds.
const (
	GoalRegular      = "regular"
	GoalOwn          = "own_goal"
	GoalUnattributed = "unattributed"
)

type Manager struct {
	namespace         string
	backupSizeBuckets []float64
	registry          *prometheus.Registry

	goals            *prometheus.CounterVec
	assists          prometheus.Counter
	touches          prometheus.Counter
	matchesCommitted prometheus.Counter
	matchesAborted   *prometheus.CounterVec
	matchRunning     prometheus.Gauge
	backups          *prometheus.CounterVec
	backupSize       prometheus.Histogram
	chatCommands     *prometheus.CounterVec
	feedErrors       prometheus.Counter
}

// NewManager creates a Manager with its own registry, which also carries the
// Go runtime and process collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:         "haxstats",
		backupSizeBuckets: prometheus.ExponentialBuckets(16*1024, 4, 8),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m.init()
	return m
}

func (m *Manager) init() {
	auto := promauto.With(m.registry)

	m.goals = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "goals_total",
		Help:      "Goals seen, by attribution kind.",
	}, []string{"kind"})
	m.assists = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "assists_total",
		Help:      "Assists credited to a tracked participant.",
	})
	m.touches = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "touches_recorded_total",
		Help:      "Ball touches added to the touch history.",
	})
	m.matchesCommitted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "matches_committed_total",
		Help:      "Matches written to the store.",
	})
	m.matchesAborted = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "matches_aborted_total",
		Help:      "Matches discarded without a commit, by reason.",
	}, []string{"reason"})
	m.matchRunning = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "match_running",
		Help:      "1 while a match is being tracked.",
	})
	m.backups = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "backups_total",
		Help:      "Database backups taken, by reason.",
	}, []string{"reason"})
	m.backupSize = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "backup_size_bytes",
		Help:      "Size of database backups.",
		Buckets:   m.backupSizeBuckets,
	})
	m.chatCommands = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "chat_commands_total",
		Help:      "Chat commands answered, by command.",
	}, []string{"command"})
	m.feedErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "feed_errors_total",
		Help:      "Event feed lines that could not be decoded or dispatched.",
	})
}

// Registry returns the registry the metrics are registered on.
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Manager) GoalAttributed(kind string) {
	if m == nil {
		return
	}
	m.goals.WithLabelValues(kind).Inc()
}

func (m *Manager) AssistCredited() {
	if m == nil {
		return
	}
	m.assists.Inc()
}

func (m *Manager) TouchRecorded() {
	if m == nil {
		return
	}
	m.touches.Inc()
}

func (m *Manager) MatchStarted() {
	if m == nil {
		return
	}
	m.matchRunning.Set(1)
}

func (m *Manager) MatchCommitted() {
	if m == nil {
		return
	}
	m.matchesCommitted.Inc()
	m.matchRunning.Set(0)
}

func (m *Manager) MatchAborted(reason string) {
	if m == nil {
		return
	}
	m.matchesAborted.WithLabelValues(reason).Inc()
	m.matchRunning.Set(0)
}

func (m *Manager) BackupCreated(reason string, size int64) {
	if m == nil {
		return
	}
	m.backups.WithLabelValues(reason).Inc()
	m.backupSize.Observe(float64(size))
}

func (m *Manager) ChatCommand(name string) {
	if m == nil {
		return
	}
	m.chatCommands.WithLabelValues(name).Inc()
}

func (m *Manager) FeedError() {
	if m == nil {
		return
	}
	m.feedErrors.Inc()
}
