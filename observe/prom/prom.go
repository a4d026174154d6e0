// Package prom provides scope.Observer implementations: a dependency-free
// in-memory Metrics for callers that don't want a metrics backend, and a
// PromObserver that registers real prometheus/client_golang collectors for
// production use.
package prom

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fibersched/fibersched/scope"
)

// Metrics is a lightweight in-memory observer that maintains counters and
// simple sums, implementing scope.Observer without external dependencies.
type Metrics struct {
	// tasks
	activeTasks   atomic.Int64
	tasksStarted  atomic.Int64
	tasksFinished atomic.Int64
	tasksErrored  atomic.Int64
	tasksPanicked atomic.Int64
	taskDurSumNs  atomic.Int64

	// scopes
	scopesCreated   atomic.Int64
	scopesCancelled atomic.Int64
	joins           atomic.Int64
	joinWaitSumNs   atomic.Int64
}

// New returns a new Metrics observer.
func New() *Metrics { return &Metrics{} }

// ScopeCreated records scope creation.
func (m *Metrics) ScopeCreated(*scope.Scope) {
	m.scopesCreated.Add(1)
}

// ScopeCancelled records scope cancellation.
func (m *Metrics) ScopeCancelled(*scope.Scope, error) {
	m.scopesCancelled.Add(1)
}

// ScopeJoined records a join and accumulates wait time.
func (m *Metrics) ScopeJoined(_ *scope.Scope, wait time.Duration) {
	m.joins.Add(1)
	m.joinWaitSumNs.Add(wait.Nanoseconds())
}

// TaskStarted increments active and started counters.
func (m *Metrics) TaskStarted(*scope.Scope) {
	m.activeTasks.Add(1)
	m.tasksStarted.Add(1)
}

// TaskFinished decrements active, increments finished, and tracks
// error/panic and duration.
func (m *Metrics) TaskFinished(_ *scope.Scope, dur time.Duration, err error, panicked bool) {
	m.activeTasks.Add(-1)
	m.tasksFinished.Add(1)
	if err != nil {
		m.tasksErrored.Add(1)
	}
	if panicked {
		m.tasksPanicked.Add(1)
	}
	m.taskDurSumNs.Add(dur.Nanoseconds())
}

// Snapshot exposes a copy of current metric values for exporting/inspection.
type Snapshot struct {
	ActiveTasks     int64
	TasksStarted    int64
	TasksFinished   int64
	TasksErrored    int64
	TasksPanicked   int64
	TaskDurSumNs    int64
	ScopesCreated   int64
	ScopesCancelled int64
	Joins           int64
	JoinWaitSumNs   int64
}

// GetSnapshot returns the current metrics snapshot.
func (m *Metrics) GetSnapshot() Snapshot {
	return Snapshot{
		ActiveTasks:     m.activeTasks.Load(),
		TasksStarted:    m.tasksStarted.Load(),
		TasksFinished:   m.tasksFinished.Load(),
		TasksErrored:    m.tasksErrored.Load(),
		TasksPanicked:   m.tasksPanicked.Load(),
		TaskDurSumNs:    m.taskDurSumNs.Load(),
		ScopesCreated:   m.scopesCreated.Load(),
		ScopesCancelled: m.scopesCancelled.Load(),
		Joins:           m.joins.Load(),
		JoinWaitSumNs:   m.joinWaitSumNs.Load(),
	}
}

// PromObserver is a scope.Observer backed by real prometheus collectors.
// Register it with a prometheus.Registerer (or leave reg nil to use the
// default one) and pass it to scope.WithObserver.
type PromObserver struct {
	scopesCreated   prometheus.Counter
	scopesCancelled *prometheus.CounterVec
	joinsTotal      prometheus.Counter
	joinWaitSeconds prometheus.Histogram
	tasksStarted    prometheus.Counter
	tasksFinished   *prometheus.CounterVec
	taskDuration    prometheus.Histogram
	activeTasks     prometheus.Gauge
}

// NewPromObserver constructs a PromObserver and registers its collectors
// with reg (prometheus.DefaultRegisterer if reg is nil). namespace/subsystem
// follow the usual client_golang convention for metric name prefixing.
func NewPromObserver(reg prometheus.Registerer, namespace, subsystem string) *PromObserver {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &PromObserver{
		scopesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "scopes_created_total",
			Help: "Total scopes created.",
		}),
		scopesCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "scopes_cancelled_total",
			Help: "Total scopes cancelled, labeled by cause.",
		}, []string{"cause"}),
		joinsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "joins_total",
			Help: "Total scope joins completed.",
		}),
		joinWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "join_wait_seconds",
			Help: "Time spent blocked in a scope join.", Buckets: prometheus.DefBuckets,
		}),
		tasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "tasks_started_total",
			Help: "Total tasks started.",
		}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "tasks_finished_total",
			Help: "Total tasks finished, labeled by outcome.",
		}, []string{"outcome"}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "task_duration_seconds",
			Help: "Task body duration.", Buckets: prometheus.DefBuckets,
		}),
		activeTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "active_tasks",
			Help: "Tasks currently running.",
		}),
	}
	reg.MustRegister(
		p.scopesCreated, p.scopesCancelled, p.joinsTotal, p.joinWaitSeconds,
		p.tasksStarted, p.tasksFinished, p.taskDuration, p.activeTasks,
	)
	return p
}

// ScopeCreated increments the scopes-created counter.
func (p *PromObserver) ScopeCreated(*scope.Scope) { p.scopesCreated.Inc() }

// ScopeCancelled increments the scopes-cancelled counter, labeled by cause.
func (p *PromObserver) ScopeCancelled(_ *scope.Scope, cause error) {
	label := "unknown"
	if cause != nil {
		label = cause.Error()
	}
	p.scopesCancelled.WithLabelValues(label).Inc()
}

// ScopeJoined increments the joins counter and observes wait time.
func (p *PromObserver) ScopeJoined(_ *scope.Scope, wait time.Duration) {
	p.joinsTotal.Inc()
	p.joinWaitSeconds.Observe(wait.Seconds())
}

// TaskStarted increments the active-tasks gauge and started counter.
func (p *PromObserver) TaskStarted(*scope.Scope) {
	p.activeTasks.Inc()
	p.tasksStarted.Inc()
}

// TaskFinished decrements the active-tasks gauge, records the outcome and
// observes task duration.
func (p *PromObserver) TaskFinished(_ *scope.Scope, dur time.Duration, err error, panicked bool) {
	p.activeTasks.Dec()
	outcome := "ok"
	switch {
	case panicked:
		outcome = "panic"
	case err != nil:
		outcome = "error"
	}
	p.tasksFinished.WithLabelValues(outcome).Inc()
	p.taskDuration.Observe(dur.Seconds())
}
