// Package metrics exposes Prometheus instrumentation for the engine and
// the trading pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EngineTicks counts completed engine ticks.
var EngineTicks = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "arb",
	Subsystem: "engine",
	Name:      "ticks_total",
	Help:      "Total number of completed opportunity engine ticks",
})

// EngineTickErrors counts ticks that failed and triggered the backoff.
var EngineTickErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "arb",
	Subsystem: "engine",
	Name:      "tick_errors_total",
	Help:      "Total number of failed opportunity engine ticks",
})

// OpportunitiesDetected counts detected opportunities by type.
var OpportunitiesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "arb",
	Subsystem: "engine",
	Name:      "opportunities_detected_total",
	Help:      "Total number of detected opportunities by type",
}, []string{"type"})

// OpportunitiesFiltered counts opportunities vetoed by deposit status.
var OpportunitiesFiltered = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "arb",
	Subsystem: "engine",
	Name:      "opportunities_filtered_total",
	Help:      "Opportunities filtered out due to deposit/withdrawal restrictions",
})

// ConnectorFailures counts per-venue fetch failures.
var ConnectorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "arb",
	Subsystem: "engine",
	Name:      "connector_failures_total",
	Help:      "Total number of connector fetch failures by venue",
}, []string{"venue"})

// OrdersSubmitted counts submitted orders by venue and outcome.
var OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "arb",
	Subsystem: "executor",
	Name:      "orders_submitted_total",
	Help:      "Total number of order submissions by venue and status",
}, []string{"venue", "status"})

// Executions counts executor invocations by outcome.
var Executions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "arb",
	Subsystem: "executor",
	Name:      "executions_total",
	Help:      "Total number of opportunity executions by status",
}, []string{"status"})

// FillCycles counts fill monitor reconciliation cycles.
var FillCycles = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "arb",
	Subsystem: "monitor",
	Name:      "fill_cycles_total",
	Help:      "Total number of fill monitor reconciliation cycles",
})

// FillsRecorded counts fills inserted by the fill monitor.
var FillsRecorded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "arb",
	Subsystem: "monitor",
	Name:      "fills_recorded_total",
	Help:      "Total number of venue fills recorded",
})

// AutoTradeExecutions counts executor invocations triggered by auto traders.
var AutoTradeExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "arb",
	Subsystem: "autotrade",
	Name:      "executions_total",
	Help:      "Total number of auto-trader triggered executions by status",
}, []string{"status"})

// ActiveTraders tracks the number of running auto traders.
var ActiveTraders = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "arb",
	Subsystem: "autotrade",
	Name:      "active_traders",
	Help:      "Number of currently running auto traders",
})

// PositionsOpen tracks the number of open positions.
var PositionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "arb",
	Subsystem: "monitor",
	Name:      "positions_open",
	Help:      "Number of currently open positions",
})

// PositionsClosed counts positions finalized by status.
var PositionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "arb",
	Subsystem: "monitor",
	Name:      "positions_closed_total",
	Help:      "Total number of finalized positions by terminal status",
}, []string{"status"})
