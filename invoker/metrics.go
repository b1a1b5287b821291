package invoker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ticksCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "metronome_ticks_total",
	Help: "The total number of ticks fired",
}, []string{"command"})

var failuresCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "metronome_tick_failures_total",
	Help: "The total number of executions that returned an error",
}, []string{"command"})

var skippedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "metronome_ticks_skipped_total",
	Help: "The total number of ticks skipped because the previous execution was still running",
}, []string{"command"})

var droppedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "metronome_outcomes_dropped_total",
	Help: "The total number of outcomes nobody was ready to hear",
}, []string{"command"})

var inFlightGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "metronome_in_flight",
	Help: "The number of executions currently running",
}, []string{"command"})

var executeDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "metronome_execute_duration_seconds",
	Help:    "The amount of time an execution takes",
	Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
}, []string{"command"})
