// Package metrics provides Prometheus metrics collection for purge invocations.
package metrics

import (
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Purge outcomes recorded by RecordPurge.
const (
	OutcomeSuccess        = "success"
	OutcomePartial        = "partial"
	OutcomeAPIError       = "api_error"
	OutcomeTransportError = "transport_error"
	OutcomeConfigError    = "config_error"
)

// Rate gate decisions recorded by RecordRateDecision.
const (
	DecisionAllowed  = "allowed"
	DecisionDeferred = "deferred"
	DecisionSkipped  = "skipped"
)

var (
	// Using atomic.Pointer so record functions are no-ops until Init has run.
	purgesTotal        atomic.Pointer[prometheus.CounterVec]
	purgeDuration      atomic.Pointer[prometheus.HistogramVec]
	rateDecisionsTotal atomic.Pointer[prometheus.CounterVec]
)

// Init initializes all Prometheus metrics and registers them with the provided registry.
// This should be called once at startup.
func Init(reg prometheus.Registerer, version string) error {
	// Purge counter: one increment per CreatePurgeTask attempt, by site and outcome
	purgesTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgeone",
			Subsystem: "purge",
			Name:      "requests_total",
			Help:      "Total number of purge requests by outcome",
		},
		[]string{"site", "outcome"},
	)
	if err := reg.Register(purgesTotalVec); err != nil {
		return fmt.Errorf("failed to register purgesTotal: %w", err)
	}

	// Purge duration histogram: wall time of the signed API call
	purgeDurationVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edgeone",
			Subsystem: "purge",
			Name:      "request_duration_seconds",
			Help:      "Purge API request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"site"},
	)
	if err := reg.Register(purgeDurationVec); err != nil {
		return fmt.Errorf("failed to register purgeDuration: %w", err)
	}

	rateDecisionsTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgeone",
			Subsystem: "purge",
			Name:      "rate_gate_decisions_total",
			Help:      "Total number of rate gate decisions",
		},
		[]string{"decision"},
	)
	if err := reg.Register(rateDecisionsTotalVec); err != nil {
		return fmt.Errorf("failed to register rateDecisionsTotal: %w", err)
	}

	// Info gauge: static metric with constant label values for build info
	infoGaugeVec := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "edgeone",
			Subsystem: "purge",
			Name:      "info",
			Help:      "Purge tool version information",
		},
		[]string{"version"},
	)
	infoGaugeInstance := infoGaugeVec.WithLabelValues(version)
	if err := reg.Register(infoGaugeVec); err != nil {
		return fmt.Errorf("failed to register infoGauge: %w", err)
	}
	infoGaugeInstance.Set(1)

	purgesTotal.Store(purgesTotalVec)
	purgeDuration.Store(purgeDurationVec)
	rateDecisionsTotal.Store(rateDecisionsTotalVec)

	return nil
}

// RecordPurge increments the purge counter for site and outcome.
func RecordPurge(site, outcome string) {
	if counter := purgesTotal.Load(); counter != nil {
		counter.WithLabelValues(site, outcome).Inc()
	}
}

// RecordPurgeDuration records the latency of a purge request in seconds.
func RecordPurgeDuration(site string, durationSeconds float64) {
	if histogram := purgeDuration.Load(); histogram != nil {
		histogram.WithLabelValues(site).Observe(durationSeconds)
	}
}

// RecordRateDecision increments the rate gate counter.
// Decisions: "allowed", "deferred", "skipped" (interval disabled).
func RecordRateDecision(decision string) {
	if counter := rateDecisionsTotal.Load(); counter != nil {
		counter.WithLabelValues(decision).Inc()
	}
}

// WriteTextfile writes everything in g to path in the text exposition format,
// for collection by the node exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}
