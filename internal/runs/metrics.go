package runs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// runsTriggered tracks runs accepted by the trigger pipeline.
	runsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runflow_runs_triggered_total",
			Help: "Total runs created by the trigger pipeline, by environment type",
		},
		[]string{"environment_type"},
	)

	// runsDeduplicated tracks idempotency-gate hits.
	runsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "runflow_runs_deduplicated_total",
			Help: "Total trigger requests short-circuited by the idempotency gate",
		},
	)

	// runsOutOfEntitlement tracks triggers rejected for missing credit.
	runsOutOfEntitlement = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "runflow_runs_out_of_entitlement_total",
			Help: "Total trigger requests rejected by the entitlement check",
		},
	)

	// payloadsOffloaded tracks payload bodies spilled to object storage.
	payloadsOffloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "runflow_payloads_offloaded_total",
			Help: "Total trigger payloads offloaded to object storage",
		},
	)
)
