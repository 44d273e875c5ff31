package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsync_mutations_total",
		Help: "Mutating operations by kind and outcome.",
	}, []string{"op", "outcome"})

	ConfirmationTierUsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsync_confirmation_tier_total",
		Help: "Which confirmation strategy tier produced the result.",
	}, []string{"tier"})

	GasEstimateFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketsync_gas_estimate_fallback_total",
		Help: "Gas estimations that fell back to the per-operation floor.",
	})

	UndecodableLogs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketsync_undecodable_logs_total",
		Help: "Receipt logs from known contracts that failed to decode.",
	})

	ReconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsync_reconciliations_total",
		Help: "Reconciliation attempts by result.",
	}, []string{"result"})
)
