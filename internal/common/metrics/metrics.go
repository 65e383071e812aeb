// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IntentsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_intents_completed_total",
			Help: "Total number of intents reaching a terminal status",
		},
		[]string{"kind", "status"},
	)

	IntentsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_intents_failed_total",
			Help: "Total number of intents failed by stage, error code and category",
		},
		[]string{"stage", "error_code", "category"},
	)

	PolicyViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_policy_violations_total",
			Help: "Total number of blocked path transitions",
		},
		[]string{"from_path", "to_path"},
	)

	ChainSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_chain_submissions_total",
			Help: "Total number of chain submissions by chain and execution type",
		},
		[]string{"chain", "execution_type"},
	)

	IntentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "pipeline_intent_duration_seconds",
			Help: "Duration of intent processing in seconds",
		},
		[]string{"kind"},
	)
)
