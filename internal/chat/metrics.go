package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// turnsTotal counts finished turns by outcome
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "localchat_turns_total",
		Help: "Chat turns by outcome",
	}, []string{"outcome"})

	turnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "localchat_turn_duration_seconds",
		Help:    "Time from send to the end of generation",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	searchResults = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "localchat_search_results",
		Help:    "Web search results used per augmented turn",
		Buckets: []float64{0, 1, 2, 3},
	})

	promptTruncations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "localchat_prompt_truncations_total",
		Help: "Prompts shortened to fit the context window",
	})
)

const (
	outcomeCompleted       = "completed"
	outcomeStopped         = "stopped"
	outcomeModelLoadFailed = "model_load_failed"
	outcomeGenerationFail  = "generation_failed"
)
