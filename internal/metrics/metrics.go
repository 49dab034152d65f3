// Package metrics exposes the Prometheus instrumentation for the extraction
// pipeline and the settlement engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ExtractionsTotal counts finished extractions by the tier that produced
	// the amount field ("llm", "heuristic", "none").
	ExtractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gastos_extractions_total",
		Help: "Receipt extractions by amount source tier.",
	}, []string{"tier"})

	// LLMFallbacks counts structured-extractor calls that degraded to the
	// heuristic path, by cause.
	LLMFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gastos_llm_fallbacks_total",
		Help: "LLM extraction attempts that fell back to heuristics.",
	}, []string{"cause"})

	// OCRFailures counts text-recognizer invocations that returned an error.
	OCRFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gastos_ocr_failures_total",
		Help: "Text recognizer invocations that failed.",
	})

	// MatchesTotal counts settlement operations by kind ("match", "unmatch").
	MatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gastos_settlement_operations_total",
		Help: "Settlement match and unmatch operations.",
	}, []string{"kind"})
)

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
