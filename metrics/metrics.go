// Package metrics provides Prometheus metrics for the MediaWiki API client.
// It tracks API calls, continuation and page reassembly, and MCP tool usage.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const (
	Namespace = "mediawiki_client"
)

var (
	// APIRequestsTotal counts API calls by action and status
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "api_requests_total",
		Help:      "Total MediaWiki API calls by action and status",
	}, []string{"action", "status"})

	// APILatency measures API call latency by action
	APILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "api_latency_seconds",
		Help:      "MediaWiki API call latency by action",
		Buckets:   prometheus.DefBuckets,
	}, []string{"action"})

	// APIErrors counts API errors by error code
	APIErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "api_errors_total",
		Help:      "MediaWiki API errors by action and error code",
	}, []string{"action", "error_code"})

	// APIRetries counts transport retries
	APIRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "api_retries_total",
		Help:      "Transport retry count by action",
	}, []string{"action"})

	// APIWarnings counts responses that carried a warnings member
	APIWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "api_warnings_total",
		Help:      "Responses with server warnings by action",
	}, []string{"action"})

	// ContinuationRounds counts responses received by continuation iterators
	ContinuationRounds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "continuation_rounds_total",
		Help:      "Responses consumed by continuation iterators by action",
	}, []string{"action"})

	// PagesYielded counts fully merged pages handed to callers
	PagesYielded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "pages_yielded_total",
		Help:      "Merged pages yielded by QueryPages",
	})

	// PagesMerged counts page fragments merged into an earlier fragment
	PagesMerged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "page_fragments_merged_total",
		Help:      "Page fragments merged into a pending page",
	})

	// ModificationConflicts counts pages dropped because their revision changed mid-query
	ModificationConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "modification_conflicts_total",
		Help:      "Pages modified between two responses of one query",
	})

	// QuerySessions counts QueryPages runs by outcome
	QuerySessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "query_sessions_total",
		Help:      "QueryPages sessions by outcome",
	}, []string{"outcome"})

	// TokenCacheHits counts token lookups served from cache
	TokenCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "token_cache_hits_total",
		Help:      "API token lookups served from cache",
	})

	// TokenCacheMisses counts token lookups that required a request
	TokenCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "token_cache_misses_total",
		Help:      "API token lookups that required a request",
	})

	// RateLimitWaits counts requests that had to wait for a concurrency slot
	RateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "rate_limit_waits_total",
		Help:      "Requests that waited for the concurrency semaphore",
	})

	// AuthFailures counts login failures by result
	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "auth_failures_total",
		Help:      "Login failures by server result",
	}, []string{"result"})

	// ToolRequestsTotal counts MCP tool calls by tool name and status
	ToolRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "tool_requests_total",
		Help:      "Total number of MCP tool calls",
	}, []string{"tool", "status"})

	// ToolDuration measures tool latency distribution
	ToolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "tool_duration_seconds",
		Help:      "MCP tool latency distribution by tool",
		Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"tool"})

	// ToolInFlight tracks currently executing tool calls
	ToolInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "tool_requests_in_flight",
		Help:      "Number of MCP tool calls currently being processed",
	}, []string{"tool"})

	// PanicsRecovered counts recovered panics
	PanicsRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "panics_recovered_total",
		Help:      "Number of panics recovered in tool handlers",
	}, []string{"tool"})
)

// RecordAPICall records one API call
func RecordAPICall(action string, duration float64, success bool, errorCode string) {
	status := "success"
	if !success {
		status = "error"
	}
	APIRequestsTotal.WithLabelValues(action, status).Inc()
	APILatency.WithLabelValues(action).Observe(duration)
	if errorCode != "" {
		APIErrors.WithLabelValues(action, errorCode).Inc()
	}
}

// RecordToolRequest records a completed tool call with its duration and status
func RecordToolRequest(tool string, duration float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	ToolRequestsTotal.WithLabelValues(tool, status).Inc()
	ToolDuration.WithLabelValues(tool).Observe(duration)
}

// RecordTokenLookup records a token cache hit or miss
func RecordTokenLookup(hit bool) {
	if hit {
		TokenCacheHits.Inc()
	} else {
		TokenCacheMisses.Inc()
	}
}
