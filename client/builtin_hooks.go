package client

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// ============================================================================
// LoggingHook - Logs call execution details
// ============================================================================

// LoggingHook logs RPC call execution with configurable detail levels.
type LoggingHook struct {
	logger       Logger
	logCalls     bool // Log service/method before execution
	logResults   bool // Log results
	logDurations bool // Log execution times
}

// NewLoggingHook creates a new logging hook with the given logger.
func NewLoggingHook(logger Logger, logCalls, logResults, logDurations bool) *LoggingHook {
	return &LoggingHook{
		logger:       logger,
		logCalls:     logCalls,
		logResults:   logResults,
		logDurations: logDurations,
	}
}

func (h *LoggingHook) Name() string {
	return "logging"
}

func (h *LoggingHook) Before(ctx context.Context, hookCtx *HookContext) error {
	if h.logCalls {
		h.logger.Debug("executing call",
			String("service", hookCtx.Service),
			String("method", hookCtx.Method),
			String("type", hookCtx.CommandType),
			String("trace_id", hookCtx.TraceID))
	}
	return nil
}

func (h *LoggingHook) After(ctx context.Context, hookCtx *HookContext) error {
	fields := []Field{
		String("method", hookCtx.Method),
		String("command_type", hookCtx.CommandType),
		String("trace_id", hookCtx.TraceID),
	}

	if h.logDurations {
		fields = append(fields, Duration("duration", hookCtx.Duration))
	}

	if hookCtx.Error != nil {
		fields = append(fields, Error("error", hookCtx.Error))
		h.logger.Error("call failed", fields...)
	} else {
		if h.logResults && hookCtx.Result != nil {
			fields = append(fields, String("result", fmt.Sprintf("%v", hookCtx.Result)))
		}
		h.logger.Debug("call completed", fields...)
	}

	return nil
}

// ============================================================================
// MetricsHook - Collects performance metrics as Prometheus counters/histograms
// ============================================================================

// MetricsHook collects call execution metrics both as in-process atomic
// counters (for GetStats()) and as Prometheus collectors (for scraping).
type MetricsHook struct {
	TotalCalls      atomic.Uint64
	TotalQueries    atomic.Uint64
	TotalMutations  atomic.Uint64
	TotalErrors     atomic.Uint64
	TotalDurationNs atomic.Uint64

	callsTotal    *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
}

// NewMetricsHook creates a new metrics collection hook and registers its
// Prometheus collectors with reg. Pass prometheus.NewRegistry() in tests to
// avoid colliding with the default global registry.
func NewMetricsHook(reg prometheus.Registerer) *MetricsHook {
	h := &MetricsHook{
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zenoo",
			Name:      "rpc_calls_total",
			Help:      "Total RPC calls by method and command type.",
		}, []string{"method", "type"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zenoo",
			Name:      "rpc_errors_total",
			Help:      "Total RPC call errors by method.",
		}, []string{"method"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zenoo",
			Name:      "rpc_call_duration_seconds",
			Help:      "RPC call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	if reg != nil {
		reg.MustRegister(h.callsTotal, h.errorsTotal, h.callDuration)
	}

	return h
}

func (h *MetricsHook) Name() string {
	return "metrics"
}

func (h *MetricsHook) Before(ctx context.Context, hookCtx *HookContext) error {
	return nil
}

func (h *MetricsHook) After(ctx context.Context, hookCtx *HookContext) error {
	h.TotalCalls.Add(1)
	h.TotalDurationNs.Add(uint64(hookCtx.Duration.Nanoseconds()))
	h.callsTotal.WithLabelValues(hookCtx.Method, hookCtx.CommandType).Inc()
	h.callDuration.WithLabelValues(hookCtx.Method).Observe(hookCtx.Duration.Seconds())

	switch hookCtx.CommandType {
	case "query":
		h.TotalQueries.Add(1)
	case "mutation":
		h.TotalMutations.Add(1)
	}

	if hookCtx.Error != nil {
		h.TotalErrors.Add(1)
		h.errorsTotal.WithLabelValues(hookCtx.Method).Inc()
	}

	return nil
}

// GetStats returns current metrics as a map.
func (h *MetricsHook) GetStats() map[string]interface{} {
	totalCalls := h.TotalCalls.Load()
	totalDur := h.TotalDurationNs.Load()

	avgDuration := int64(0)
	if totalCalls > 0 {
		avgDuration = int64(totalDur / totalCalls)
	}

	return map[string]interface{}{
		"total_calls":       totalCalls,
		"total_queries":     h.TotalQueries.Load(),
		"total_mutations":   h.TotalMutations.Load(),
		"total_errors":      h.TotalErrors.Load(),
		"total_duration_ns": totalDur,
		"avg_duration_ns":   avgDuration,
		"avg_duration_ms":   float64(avgDuration) / 1_000_000,
		"total_duration_ms": float64(totalDur) / 1_000_000,
	}
}

// Reset clears the in-process counters. Prometheus collectors are left
// untouched since they are meant to be monotonic across scrapes.
func (h *MetricsHook) Reset() {
	h.TotalCalls.Store(0)
	h.TotalQueries.Store(0)
	h.TotalMutations.Store(0)
	h.TotalErrors.Store(0)
	h.TotalDurationNs.Store(0)
}
