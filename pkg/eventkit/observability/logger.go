// Package observability provides structured logging, metrics, and tracing
// for eventkit.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// ComponentLogger returns a logger scoped to an eventkit component.
//
// Example:
//
//	cacheLog := ComponentLogger(logger, "cache")
//	cacheLog.Debug("entry evicted") // includes component=cache
func ComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(slog.String("component", component))
}

// LogPublish logs a published event.
func LogPublish(logger *slog.Logger, eventType, eventID string, subscribers int) {
	if logger == nil {
		return
	}
	logger.Debug("event published",
		slog.String("event_type", eventType),
		slog.String("event_id", eventID),
		slog.Int("subscribers", subscribers),
	)
}

// LogPublishError logs a failed publish.
func LogPublishError(logger *slog.Logger, eventType, eventID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("publish failed",
		slog.String("event_type", eventType),
		slog.String("event_id", eventID),
		slog.String("error", err.Error()),
	)
}

// LogBestEffort logs a swallowed error from a best-effort operation (non-fatal).
func LogBestEffort(logger *slog.Logger, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("best-effort operation failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// LogHandlerPanic logs a recovered subscriber panic.
// Handler failures are isolated at the dispatch boundary.
func LogHandlerPanic(logger *slog.Logger, eventType, subscriptionID string, recovered any) {
	if logger == nil {
		return
	}
	logger.Error("subscriber handler panicked",
		slog.String("event_type", eventType),
		slog.String("subscription_id", subscriptionID),
		slog.Any("panic", recovered),
	)
}

// LogSuspensionStart logs the arming of a suspension.
func LogSuspensionStart(logger *slog.Logger, correlationID, responseType string, timeout time.Duration) {
	if logger == nil {
		return
	}
	logger.Debug("suspension armed",
		slog.String("correlation_id", correlationID),
		slog.String("response_type", responseType),
		slog.Duration("timeout", timeout),
	)
}

// LogSuspensionResolved logs a resolved suspension.
func LogSuspensionResolved(logger *slog.Logger, correlationID string, waitTime time.Duration) {
	if logger == nil {
		return
	}
	logger.Debug("suspension resolved",
		slog.String("correlation_id", correlationID),
		slog.Duration("wait_time", waitTime),
	)
}

// LogSuspensionTimeout logs a timed-out suspension.
func LogSuspensionTimeout(logger *slog.Logger, correlationID string, timeout time.Duration) {
	if logger == nil {
		return
	}
	logger.Warn("suspension timed out",
		slog.String("correlation_id", correlationID),
		slog.Duration("timeout", timeout),
	)
}

// LogSuspensionCancelled logs a cancelled suspension.
func LogSuspensionCancelled(logger *slog.Logger, correlationID string) {
	if logger == nil {
		return
	}
	logger.Debug("suspension cancelled",
		slog.String("correlation_id", correlationID),
	)
}
