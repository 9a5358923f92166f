package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	traceIDKey contextKey = "trace_id"
)

// GenerateTraceID returns a random hex trace ID for a work item.
func GenerateTraceID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// FromContext retrieves the logger carried on ctx, falling back to Default.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext attaches l to ctx.
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// WithTraceContext stamps ctx with a fresh trace ID and work kind, returning
// a logger carrying both. Orchestrator.execute calls it once per dequeued
// work item and logs its own panic and failure lines through that logger;
// the handlers log through the orchestrator's component logger, so their
// lines carry neither field.
func WithTraceContext(ctx context.Context, workKind string) (context.Context, *Logger) {
	traceID := GenerateTraceID()
	l := Default().WithTraceID(traceID).WithWorkKind(workKind)
	newCtx := context.WithValue(ctx, traceIDKey, traceID)
	newCtx = context.WithValue(newCtx, loggerKey, l)
	return newCtx, l
}

// OrchestratorContext creates a logger scoped to a single work item.
func OrchestratorContext(kind, chatID string) *Logger {
	return Default().WithWorkKind(kind).WithField("chat_id", chatID).WithComponent("orchestrator")
}

// AlertContext creates a logger scoped to a single price alert evaluation.
func AlertContext(alertID int64, symbol string, targetPrice float64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"alert_id":     alertID,
		"symbol":       symbol,
		"target_price": targetPrice,
	}).WithComponent("alert")
}

// SignalContext creates a logger scoped to a signal-change check.
func SignalContext(chatID, symbol, signal string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"chat_id": chatID,
		"symbol":  symbol,
		"signal":  signal,
	}).WithComponent("signal")
}

// ScreeningContext creates a logger scoped to a screening run.
func ScreeningContext(timeframe string, minScore float64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"timeframe": timeframe,
		"min_score": minScore,
	}).WithComponent("screening")
}

// PlanContext creates a logger scoped to a plan-provider invocation.
func PlanContext(symbol, timeframe string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol":    symbol,
		"timeframe": timeframe,
	}).WithComponent("plan")
}

// ExchangeContext creates a logger scoped to an outbound exchange call.
func ExchangeContext(exchange, endpoint string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"exchange": exchange,
		"endpoint": endpoint,
	}).WithComponent("exchange")
}

// DatabaseContext creates a logger scoped to a repository operation.
func DatabaseContext(operation, table string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"operation": operation,
		"table":     table,
	}).WithComponent("database")
}

// NotificationContext creates a logger scoped to an outbound notification.
func NotificationContext(provider string, chatID string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"provider": provider,
		"chat_id":  chatID,
	}).WithComponent("notification")
}
