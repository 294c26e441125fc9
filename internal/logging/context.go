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

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// WithTraceContext adds a trace ID to the context and returns a logger with it
func WithTraceContext(ctx context.Context) (context.Context, *Logger) {
	traceID := GenerateTraceID()
	l := FromContext(ctx).WithTraceID(traceID)
	newCtx := context.WithValue(ctx, traceIDKey, traceID)
	newCtx = context.WithValue(newCtx, loggerKey, l)
	return newCtx, l
}

// TraceIDFromContext returns the trace ID stored by WithTraceContext, if any
func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

// ExchangeContext creates a logger context for exchange API calls.
// The signature and key material are never included.
func ExchangeContext(endpoint string, params map[string]string) *Logger {
	l := Default().WithComponent("exchange").WithField("endpoint", endpoint)
	for k, v := range params {
		if k != "signature" && k != "apiKey" {
			l = l.WithField(k, v)
		}
	}
	return l
}

// SessionContext creates a logger context for an acquisition session
func SessionContext(sessionID, phase string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"session_id": sessionID,
		"phase":      phase,
	}).WithComponent("acquisition")
}

// OrderContext creates a logger context for order operations
func OrderContext(symbol, side, orderType string, quantity float64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol":     symbol,
		"side":       side,
		"order_type": orderType,
		"quantity":   quantity,
	}).WithComponent("order")
}

// RiskContext creates a logger context for risk management
func RiskContext(symbol string, riskPercent, positionSize float64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol":        symbol,
		"risk_percent":  riskPercent,
		"position_size": positionSize,
	}).WithComponent("risk")
}

// AnalysisContext creates a logger context for analysis dispatch
func AnalysisContext(sessionID string, images, series int) *Logger {
	return Default().WithFields(map[string]interface{}{
		"session_id": sessionID,
		"images":     images,
		"series":     series,
	}).WithComponent("analysis")
}
