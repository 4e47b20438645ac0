package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var logger = zap.NewNop()

// Init replaces the package logger with a production logger tagged with
// the service name. The returned function flushes buffered entries.
func Init(serviceName string) func() {
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	logger = l.With(zap.String("service", serviceName))
	return func() { _ = logger.Sync() }
}

// traceFields pulls the active span identifiers out of the context so
// log lines can be correlated with traces.
func traceFields(ctx context.Context) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	logger.Info(msg, append(fields, traceFields(ctx)...)...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	logger.Warn(msg, append(fields, traceFields(ctx)...)...)
}

func Error(ctx context.Context, msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	logger.Error(msg, append(fields, traceFields(ctx)...)...)
}

func Fatal(ctx context.Context, msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	logger.Fatal(msg, append(fields, traceFields(ctx)...)...)
}
