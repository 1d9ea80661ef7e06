// Package logger builds the process-wide kratos logger.
package logger

import (
	"context"
	"io"
	"os"

	"github.com/go-kratos/kratos/v2/log"
	"go.opentelemetry.io/otel/trace"
)

// Config captures runtime metadata used to annotate logs.
type Config struct {
	Service string
	Level   string
	Output  io.Writer
}

// New builds a kratos logger with timestamp, caller and trace/span enrichment.
func New(cfg Config) log.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	base := log.With(
		log.NewStdLogger(out),
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.name", cfg.Service,
		"trace_id", log.Valuer(func(ctx context.Context) interface{} {
			sc := trace.SpanContextFromContext(ctx)
			if sc.HasTraceID() {
				return sc.TraceID().String()
			}
			return ""
		}),
		"span_id", log.Valuer(func(ctx context.Context) interface{} {
			sc := trace.SpanContextFromContext(ctx)
			if sc.HasSpanID() {
				return sc.SpanID().String()
			}
			return ""
		}),
	)
	return log.NewFilter(base, log.FilterLevel(log.ParseLevel(cfg.Level)))
}
