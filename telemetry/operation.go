// Package telemetry records one observation per operation: a structured
// logrus entry and an otel span carrying the same attributes.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "board-mirror"
	EventName           = "observability.event"
)

// Operation accumulates attributes for a single fetch, mutation or request.
type Operation struct {
	logger     *log.Logger
	span       trace.Span
	domain     string
	name       string
	start      time.Time
	attrs      map[string]any
	errorStage string
}

// Start opens a span named "<domain>.<name>" and returns the derived context.
func Start(ctx context.Context, logger *log.Logger, domain, name string) (*Operation, context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	spanCtx, span := otel.Tracer(instrumentationName).Start(ctx, domain+"."+name)
	return &Operation{
		logger: logger,
		span:   span,
		domain: domain,
		name:   name,
		start:  time.Now(),
		attrs:  make(map[string]any),
	}, spanCtx
}

// Set records an attribute under the operation's domain prefix.
func (o *Operation) Set(key string, value any) {
	if o == nil || key == "" {
		return
	}
	o.attrs[o.domain+"."+key] = value
}

// SetErrorStage records where the operation failed.
func (o *Operation) SetErrorStage(stage string) {
	if o == nil || stage == "" {
		return
	}
	o.errorStage = stage
}

// End finishes the operation without an HTTP status.
func (o *Operation) End(err error) {
	o.EndWithStatus(0, err)
}

// EndWithStatus finishes the span and emits the log entry.
func (o *Operation) EndWithStatus(status int, err error) {
	if o == nil {
		return
	}
	attrs := make(map[string]any, len(o.attrs)+3)
	for k, v := range o.attrs {
		attrs[k] = v
	}
	attrs[o.domain+".total_ms"] = durationToMillis(time.Since(o.start))
	if status > 0 {
		attrs["http.status_code"] = status
	}
	if o.errorStage != "" {
		attrs[o.domain+".error_stage"] = o.errorStage
	}
	if err != nil {
		attrs["error.message"] = err.Error()
	}

	severityText, severityNumber := severityForStatus(status, err)
	kvs := toAttributes(attrs)
	o.span.SetAttributes(kvs...)
	o.span.AddEvent(EventName, trace.WithAttributes(append(kvs,
		attribute.String("event.name", o.name),
		attribute.String("event.domain", o.domain),
		attribute.String("severity_text", severityText),
	)...))
	if err != nil || status >= http.StatusInternalServerError {
		desc := http.StatusText(status)
		if err != nil {
			desc = err.Error()
		}
		o.span.SetStatus(codes.Error, desc)
	} else {
		o.span.SetStatus(codes.Ok, "")
	}

	if o.logger != nil {
		fields := log.Fields{
			"event.name":      o.name,
			"event.domain":    o.domain,
			"attributes":      attrs,
			"severity_text":   severityText,
			"severity_number": severityNumber,
		}
		if sc := o.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
		o.logger.WithFields(fields).Log(levelFor(severityNumber), EventName)
	}
	o.span.End()
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func levelFor(severity int) log.Level {
	switch {
	case severity >= 17:
		return log.ErrorLevel
	case severity >= 13:
		return log.WarnLevel
	default:
		return log.InfoLevel
	}
}

func toAttributes(attrs map[string]any) []attribute.KeyValue {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		switch v := attrs[k].(type) {
		case string:
			out = append(out, attribute.String(k, v))
		case bool:
			out = append(out, attribute.Bool(k, v))
		case int:
			out = append(out, attribute.Int(k, v))
		case int64:
			out = append(out, attribute.Int64(k, v))
		case float64:
			out = append(out, attribute.Float64(k, v))
		default:
			out = append(out, attribute.String(k, fmt.Sprint(v)))
		}
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
