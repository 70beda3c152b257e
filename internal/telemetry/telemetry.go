// Package telemetry records what mutations do. It is observational only:
// nothing here returns an error or changes control flow.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	applog "storefront/internal/log"
	"storefront/internal/mutation"
)

type Emitter interface {
	Event(ctx context.Context, name string, props map[string]any)
	Breadcrumb(ctx context.Context, category, message string, data map[string]any)
	Exception(ctx context.Context, err error, fields map[string]any)
}

// Nop drops everything.
type Nop struct{}

func (Nop) Event(context.Context, string, map[string]any)              {}
func (Nop) Breadcrumb(context.Context, string, string, map[string]any) {}
func (Nop) Exception(context.Context, error, map[string]any)           {}

// Log writes events and exceptions as JSON log lines. Breadcrumbs are too
// chatty for the log and are skipped.
type Log struct{}

func (Log) Event(_ context.Context, name string, props map[string]any) {
	applog.Info(nil, name, props)
}

func (Log) Breadcrumb(context.Context, string, string, map[string]any) {}

func (Log) Exception(_ context.Context, err error, fields map[string]any) {
	applog.Error(nil, "exception", err, fields)
}

// OTel turns events and breadcrumbs into span events on the active span, or
// on a short span of its own when none is recording.
type OTel struct {
	tracer trace.Tracer
}

func NewOTel(t trace.Tracer) *OTel { return &OTel{tracer: t} }

func (o *OTel) span(ctx context.Context, name string) (trace.Span, func()) {
	if sp := trace.SpanFromContext(ctx); sp.IsRecording() {
		return sp, func() {}
	}
	_, sp := o.tracer.Start(ctx, name)
	return sp, func() { sp.End() }
}

func (o *OTel) Event(ctx context.Context, name string, props map[string]any) {
	sp, end := o.span(ctx, name)
	defer end()
	sp.AddEvent(name, trace.WithAttributes(attrs(props)...))
}

func (o *OTel) Breadcrumb(ctx context.Context, category, message string, data map[string]any) {
	sp, end := o.span(ctx, category)
	defer end()
	kv := append(attrs(data), attribute.String("breadcrumb.category", category))
	sp.AddEvent(message, trace.WithAttributes(kv...))
}

func (o *OTel) Exception(ctx context.Context, err error, fields map[string]any) {
	if err == nil {
		return
	}
	sp, end := o.span(ctx, "exception")
	defer end()
	sp.RecordError(err, trace.WithAttributes(attrs(fields)...))
	sp.SetStatus(codes.Error, err.Error())
}

func attrs(m map[string]any) []attribute.KeyValue {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]attribute.KeyValue, 0, len(m))
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			out = append(out, attribute.String(k, v))
		case int:
			out = append(out, attribute.Int(k, v))
		case int64:
			out = append(out, attribute.Int64(k, v))
		case float64:
			out = append(out, attribute.Float64(k, v))
		case bool:
			out = append(out, attribute.Bool(k, v))
		case error:
			out = append(out, attribute.String(k, v.Error()))
		default:
			out = append(out, attribute.String(k, fmt.Sprint(v)))
		}
	}
	return out
}

// Multi fans out to several emitters.
type Multi []Emitter

func (m Multi) Event(ctx context.Context, name string, props map[string]any) {
	for _, e := range m {
		e.Event(ctx, name, props)
	}
}

func (m Multi) Breadcrumb(ctx context.Context, category, message string, data map[string]any) {
	for _, e := range m {
		e.Breadcrumb(ctx, category, message, data)
	}
}

func (m Multi) Exception(ctx context.Context, err error, fields map[string]any) {
	for _, e := range m {
		e.Exception(ctx, err, fields)
	}
}

// Observer reports mutation phases as breadcrumbs and guard drops as events.
func Observer(e Emitter) mutation.Observer {
	return mutation.ObserverFunc(func(ctx context.Context, ev mutation.PhaseEvent) {
		data := map[string]any{"guard": ev.GuardKey, "phase": ev.Phase.String()}
		if ev.Err != nil {
			data["err"] = ev.Err
		}
		if ev.Phase == mutation.Settled && errors.Is(ev.Err, mutation.ErrInProgress) {
			e.Event(ctx, ev.Mutation+".dropped", data)
			return
		}
		e.Breadcrumb(ctx, "mutation", ev.Mutation+" "+ev.Phase.String(), data)
	})
}
