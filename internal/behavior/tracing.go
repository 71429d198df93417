package behavior

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/oriys/workq/internal/eventhub"
	"github.com/oriys/workq/internal/queue"
)

// spanName is the fixed span name opened on every Dequeue and closed on
// the matching Complete/Abandon, giving each lease attempt its own
// trace without a global tracer singleton.
const spanName = "ProcessQueueEntry"

// TracingConfig configures the tracing behavior.
type TracingConfig struct {
	TracerName string // defaults to "workq/queue"
}

// Tracing is a Behavior that opens a span when an entry is dequeued and
// closes it when the entry is completed or abandoned, so a handler's
// own spans nest under one "ProcessQueueEntry" span per attempt.
type Tracing[T any] struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span // entry id -> open span
}

// NewTracing constructs the tracing behavior. cfg.TracerName defaults
// to "workq/queue" if empty.
func NewTracing[T any](cfg TracingConfig) *Tracing[T] {
	name := cfg.TracerName
	if name == "" {
		name = "workq/queue"
	}
	return &Tracing[T]{
		tracer: otel.Tracer(name),
		spans:  make(map[string]trace.Span),
	}
}

func (t *Tracing[T]) Attach(engine *queue.Engine[T]) eventhub.Disposer {
	d1 := engine.OnDequeued(func(ctx context.Context, eng *queue.Engine[T], entry *queue.Entry[T]) {
		_, span := t.tracer.Start(ctx, spanName,
			trace.WithAttributes(
				attribute.String("queue.id", eng.QueueID()),
				attribute.String("entry.id", entry.ID),
				attribute.Int("entry.attempts", entry.Attempts),
			),
		)
		if entry.CorrelationID != "" {
			span.SetAttributes(attribute.String("entry.correlation_id", entry.CorrelationID))
		}
		if sc := span.SpanContext(); sc.IsValid() {
			entry.Properties["trace_id"] = sc.TraceID().String()
			entry.Properties["span_id"] = sc.SpanID().String()
		}
		t.mu.Lock()
		t.spans[entry.ID] = span
		t.mu.Unlock()
	})
	d2 := engine.OnCompleted(func(ctx context.Context, eng *queue.Engine[T], entry *queue.Entry[T]) {
		t.endSpan(entry.ID, nil)
	})
	d3 := engine.OnAbandoned(func(ctx context.Context, eng *queue.Engine[T], entry *queue.Entry[T]) {
		t.endSpan(entry.ID, errAbandoned)
	})

	return func() {
		d1()
		d2()
		d3()
		t.mu.Lock()
		for id, span := range t.spans {
			span.End()
			delete(t.spans, id)
		}
		t.mu.Unlock()
	}
}

func (t *Tracing[T]) endSpan(entryID string, cause error) {
	t.mu.Lock()
	span, ok := t.spans[entryID]
	if ok {
		delete(t.spans, entryID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	if cause != nil {
		span.SetStatus(codes.Error, cause.Error())
		span.RecordError(cause)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

var errAbandoned = errors.New("entry abandoned")
