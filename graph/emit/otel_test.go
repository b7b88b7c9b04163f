package emit_test

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/dshills/bankflow/graph/emit"
)

func newRecordedEmitter(t *testing.T) (*emit.OTelEmitter, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return emit.NewOTelEmitter(provider.Tracer("test")), recorder
}

func TestOTelEmitterSpanAttributes(t *testing.T) {
	emitter, recorder := newRecordedEmitter(t)

	emitter.Emit(emit.Event{
		SessionID: "sess-1",
		Step:      3,
		NodeID:    "confidence_check",
		Msg:       emit.MsgNodeEnd,
		Meta: map[string]any{
			"route":       "balance_inquiry",
			"duration_ms": int64(12),
		},
	})

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans: got %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != emit.MsgNodeEnd {
		t.Errorf("span name: got %s, want %s", span.Name(), emit.MsgNodeEnd)
	}

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if got := attrs["bankflow.session_id"].AsString(); got != "sess-1" {
		t.Errorf("session attribute: got %q", got)
	}
	if got := attrs["bankflow.step"].AsInt64(); got != 3 {
		t.Errorf("step attribute: got %d", got)
	}
	if got := attrs["bankflow.route"].AsString(); got != "balance_inquiry" {
		t.Errorf("route attribute: got %q", got)
	}
}

func TestOTelEmitterErrorStatus(t *testing.T) {
	emitter, recorder := newRecordedEmitter(t)

	emitter.Emit(emit.Event{
		SessionID: "sess-1",
		Msg:       emit.MsgRunError,
		Meta:      map[string]any{"error": "NO_ROUTE: missing edge"},
	})

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans: got %d, want 1", len(spans))
	}
	if spans[0].Status().Description != "NO_ROUTE: missing edge" {
		t.Errorf("status: %+v", spans[0].Status())
	}
	if len(spans[0].Events()) == 0 {
		t.Error("expected a recorded error event")
	}
}
