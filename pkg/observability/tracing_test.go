package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(TracingConfig{})
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "sync.run")
	assert.False(t, span.SpanContext().IsValid())
	EndSpan(span, nil)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracing_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(TracingConfig{Enabled: true, ServiceVersion: "test", Writer: &buf})
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = InitTracing(TracingConfig{}) })

	ctx, parent := StartSpan(context.Background(), "sync.run", attribute.String("source.kind", "stream"))
	_, child := StartSpan(ctx, "source.read")
	assert.Equal(t, parent.SpanContext().TraceID(), child.SpanContext().TraceID())
	EndSpan(child, errors.New("warehouse unavailable"))
	EndSpan(parent, nil)

	require.NoError(t, shutdown(context.Background()))
	out := buf.String()
	assert.Contains(t, out, `"Name":"sync.run"`)
	assert.Contains(t, out, `"Name":"source.read"`)
	assert.Contains(t, out, "warehouse unavailable")
}
