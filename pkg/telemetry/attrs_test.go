package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestSpanAttributesMergeKeepsExisting(t *testing.T) {
	base := NewSpanAttributes(Fuzzing).WithGeneration(3)
	other := NewSpanAttributes(Grading).WithGeneration(9).WithCandidates(4).WithExtraAttribute("k", "v")

	base.Merge(other)

	attrs := attribute.NewSet(base.Attributes()...)
	category, ok := attrs.Value("hybrid.action.category")
	require.True(t, ok)
	assert.Equal(t, "grading", category.AsString())

	gen, ok := attrs.Value("hybrid.generation")
	require.True(t, ok)
	assert.Equal(t, int64(3), gen.AsInt64())

	cands, ok := attrs.Value("hybrid.candidates")
	require.True(t, ok)
	assert.Equal(t, int64(4), cands.AsInt64())

	extra, ok := attrs.Value("k")
	require.True(t, ok)
	assert.Equal(t, "v", extra.AsString())
}

func TestTracerFactoryWithoutTelemetry(t *testing.T) {
	factory := NewTracerFactory(TracerFactoryParams{})
	tracer := factory.NewTracer(context.Background(), "noop")
	assert.IsType(t, &DummyTracer{}, tracer)

	assert.IsType(t, &DummyTracer{}, FromContext(context.Background()))
	ctx := context.WithValue(context.Background(), TracerKey{}, tracer)
	assert.Same(t, tracer, FromContext(ctx))
}
