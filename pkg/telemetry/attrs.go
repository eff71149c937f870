package telemetry

import (
	"fmt"
	"maps"

	"go.opentelemetry.io/otel/attribute"
)

type SpanAttributes struct {
	ActionCategory string

	generation optional[uint64] // hybrid.generation
	candidates optional[int]    // hybrid.candidates
	corpusSize optional[int]    // fuzz.corpus.size
	signal     optional[string] // solver.signal
	directive  optional[string] // solver.directive
	synced     optional[int]    // solver.synced_files

	extraAttributes map[string]any
}

func NewSpanAttributes(actionCategory ActionCategory) *SpanAttributes {
	return &SpanAttributes{
		ActionCategory:  actionCategory.String(),
		extraAttributes: make(map[string]any),
	}
}

// EmptySpanAttributes has no action category; useful for attributes added after the span started.
func EmptySpanAttributes() *SpanAttributes {
	return &SpanAttributes{
		extraAttributes: make(map[string]any),
	}
}

// Merge copies values set on other that are not yet set on o.
// The action category is always taken from other when present.
func (o *SpanAttributes) Merge(other *SpanAttributes) {
	if other == nil {
		return
	}
	if other.ActionCategory != "" {
		o.ActionCategory = other.ActionCategory
	}

	mergeOptional(&o.generation, &other.generation)
	mergeOptional(&o.candidates, &other.candidates)
	mergeOptional(&o.corpusSize, &other.corpusSize)
	mergeOptional(&o.signal, &other.signal)
	mergeOptional(&o.directive, &other.directive)
	mergeOptional(&o.synced, &other.synced)

	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	for k, v := range other.extraAttributes {
		if _, exists := o.extraAttributes[k]; !exists {
			o.extraAttributes[k] = v
		}
	}
}

func (o *SpanAttributes) WithGeneration(val uint64) *SpanAttributes {
	o.generation.Set(val)
	return o
}

func (o *SpanAttributes) WithCandidates(val int) *SpanAttributes {
	o.candidates.Set(val)
	return o
}

func (o *SpanAttributes) WithCorpusSize(val int) *SpanAttributes {
	o.corpusSize.Set(val)
	return o
}

func (o *SpanAttributes) WithSignal(val string) *SpanAttributes {
	o.signal.Set(val)
	return o
}

func (o *SpanAttributes) WithDirective(val string) *SpanAttributes {
	o.directive.Set(val)
	return o
}

func (o *SpanAttributes) WithSyncedFiles(val int) *SpanAttributes {
	o.synced.Set(val)
	return o
}

func (o *SpanAttributes) WithExtraAttribute(key string, val any) *SpanAttributes {
	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	o.extraAttributes[key] = val
	return o
}

func (o *SpanAttributes) WithExtraAttributes(attrs map[string]any) *SpanAttributes {
	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	maps.Copy(o.extraAttributes, attrs)
	return o
}

func (o SpanAttributes) Attributes() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if o.ActionCategory != "" {
		attrs = append(attrs, attribute.String("hybrid.action.category", o.ActionCategory))
	}
	if o.generation.set {
		attrs = append(attrs, attribute.Int64("hybrid.generation", int64(o.generation.val)))
	}
	if o.candidates.set {
		attrs = append(attrs, attribute.Int("hybrid.candidates", o.candidates.val))
	}
	if o.corpusSize.set {
		attrs = append(attrs, attribute.Int("fuzz.corpus.size", o.corpusSize.val))
	}
	if o.signal.set {
		attrs = append(attrs, attribute.String("solver.signal", o.signal.val))
	}
	if o.directive.set {
		attrs = append(attrs, attribute.String("solver.directive", o.directive.val))
	}
	if o.synced.set {
		attrs = append(attrs, attribute.Int("solver.synced_files", o.synced.val))
	}

	for k, v := range o.extraAttributes {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}

	return attrs
}

type EventAttributes []attribute.KeyValue

func NewEventAttributes(attributes map[string]string) EventAttributes {
	attrs := make(EventAttributes, 0, len(attributes))
	for k, v := range attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

type optional[T any] struct {
	val T
	set bool
}

func (o *optional[T]) Set(val T) { o.val = val; o.set = true }

func mergeOptional[T any](target, source *optional[T]) {
	if !target.set && source.set {
		target.val = source.val
		target.set = true
	}
}
