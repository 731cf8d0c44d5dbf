package engine

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const engineTracerName = "recall.engine"

const (
	spanRetrieve    = "relevance.retrieve"
	spanGate        = "relevance.gate"
	spanSearch      = "relevance.search"
	spanConsolidate = "relevance.consolidate"
	spanRecordTurn  = "relevance.record_turn"
)

func engineTracer() trace.Tracer {
	return otel.Tracer(engineTracerName)
}
