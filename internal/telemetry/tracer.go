package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys.
const (
	AttrRank     = "darray.rank"
	AttrIOTask   = "darray.io_task"
	AttrFile     = "darray.file"
	AttrIOID     = "darray.ioid"
	AttrVarID    = "darray.varid"
	AttrNVars    = "darray.nvars"
	AttrRecord   = "darray.record"
	AttrToDisk   = "darray.to_disk"
	AttrBytes    = "darray.bytes"
	AttrVerdict  = "darray.verdict"
	AttrIOType   = "darray.iotype"
	AttrRequests = "darray.requests"
	AttrBlocks   = "darray.blocks"
	AttrForce    = "darray.force"
)

// Span names.
const (
	SpanWrite       = "darray.write"
	SpanRead        = "darray.read"
	SpanFlush       = "darray.flush"
	SpanOutputFlush = "darray.output_flush"
	SpanWaitBlocks  = "darray.wait_blocks"
	SpanSync        = "darray.sync"
)

// Rank returns the compute rank attribute.
func Rank(r int) attribute.KeyValue { return attribute.Int(AttrRank, r) }

// File returns the dataset attribute.
func File(name string) attribute.KeyValue { return attribute.String(AttrFile, name) }

// IOID returns the decomposition id attribute.
func IOID(id int) attribute.KeyValue { return attribute.Int(AttrIOID, id) }

// VarID returns the variable id attribute.
func VarID(id int) attribute.KeyValue { return attribute.Int(AttrVarID, id) }

// NVars returns the batched variable count attribute.
func NVars(n int) attribute.KeyValue { return attribute.Int(AttrNVars, n) }

// Bytes returns a byte count attribute.
func Bytes(n int64) attribute.KeyValue { return attribute.Int64(AttrBytes, n) }

// StartFlushSpan starts the span covering one rearrange-and-dispatch of a
// write-multi-buffer.
func StartFlushSpan(ctx context.Context, file string, ioid, nvars int, record, toDisk bool) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanFlush, trace.WithAttributes(
		File(file),
		IOID(ioid),
		NVars(nvars),
		attribute.Bool(AttrRecord, record),
		attribute.Bool(AttrToDisk, toDisk),
	))
}

// StartIOSpan starts a span for a file-level operation such as sync or an
// output-buffer drain.
func StartIOSpan(ctx context.Context, name, file string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, name, trace.WithAttributes(append([]attribute.KeyValue{File(file)}, attrs...)...))
}
