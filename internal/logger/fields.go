package logger

import "log/slog"

// Field keys shared by every log statement. Keep them stable; dashboards
// and log queries key on them.
const (
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Job topology
	KeyRank   = "rank"    // compute rank
	KeyIOTask = "io_task" // I/O rank
	KeyNTasks = "ntasks"  // compute communicator size
	KeyNIO    = "nio"     // I/O communicator size
	KeyIOType = "iotype"  // serial, parallel, nonblocking
	KeyRearr  = "rearr"   // box, subset
	KeyRunID  = "run_id"  // job identifier

	// Dataset and variables
	KeyFile   = "file"
	KeyVarID  = "varid"
	KeyNVars  = "nvars"
	KeyFrame  = "frame"
	KeyIOID   = "ioid"
	KeyRecord = "record"

	// Buffering
	KeyBytes      = "bytes"
	KeyLimit      = "limit"
	KeyAllocated  = "allocated"
	KeyFree       = "free"
	KeyVerdict    = "verdict"
	KeyArrays     = "arrays"
	KeyArrayLen   = "arraylen"
	KeyRegions    = "regions"
	KeyRequests   = "requests"
	KeyBlocks     = "blocks"
	KeyBlock      = "block"
	KeyStore      = "store"
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
)

// Rank returns a slog.Attr for a compute rank.
func Rank(r int) slog.Attr { return slog.Int(KeyRank, r) }

// IOTask returns a slog.Attr for an I/O rank.
func IOTask(r int) slog.Attr { return slog.Int(KeyIOTask, r) }

// File returns a slog.Attr for a dataset name.
func File(name string) slog.Attr { return slog.String(KeyFile, name) }

// VarID returns a slog.Attr for a variable id.
func VarID(id int) slog.Attr { return slog.Int(KeyVarID, id) }

// IOID returns a slog.Attr for a decomposition id.
func IOID(id int) slog.Attr { return slog.Int(KeyIOID, id) }

// Bytes returns a slog.Attr for a byte count.
func Bytes(n int64) slog.Attr { return slog.Int64(KeyBytes, n) }

// Verdict returns a slog.Attr for a flush verdict.
func Verdict(v string) slog.Attr { return slog.String(KeyVerdict, v) }

// DurationMs returns a slog.Attr for a duration in milliseconds.
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns a slog.Attr for an error. A nil error yields an empty attr,
// which handlers drop.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
