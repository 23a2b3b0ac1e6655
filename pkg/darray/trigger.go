package darray

import (
	"context"
	"fmt"

	"github.com/marmos91/darrayio/pkg/bufpool"
	"github.com/marmos91/darrayio/pkg/comm"
)

// Verdict is the outcome of the flush-trigger check. Larger values are
// stronger, so agreeing on a verdict is a max-reduction.
type Verdict int

const (
	// VerdictNone keeps buffering.
	VerdictNone Verdict = iota
	// VerdictIOFlush moves the buffered data to the I/O tasks, freeing
	// compute-side memory.
	VerdictIOFlush
	// VerdictDiskFlush additionally forces the data to storage.
	VerdictDiskFlush
)

func (v Verdict) String() string {
	switch v {
	case VerdictNone:
		return "none"
	case VerdictIOFlush:
		return "io"
	case VerdictDiskFlush:
		return "disk"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// FlushVerdict decides whether adding one more array to a write-multi-buffer
// holding numArrays arrays of arrayBytes each requires a flush first.
// maxRegions is the decomposition's worst-case region count per I/O task.
func FlushVerdict(l Limits, st bufpool.Stats, numArrays int, arrayBytes int64, maxRegions int) Verdict {
	v := VerdictNone
	need := l.IOFlushMargin * float64(numArrays+1) * float64(arrayBytes)
	if float64(st.LargestFree) <= need {
		v = VerdictIOFlush
	}
	if int64(numArrays+1)*int64(maxRegions) > int64(l.MaxCachedIORegions) {
		v = VerdictIOFlush
	}
	if st.Allocated >= l.ComputeBufferLimit {
		v = VerdictDiskFlush
	}
	return v
}

// agreeVerdict returns the strongest verdict over every rank of c.
func agreeVerdict(ctx context.Context, c comm.Comm, v Verdict) (Verdict, error) {
	out, err := comm.AllreduceMaxInt64(ctx, c, int64(v))
	if err != nil {
		return VerdictNone, fmt.Errorf("agree flush verdict: %w", err)
	}
	return Verdict(out), nil
}
