// Package workload drives a synthetic SPMD job through the distributed
// array engine: every rank writes a deterministic pattern for each
// variable and record, the file is synced, and the data is read back and
// checked element by element.
package workload

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/darrayio/internal/cli/timeutil"
	"github.com/marmos91/darrayio/internal/logger"
	"github.com/marmos91/darrayio/internal/telemetry"
	"github.com/marmos91/darrayio/pkg/bufpool"
	"github.com/marmos91/darrayio/pkg/comm"
	"github.com/marmos91/darrayio/pkg/darray"
	"github.com/marmos91/darrayio/pkg/decomp"
	"github.com/marmos91/darrayio/pkg/ncio"
	"github.com/marmos91/darrayio/pkg/ncio/store"
	"github.com/marmos91/darrayio/pkg/rearrange"
)

// decompID is the decomposition id every variable of the job uses.
const decompID = 1

// Job describes one run.
type Job struct {
	Ranks   int
	IOTasks int
	Dims    []int
	Kind    decomp.Kind
	Mode    ncio.IOType
	Type    ncio.Type
	Vars    int
	// Records is the number of records per variable; zero defines fixed
	// size variables.
	Records int
	Chunk   int
	Skip    int

	Limits     darray.Limits
	BlockElems int
}

// Env supplies the per-run resources a Job does not describe.
type Env struct {
	// Store receives the dataset blocks.
	Store store.BlockStore
	// NewAllocator returns the buffer pool of one rank.
	NewAllocator func() (bufpool.Allocator, error)
	// Registerer, when non-nil, receives the engine metrics.
	Registerer prometheus.Registerer
}

// RankReport is what one rank observed.
type RankReport struct {
	Rank   int   `json:"rank" yaml:"rank"`
	IORank int   `json:"io_rank" yaml:"io_rank"`
	NDof   int   `json:"ndof" yaml:"ndof"`
	LLen   int   `json:"llen" yaml:"llen"`
	Allocs int64 `json:"allocs" yaml:"allocs"`
}

// Report summarizes a run.
type Report struct {
	RunID        string        `json:"run_id" yaml:"run_id"`
	Dataset      string        `json:"dataset" yaml:"dataset"`
	Mode         string        `json:"mode" yaml:"mode"`
	Rearranger   string        `json:"rearranger" yaml:"rearranger"`
	Type         string        `json:"type" yaml:"type"`
	Ranks        int           `json:"ranks" yaml:"ranks"`
	IOTasks      []int         `json:"io_tasks" yaml:"io_tasks"`
	Vars         int           `json:"vars" yaml:"vars"`
	Records      int           `json:"records" yaml:"records"`
	Elements     int           `json:"elements" yaml:"elements"`
	Holes        int           `json:"holes" yaml:"holes"`
	BytesWritten int64         `json:"bytes_written" yaml:"bytes_written"`
	BytesRead    int64         `json:"bytes_read" yaml:"bytes_read"`
	Puts         int64         `json:"puts" yaml:"puts"`
	Gets         int64         `json:"gets" yaml:"gets"`
	Mismatches   int64         `json:"mismatches" yaml:"mismatches"`
	WriteTime    time.Duration `json:"write_time" yaml:"write_time"`
	ReadTime     time.Duration `json:"read_time" yaml:"read_time"`
	PerRank      []RankReport  `json:"per_rank" yaml:"per_rank"`
}

// Headers implements output.TableRenderer.
func (r *Report) Headers() []string {
	return []string{"RANK", "IO RANK", "NDOF", "LLEN", "ALLOCS"}
}

// Rows implements output.TableRenderer.
func (r *Report) Rows() [][]string {
	rows := make([][]string, 0, len(r.PerRank))
	for _, rr := range r.PerRank {
		io := "-"
		if rr.IORank >= 0 {
			io = strconv.Itoa(rr.IORank)
		}
		rows = append(rows, []string{
			strconv.Itoa(rr.Rank), io, strconv.Itoa(rr.NDof), strconv.Itoa(rr.LLen),
			strconv.FormatInt(rr.Allocs, 10),
		})
	}
	return rows
}

// Summary returns the run totals as key/value pairs.
func (r *Report) Summary() [][2]string {
	return [][2]string{
		{"Run", r.RunID},
		{"Dataset", r.Dataset},
		{"Mode", r.Mode},
		{"Rearranger", r.Rearranger},
		{"Type", r.Type},
		{"Ranks", strconv.Itoa(r.Ranks)},
		{"I/O tasks", fmt.Sprint(r.IOTasks)},
		{"Variables", strconv.Itoa(r.Vars)},
		{"Records", strconv.Itoa(r.Records)},
		{"Elements", strconv.Itoa(r.Elements)},
		{"Holes", strconv.Itoa(r.Holes)},
		{"Bytes written", strconv.FormatInt(r.BytesWritten, 10)},
		{"Bytes read", strconv.FormatInt(r.BytesRead, 10)},
		{"Write time", timeutil.FormatDuration(r.WriteTime)},
		{"Write rate", timeutil.Rate(r.BytesWritten, r.WriteTime)},
		{"Read time", timeutil.FormatDuration(r.ReadTime)},
		{"Read rate", timeutil.Rate(r.BytesRead, r.ReadTime)},
		{"Mismatches", strconv.FormatInt(r.Mismatches, 10)},
	}
}

// IOTaskRanks spreads n I/O tasks evenly over ranks compute ranks.
func IOTaskRanks(ranks, n int) []int {
	if n > ranks {
		n = ranks
	}
	stride := ranks / n
	out := make([]int, n)
	for k := range out {
		out[k] = k * stride
	}
	return out
}

// Run executes j. A run that completes with mismatches returns a report
// and ErrMismatch.
func Run(ctx context.Context, j Job, env Env) (*Report, error) {
	if j.Ranks < 1 || j.IOTasks < 1 {
		return nil, fmt.Errorf("workload: need at least one rank and one I/O task")
	}
	runID := uuid.NewString()
	ctx, span := telemetry.StartSpan(ctx, "workload.run")
	defer span.End()

	ioTasks := IOTaskRanks(j.Ranks, j.IOTasks)
	maps := rearrange.CompMapBlocks(j.Dims, j.Ranks, j.Chunk, j.Skip)
	plan, err := rearrange.NewPlan(rearrange.Spec{
		IOID:     decompID,
		Type:     j.Type,
		Dims:     j.Dims,
		Kind:     j.Kind,
		CompMaps: maps,
		IOTasks:  ioTasks,
	})
	if err != nil {
		return nil, err
	}

	ds, varids, err := defineDataset(j, runID, env.Store)
	if err != nil {
		return nil, err
	}

	metrics := darray.NewMetrics(env.Registerer)
	world := comm.NewWorld(j.Ranks)
	ioGroup := world.NewGroup(ioTasks)

	rep := &Report{
		RunID:      runID,
		Dataset:    ds.Name(),
		Mode:       j.Mode.String(),
		Rearranger: j.Kind.String(),
		Type:       j.Type.String(),
		Ranks:      j.Ranks,
		IOTasks:    ioTasks,
		Vars:       j.Vars,
		Records:    j.Records,
		Elements:   product(j.Dims),
		Holes:      product(j.Dims) - covered(maps),
		PerRank:    make([]RankReport, j.Ranks),
	}

	logger.InfoCtx(ctx, "workload starting",
		"run_id", runID,
		"ranks", j.Ranks,
		"io_tasks", len(ioTasks),
		logger.KeyIOType, j.Mode.String())

	var (
		mismatches atomic.Int64
		timesMu    sync.Mutex
	)
	err = world.Run(ctx, func(ctx context.Context, c comm.Comm) error {
		var io comm.Comm
		if ic, ok := ioGroup.Comm(c.Rank()); ok {
			io = ic
		}
		alloc, err := env.NewAllocator()
		if err != nil {
			return err
		}
		ios, err := darray.NewIOSystem(c, io,
			darray.WithAllocator(alloc),
			darray.WithLimits(j.Limits),
			darray.WithMetrics(metrics))
		if err != nil {
			return err
		}
		d := plan.Decomposition(c)
		if err := ios.AddDecomposition(d); err != nil {
			return err
		}
		f, err := darray.OpenFile(ios, ds, j.Mode, true)
		if err != nil {
			return err
		}

		r := &rankRun{j: j, f: f, d: d, local: maps[c.Rank()], varids: varids}
		start := time.Now()
		if err := r.write(ctx); err != nil {
			return err
		}
		if err := f.Sync(ctx); err != nil {
			return err
		}
		wrote := time.Since(start)

		start = time.Now()
		bad, err := r.verify(ctx)
		if err != nil {
			return err
		}
		read := time.Since(start)
		mismatches.Add(bad)

		if err := f.Close(ctx); err != nil {
			return err
		}
		if err := ios.FreeDecomposition(decompID); err != nil {
			return err
		}

		timesMu.Lock()
		rep.WriteTime = max(rep.WriteTime, wrote)
		rep.ReadTime = max(rep.ReadTime, read)
		rep.PerRank[c.Rank()] = RankReport{
			Rank:   c.Rank(),
			IORank: ios.IORank(),
			NDof:   d.NDof,
			LLen:   d.LLen,
			Allocs: alloc.Stats().Allocs,
		}
		timesMu.Unlock()
		return nil
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	st := ds.Stats()
	rep.BytesWritten = st.BytesWritten
	rep.BytesRead = st.BytesRead
	rep.Puts = st.Puts
	rep.Gets = st.Gets
	rep.Mismatches = mismatches.Load()

	logger.InfoCtx(ctx, "workload finished",
		"run_id", runID,
		logger.Bytes(rep.BytesWritten),
		"mismatches", rep.Mismatches,
		logger.DurationMs(float64(rep.WriteTime+rep.ReadTime)/float64(time.Millisecond)))

	if rep.Mismatches > 0 {
		return rep, fmt.Errorf("%w: %d elements", ErrMismatch, rep.Mismatches)
	}
	return rep, nil
}

// ErrMismatch reports data read back that differs from what was written.
var ErrMismatch = errors.New("workload: read back mismatch")

// defineDataset creates the dataset with one dimension per entry of j.Dims,
// an unlimited record dimension when j.Records > 0, and j.Vars variables.
func defineDataset(j Job, runID string, bs store.BlockStore) (*ncio.Dataset, []int, error) {
	ds := ncio.Create("darrayio-"+runID+".nc", bs, ncio.WithBlockElems(j.BlockElems))

	var dimids []int
	if j.Records > 0 {
		rec, err := ds.DefDim("time", ncio.Unlimited)
		if err != nil {
			return nil, nil, err
		}
		dimids = append(dimids, rec)
	}
	for i, n := range j.Dims {
		id, err := ds.DefDim(fmt.Sprintf("d%d", i), n)
		if err != nil {
			return nil, nil, err
		}
		dimids = append(dimids, id)
	}

	varids := make([]int, j.Vars)
	for v := range varids {
		id, err := ds.DefVar(fmt.Sprintf("v%d", v), j.Type, dimids)
		if err != nil {
			return nil, nil, err
		}
		varids[v] = id
	}
	return ds, varids, nil
}

// rankRun is the per-rank state of a run.
type rankRun struct {
	j      Job
	f      *darray.File
	d      *decomp.Decomposition
	local  []int64
	varids []int
}

// frames returns the number of frames each variable is written for.
func (r *rankRun) frames() int {
	return max(r.j.Records, 1)
}

func (r *rankRun) setFrame(varid, frame int) error {
	if r.j.Records == 0 {
		return nil
	}
	return r.f.SetFrame(varid, frame)
}

func (r *rankRun) write(ctx context.Context) error {
	for frame := 0; frame < r.frames(); frame++ {
		for _, varid := range r.varids {
			if err := r.setFrame(varid, frame); err != nil {
				return err
			}
			data := Pattern(r.j.Type, r.local, varid, frame)
			if err := r.f.WriteDarray(ctx, varid, decompID, r.d.NDof, data, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// verify reads every frame back and counts elements that differ.
func (r *rankRun) verify(ctx context.Context) (int64, error) {
	size := r.j.Type.Size()
	got := make([]byte, r.d.NDof*size)
	var bad int64
	for frame := 0; frame < r.frames(); frame++ {
		for _, varid := range r.varids {
			if err := r.setFrame(varid, frame); err != nil {
				return 0, err
			}
			if err := r.f.ReadDarray(ctx, varid, decompID, r.d.NDof, got); err != nil {
				return 0, err
			}
			want := Pattern(r.j.Type, r.local, varid, frame)
			for i, g := range r.local {
				if g == 0 {
					continue
				}
				if string(got[i*size:(i+1)*size]) != string(want[i*size:(i+1)*size]) {
					bad++
				}
			}
		}
	}
	return bad, nil
}

// Pattern returns the local array a rank writes for varid at frame. The
// element at 1-based global offset g holds a value derived from g, varid
// and frame, reduced to fit t. Unmapped elements stay zero.
func Pattern(t ncio.Type, local []int64, varid, frame int) []byte {
	size := t.Size()
	out := make([]byte, len(local)*size)
	for i, g := range local {
		if g == 0 {
			continue
		}
		encode(t, out[i*size:], g*100+int64(varid)*10+int64(frame))
	}
	return out
}

func encode(t ncio.Type, b []byte, v int64) {
	switch t {
	case ncio.Byte, ncio.Char, ncio.UByte:
		b[0] = byte(v % 100)
	case ncio.Short, ncio.UShort:
		binary.LittleEndian.PutUint16(b, uint16(v%30000))
	case ncio.Int, ncio.UInt:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case ncio.Float:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case ncio.Double:
		binary.LittleEndian.PutUint64(b, math.Float64bits(float64(v)))
	case ncio.Int64, ncio.UInt64:
		binary.LittleEndian.PutUint64(b, uint64(v))
	}
}

func product(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}

// covered counts the distinct global offsets named by maps.
func covered(maps [][]int64) int {
	seen := make(map[int64]struct{})
	for _, m := range maps {
		for _, g := range m {
			if g > 0 {
				seen[g] = struct{}{}
			}
		}
	}
	return len(seen)
}
