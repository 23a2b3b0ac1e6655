// Package ncio is a small NetCDF-style dataset layer: named dimensions
// (one of which may be unlimited), typed variables over those dimensions,
// and hyperslab access by start/count. Variable data is persisted into a
// store.BlockStore in fixed-size blocks.
//
// A Dataset is shared by every I/O task of a job. Each task opens its own
// Handle, whose access mode (serial, parallel or non-blocking) decides which
// calls it may make.
package ncio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/marmos91/darrayio/pkg/ncio/store"
)

// Unlimited marks the record dimension in DefDim.
const Unlimited = 0

// DefaultBlockElems is the number of elements per stored block.
const DefaultBlockElems = 4096

// Dim is a named dimension. Len is Unlimited for the record dimension.
type Dim struct {
	Name string
	Len  int
}

type variable struct {
	id     int
	name   string
	typ    Type
	dimIDs []int
	record bool
	fill   []byte
	noFill bool
}

// VarInfo describes a variable as seen by a reader or writer.
type VarInfo struct {
	ID     int
	Name   string
	Type   Type
	DimIDs []int
	// Shape holds dimension lengths; the record dimension reports the
	// current number of records.
	Shape  []int
	Record bool
	// Fill is the effective fill value: explicit if set, else DefaultFill.
	Fill   []byte
	NoFill bool
}

// NDims returns the number of file dimensions of the variable.
func (v VarInfo) NDims() int { return len(v.DimIDs) }

// Stats counts dataset traffic.
type Stats struct {
	Puts         int64
	Gets         int64
	BytesWritten int64
	BytesRead    int64
}

// Dataset is a set of dimensions and variables backed by a BlockStore.
type Dataset struct {
	id         uuid.UUID
	name       string
	store      store.BlockStore
	blockElems int

	mu      sync.Mutex
	dims    []Dim
	vars    []*variable
	numRecs int
	stats   Stats
}

// Option configures a Dataset.
type Option func(*Dataset)

// WithBlockElems sets the number of elements per stored block.
func WithBlockElems(n int) Option {
	return func(d *Dataset) {
		if n > 0 {
			d.blockElems = n
		}
	}
}

// Create returns an empty dataset persisting into bs.
func Create(name string, bs store.BlockStore, opts ...Option) *Dataset {
	d := &Dataset{
		id:         uuid.New(),
		name:       name,
		store:      bs,
		blockElems: DefaultBlockElems,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Name returns the dataset name.
func (d *Dataset) Name() string { return d.name }

// ID returns the unique instance id used to namespace stored blocks.
func (d *Dataset) ID() uuid.UUID { return d.id }

// DefDim defines a dimension and returns its id.
func (d *Dataset) DefDim(name string, length int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if length < 0 {
		return 0, fmt.Errorf("ncio: negative length for dimension %q", name)
	}
	for _, dim := range d.dims {
		if dim.Name == name {
			return 0, fmt.Errorf("%w: dimension %q", ErrNameInUse, name)
		}
		if length == Unlimited && dim.Len == Unlimited {
			return 0, fmt.Errorf("ncio: dataset already has a record dimension %q", dim.Name)
		}
	}
	d.dims = append(d.dims, Dim{Name: name, Len: length})
	return len(d.dims) - 1, nil
}

// DefVar defines a variable over dimids and returns its id. The record
// dimension, if used, must come first.
func (d *Dataset) DefVar(name string, typ Type, dimids []int) (int, error) {
	if !typ.Valid() {
		return 0, fmt.Errorf("%w: %v", ErrBadType, typ)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, v := range d.vars {
		if v.name == name {
			return 0, fmt.Errorf("%w: variable %q", ErrNameInUse, name)
		}
	}
	v := &variable{id: len(d.vars), name: name, typ: typ, dimIDs: append([]int(nil), dimids...)}
	for i, id := range dimids {
		if id < 0 || id >= len(d.dims) {
			return 0, fmt.Errorf("%w: %d", ErrBadDimID, id)
		}
		if d.dims[id].Len == Unlimited {
			if i != 0 {
				return 0, fmt.Errorf("%w: variable %q", ErrRecordDim, name)
			}
			v.record = true
		}
	}
	d.vars = append(d.vars, v)
	return v.id, nil
}

// SetFill sets the fill mode of a variable. A nil fill keeps the default.
func (d *Dataset) SetFill(varid int, noFill bool, fill []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.variable(varid)
	if err != nil {
		return err
	}
	if fill != nil && len(fill) != v.typ.Size() {
		return fmt.Errorf("ncio: fill value for %q has %d bytes, want %d", v.name, len(fill), v.typ.Size())
	}
	v.noFill = noFill
	v.fill = append([]byte(nil), fill...)
	if fill == nil {
		v.fill = nil
	}
	return nil
}

// VarID looks a variable up by name.
func (d *Dataset) VarID(name string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, v := range d.vars {
		if v.name == name {
			return v.id, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrBadVarID, name)
}

// Var describes a variable.
func (d *Dataset) Var(varid int) (VarInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.variable(varid)
	if err != nil {
		return VarInfo{}, err
	}
	shape := make([]int, len(v.dimIDs))
	for i, id := range v.dimIDs {
		shape[i] = d.dims[id].Len
		if shape[i] == Unlimited {
			shape[i] = d.numRecs
		}
	}
	return VarInfo{
		ID:     v.id,
		Name:   v.name,
		Type:   v.typ,
		DimIDs: append([]int(nil), v.dimIDs...),
		Shape:  shape,
		Record: v.record,
		Fill:   v.fillValue(),
		NoFill: v.noFill,
	}, nil
}

// NumRecs returns the current length of the record dimension.
func (d *Dataset) NumRecs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.numRecs
}

// Stats returns traffic counters.
func (d *Dataset) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Sync flushes the underlying store.
func (d *Dataset) Sync(ctx context.Context) error {
	return d.store.Sync(ctx)
}

func (d *Dataset) variable(varid int) (*variable, error) {
	if varid < 0 || varid >= len(d.vars) {
		return nil, fmt.Errorf("%w: %d", ErrBadVarID, varid)
	}
	return d.vars[varid], nil
}

func (v *variable) fillValue() []byte {
	if v.fill != nil {
		return append([]byte(nil), v.fill...)
	}
	return DefaultFill(v.typ)
}

// slab returns the non-record dimension lengths of v.
func (d *Dataset) slab(v *variable) []int {
	ids := v.dimIDs
	if v.record {
		ids = ids[1:]
	}
	shape := make([]int, len(ids))
	for i, id := range ids {
		shape[i] = d.dims[id].Len
	}
	return shape
}

// check validates a hyperslab against v and returns its element count.
func (d *Dataset) check(v *variable, start, count []int, write bool) (int, error) {
	if len(start) != len(v.dimIDs) || len(count) != len(v.dimIDs) {
		return 0, fmt.Errorf("%w: variable %q has %d dims, got start %d count %d",
			ErrShape, v.name, len(v.dimIDs), len(start), len(count))
	}
	n := 1
	for _, c := range count {
		if c < 0 {
			return 0, fmt.Errorf("%w: negative count", ErrEdge)
		}
		n *= c
	}
	if n == 0 {
		return 0, nil
	}
	for i, id := range v.dimIDs {
		if start[i] < 0 {
			return 0, fmt.Errorf("%w: negative start", ErrEdge)
		}
		limit := d.dims[id].Len
		if limit == Unlimited {
			if write {
				continue
			}
			limit = d.numRecs
		}
		if start[i]+count[i] > limit {
			return 0, fmt.Errorf("%w: dim %d start %d count %d len %d", ErrEdge, i, start[i], count[i], limit)
		}
	}
	return n, nil
}

// put writes one hyperslab. data must hold at least the slab's bytes.
func (d *Dataset) put(ctx context.Context, varid int, start, count []int, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.variable(varid)
	if err != nil {
		return err
	}
	n, err := d.check(v, start, count, true)
	if err != nil || n == 0 {
		return err
	}
	size := v.typ.Size()
	if len(data) < n*size {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, n*size, len(data))
	}

	off := 0
	err = d.forEachRun(v, start, count, func(rec, elem, run int) error {
		nb := run * size
		if err := d.writeRange(ctx, v, rec, elem*size, data[off:off+nb]); err != nil {
			return err
		}
		off += nb
		return nil
	})
	if err != nil {
		return err
	}
	if v.record {
		d.numRecs = max(d.numRecs, start[0]+count[0])
	}
	d.stats.Puts++
	d.stats.BytesWritten += int64(n * size)
	return nil
}

// get reads one hyperslab into dst.
func (d *Dataset) get(ctx context.Context, varid int, start, count []int, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.variable(varid)
	if err != nil {
		return err
	}
	n, err := d.check(v, start, count, false)
	if err != nil || n == 0 {
		return err
	}
	size := v.typ.Size()
	if len(dst) < n*size {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, n*size, len(dst))
	}

	off := 0
	err = d.forEachRun(v, start, count, func(rec, elem, run int) error {
		nb := run * size
		if err := d.readRange(ctx, v, rec, elem*size, dst[off:off+nb]); err != nil {
			return err
		}
		off += nb
		return nil
	})
	if err != nil {
		return err
	}
	d.stats.Gets++
	d.stats.BytesRead += int64(n * size)
	return nil
}

// forEachRun calls fn for each contiguous run of the hyperslab in row-major
// order, with the record index, the element offset of the run within the
// record and the run length in elements.
func (d *Dataset) forEachRun(v *variable, start, count []int, fn func(rec, elem, run int) error) error {
	shape := d.slab(v)
	recStart, recCount := 0, 1
	if v.record {
		recStart, recCount = start[0], count[0]
		start, count = start[1:], count[1:]
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}

	for rec := recStart; rec < recStart+recCount; rec++ {
		if len(shape) == 0 {
			if err := fn(rec, 0, 1); err != nil {
				return err
			}
			continue
		}
		last := len(shape) - 1
		idx := make([]int, last)
		for {
			elem := start[last]
			for i := 0; i < last; i++ {
				elem += (start[i] + idx[i]) * strides[i]
			}
			if err := fn(rec, elem, count[last]); err != nil {
				return err
			}
			i := last - 1
			for ; i >= 0; i-- {
				idx[i]++
				if idx[i] < count[i] {
					break
				}
				idx[i] = 0
			}
			if i < 0 {
				break
			}
		}
	}
	return nil
}

func (d *Dataset) blockKey(v *variable, rec, block int) string {
	return fmt.Sprintf("%s/v%d/r%d/b%d", d.id, v.id, rec, block)
}

func (d *Dataset) newBlock(v *variable) []byte {
	size := v.typ.Size()
	b := make([]byte, d.blockElems*size)
	if v.noFill {
		return b
	}
	fill := v.fillValue()
	for i := 0; i < len(b); i += size {
		copy(b[i:], fill)
	}
	return b
}

func (d *Dataset) loadBlock(ctx context.Context, v *variable, key string) ([]byte, error) {
	b, err := d.store.ReadBlock(ctx, key)
	if errors.Is(err, store.ErrBlockNotFound) {
		return d.newBlock(v), nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (d *Dataset) writeRange(ctx context.Context, v *variable, rec, off int, data []byte) error {
	blockBytes := d.blockElems * v.typ.Size()
	for len(data) > 0 {
		block, inner := off/blockBytes, off%blockBytes
		key := d.blockKey(v, rec, block)
		b, err := d.loadBlock(ctx, v, key)
		if err != nil {
			return err
		}
		n := copy(b[inner:], data)
		if err := d.store.WriteBlock(ctx, key, b); err != nil {
			return err
		}
		data = data[n:]
		off += n
	}
	return nil
}

func (d *Dataset) readRange(ctx context.Context, v *variable, rec, off int, dst []byte) error {
	blockBytes := d.blockElems * v.typ.Size()
	for len(dst) > 0 {
		block, inner := off/blockBytes, off%blockBytes
		b, err := d.loadBlock(ctx, v, d.blockKey(v, rec, block))
		if err != nil {
			return err
		}
		n := copy(dst, b[inner:])
		dst = dst[n:]
		off += n
	}
	return nil
}
