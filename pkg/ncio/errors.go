package ncio

import "errors"

var (
	ErrBadVarID     = errors.New("ncio: invalid variable id")
	ErrBadDimID     = errors.New("ncio: invalid dimension id")
	ErrNameInUse    = errors.New("ncio: name already in use")
	ErrBadType      = errors.New("ncio: invalid element type")
	ErrRecordDim    = errors.New("ncio: record dimension must be the first dimension")
	ErrEdge         = errors.New("ncio: start+count exceeds dimension bound")
	ErrShape        = errors.New("ncio: start/count rank does not match variable")
	ErrShortBuffer  = errors.New("ncio: buffer smaller than requested hyperslab")
	ErrNotRoot      = errors.New("ncio: serial access is only allowed on I/O task 0")
	ErrBadRequest   = errors.New("ncio: unknown request id")
	ErrClosed       = errors.New("ncio: handle closed")
	ErrModeMismatch = errors.New("ncio: operation not supported in this access mode")
)
