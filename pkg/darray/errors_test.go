package darray

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marmos91/darrayio/pkg/bufpool"
)

func TestError(t *testing.T) {
	err := newError("flush", "out.nc", 3, 7, ErrBackend).withBytes(512)
	assert.ErrorIs(t, err, ErrBackend)
	assert.Equal(t, "darray flush: backend failure (file=out.nc, var=3, ioid=7, bytes=512)", err.Error())
}

func TestBackendErr(t *testing.T) {
	assert.NoError(t, backendErr(nil))

	cause := errors.New("short write")
	err := backendErr(cause)
	assert.ErrorIs(t, err, ErrBackend)
	assert.ErrorIs(t, err, cause)
	assert.Same(t, err, backendErr(err))
}

func TestAllocErr(t *testing.T) {
	err := allocErr(fmt.Errorf("%w: 10 bytes", bufpool.ErrExhausted))
	assert.ErrorIs(t, err, ErrPoolExhausted)

	other := errors.New("negative allocation")
	assert.Equal(t, other, allocErr(other))
}
