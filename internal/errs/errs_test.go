package errs_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachecore/cachecore/internal/errs"
)

func TestIs_MatchesByCode(t *testing.T) {
	err := errs.New("read_pt", errs.CodeCoreIOError, "device offline")
	assert.True(t, errs.Is(err, errs.CodeCoreIOError))
	assert.False(t, errs.Is(err, errs.CodeLockError))
}

func TestWrap_PreservesInnerViaUnwrap(t *testing.T) {
	inner := errors.New("disk full")
	wrapped := errs.Wrap("submit", errs.CodeIOError, inner)

	require.ErrorIs(t, wrapped, inner)
	assert.Equal(t, inner, errors.Unwrap(wrapped))
}

func TestWithPartitionAndQueue_AnnotateWithoutMutatingCode(t *testing.T) {
	err := errs.New("handle_request", errs.CodeInvalid, "no handler registered").
		WithPartition(7).
		WithQueue(2)

	assert.Equal(t, uint32(7), err.PartID)
	assert.Equal(t, 2, err.Queue)
	assert.True(t, errs.Is(err, errs.CodeInvalid))
}

func TestIs_NonErrsErrorNeverMatches(t *testing.T) {
	assert.False(t, errs.Is(errors.New("plain"), errs.CodeInvalid))
	assert.False(t, errs.Is(nil, errs.CodeInvalid))
}
