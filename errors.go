package cachecore

import "github.com/cachecore/cachecore/internal/errs"

// Error is the structured error type every cachecore operation returns.
// It is an alias of internal/errs.Error so the internal dispatch,
// pass-through, and parallelize packages share one concrete type with
// this public package.
type Error = errs.Error

// Code categorizes an Error.
type Code = errs.Code

const (
	// CodeInvalid: no handler registered for the requested
	// (mode, direction); returned synchronously from entry points.
	CodeInvalid = errs.CodeInvalid
	// CodeNoMem: parallelizer allocation failure.
	CodeNoMem = errs.CodeNoMem
	// CodeLockError: async lock returned a negative status; the request
	// completes with that status, no retry.
	CodeLockError = errs.CodeLockError
	// CodeCoreIOError: the core device returned an error; propagated via
	// complete and feeds the fallback-pt error counter.
	CodeCoreIOError = errs.CodeCoreIOError
	// CodeCleanError: clean submission failed; propagated, no retry.
	CodeCleanError = errs.CodeCleanError
	// CodeIOError is the catch-all I/O error category.
	CodeIOError = errs.CodeIOError
)

// IsCode reports whether err is a *Error carrying code.
func IsCode(err error, code Code) bool {
	return errs.Is(err, code)
}
