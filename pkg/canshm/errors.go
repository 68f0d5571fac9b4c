package canshm

import "errors"

// Error classification.
//
// Implementations MAY wrap these errors with additional context via
// fmt.Errorf("...: %w", err). Callers MUST classify errors using
// errors.Is.
var (
	// ErrInvalidID indicates a CanId outside [0, CanIDMax], or (for
	// VariantPerfectHash) a CanId outside the admissible set.
	ErrInvalidID = errors.New("canshm: invalid can id")
	// ErrInvalidParam indicates a malformed DLC or payload argument.
	ErrInvalidParam = errors.New("canshm: invalid parameter")
	// ErrNotFound indicates Get/Delete found no record for the key.
	ErrNotFound = errors.New("canshm: not found")
	// ErrTimeout indicates a Subscribe/SubscribeOnce deadline elapsed
	// before a matching update arrived.
	ErrTimeout = errors.New("canshm: timeout")
	// ErrFull indicates the linear-probing table has no empty or
	// tombstoned slot left on the full probe sequence.
	ErrFull = errors.New("canshm: table full")
	// ErrBusy indicates a seqlock reader exceeded its retry budget.
	ErrBusy = errors.New("canshm: busy")
	// ErrMutexFailed indicates a lock-primitive syscall failed.
	ErrMutexFailed = errors.New("canshm: mutex failed")
	// ErrInitFailed indicates region attach/map failed at the OS level.
	ErrInitFailed = errors.New("canshm: init failed")
	// ErrCorrupt indicates the region header or bucket table failed a
	// consistency check (bad magic, bad CRC, broken invariant).
	ErrCorrupt = errors.New("canshm: corrupt")
	// ErrIncompatible indicates the region was created with options
	// (bucket count, variant) that differ from the ones requested.
	ErrIncompatible = errors.New("canshm: incompatible")
	// ErrClosed indicates an operation on a Store whose Close already
	// ran.
	ErrClosed = errors.New("canshm: closed")
)

// Code is the legacy integer result code from the original API.
type Code int32

// Legacy result codes, preserved for callers that want the original
// CANShmResult mapping instead of Go errors.
const (
	CodeSuccess      Code = 0
	CodeInvalidID    Code = -1
	CodeNotFound     Code = -2
	CodeTimeout      Code = -3
	CodeInvalidParam Code = -4
	CodeInitFailed   Code = -5
	CodeMutexFailed  Code = -6
)

// CodeOf maps err onto the legacy integer result code. Unrecognized
// non-nil errors map to CodeMutexFailed, matching the original's use
// of MutexFailed as its catch-all failure code.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeSuccess
	case errors.Is(err, ErrInvalidID):
		return CodeInvalidID
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrInvalidParam), errors.Is(err, ErrFull):
		return CodeInvalidParam
	case errors.Is(err, ErrInitFailed), errors.Is(err, ErrCorrupt), errors.Is(err, ErrIncompatible):
		return CodeInitFailed
	default:
		return CodeMutexFailed
	}
}
