package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every structural chain failure.
	ErrValidation = errors.New("chain validation failed")
	// ErrPersistence wraps storage read/write failures.
	ErrPersistence = errors.New("persistence failure")
	// ErrFetch wraps failures of the remote chain source.
	ErrFetch = errors.New("fetch failure")
	// ErrPrecondition is returned when an operation is called in a state it
	// does not support, such as appending to an empty chain.
	ErrPrecondition = errors.New("precondition failure")
	// ErrInvalidPost is returned for posts that cannot be recorded.
	ErrInvalidPost = errors.New("invalid post")
	// ErrMediaTooLarge is returned for media payloads over MaxMediaSize.
	ErrMediaTooLarge = errors.New("media exceeds size limit")
)

// Reasons carried by a ValidationError.
var (
	ErrBadGenesis       = errors.New("invalid genesis block")
	ErrIndexGap         = errors.New("non contiguous index")
	ErrHashMismatch     = errors.New("hash does not match contents")
	ErrBrokenLink       = errors.New("previous hash does not match")
	ErrInsufficientWork = errors.New("hash does not meet difficulty")
)

// ValidationError reports the first block of a chain that failed validation.
type ValidationError struct {
	Index  int
	Reason error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("block %d invalid: %v", e.Index, e.Reason)
	}
	return fmt.Sprintf("block %d invalid: %v: %s", e.Index, e.Reason, e.Detail)
}

// Unwrap lets errors.Is match both ErrValidation and the specific reason.
func (e *ValidationError) Unwrap() []error {
	return []error{ErrValidation, e.Reason}
}

// FailedIndex returns the chain position carried by err, if any.
func FailedIndex(err error) (int, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Index, true
	}
	return 0, false
}
