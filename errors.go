package social

import (
	"errors"
	"fmt"
)

// Error taxonomy. Validation failures are synchronous and never retried;
// ErrStoreUnavailable wraps adapter transport failures without any retry
// inside this package (retry policy belongs to the caller).
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
	ErrPermissionDenied = errors.New("permission denied")
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrSessionClosed is returned by feed session operations after Close.
	ErrSessionClosed = errors.New("feed session closed")
	// ErrLoadInProgress is returned when LoadMore is called while a
	// previous LoadMore on the same session has not resolved.
	ErrLoadInProgress = errors.New("load already in progress")
)

// PartialWriteError reports that one side of a two-record edge mutation
// committed and the other did not. The committed side is NOT rolled back;
// the caller decides whether to retry only the failed side or hand the
// asymmetric edge to a reconciliation job.
type PartialWriteError struct {
	Op          string // "connect" or "disconnect"
	CommittedID string // profile whose edge list was written
	FailedID    string // profile whose write failed
	Err         error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial %s: wrote %s, failed %s: %v", e.Op, e.CommittedID, e.FailedID, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

// IsPartialWrite reports whether err is a PartialWriteError and returns it.
func IsPartialWrite(err error) (*PartialWriteError, bool) {
	var pw *PartialWriteError
	if errors.As(err, &pw) {
		return pw, true
	}
	return nil, false
}

// storeErr wraps an adapter failure into the ErrStoreUnavailable class,
// keeping the driver error visible through errors.Unwrap. Errors already
// classified by the taxonomy pass through unchanged.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
