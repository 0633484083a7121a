package transfer

import (
	"errors"
	"fmt"
)

// ErrIdleTimeout is returned by Receive when no chunk arrived within the idle timeout.
var ErrIdleTimeout = errors.New("transfer: no chunk received within idle timeout")

// AbortError is returned by Send when a chunk was not acknowledged
// after the maximum number of attempts.
type AbortError struct {
	Index    uint64
	Attempts int
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("transfer aborted: chunk %d not acknowledged after %d attempts", e.Index, e.Attempts)
}

// IsAbort reports whether err is an AbortError.
func IsAbort(err error) bool {
	var e *AbortError
	return errors.As(err, &e)
}
