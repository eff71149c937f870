package handshake

import (
	"errors"
	"fmt"
)

// Process exit codes of the handshake. Zero is reserved for a solver-requested stop.
const (
	ExitStopped           = 0
	ExitProtocolViolation = 1
	ExitPipeFailure       = 2
	ExitIngestFailure     = 3
)

// ExitError asks the caller to end the process with Code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit %d", e.Code)
	}
	return fmt.Sprintf("exit %d: %v", e.Code, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

var errStopRequested = errors.New("solver requested stop")

func stopRequested() error {
	return &ExitError{Code: ExitStopped, Err: errStopRequested}
}

// IsStop reports whether err is the solver's graceful stop.
func IsStop(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr) && exitErr.Code == ExitStopped
}
