package runs

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when a run id is not in the running set.
var ErrNotFound = errors.New("run not found")

// ValidationError is a rejected RunConfig. Nothing has been changed when it
// is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (err *ValidationError) Error() string {
	if err.Field == "" {
		return err.Message
	}
	return fmt.Sprintf("invalid %s: %s", err.Field, err.Message)
}

// ConflictError is returned when a run of the same class is already running
// or reserved.
type ConflictError struct {
	Class     TestClass
	RunningID string
}

func (err *ConflictError) Error() string {
	return fmt.Sprintf("a %s test is already running (id %s)", err.Class, err.RunningID)
}

// SpawnError means the load generator could not be launched. The run is
// still recorded as finished/failed under RunID.
type SpawnError struct {
	RunID string
	Cause error
}

func (err *SpawnError) Error() string {
	return fmt.Sprintf("failed to start run %s: %v", err.RunID, err.Cause)
}

func (err *SpawnError) Unwrap() error {
	return err.Cause
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
