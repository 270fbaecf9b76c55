package probe

import (
	"errors"
	"fmt"
)

// ErrStopped is returned when a run terminates because a cooperative stop
// was requested. The mesh built so far is still returned alongside it.
var ErrStopped = errors.New("probing run stopped by request")

// ValidationError reports a bad configuration value. It is always returned
// before any motion command has been issued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ProbeMissError reports a fault-checked plunge that found no contact, or a
// lateral move that exceeded the bounce limit. Both are fatal to the run.
type ProbeMissError struct {
	Row    int
	Col    int
	Reason string
}

func (e *ProbeMissError) Error() string {
	return fmt.Sprintf("probe miss at grid point (%d,%d): %s", e.Row, e.Col, e.Reason)
}
