// Package machine is the boundary to the motion controller: a textual
// command sink, a machine state source, and the canonical position type the
// rest of the system works in. A GRBL serial implementation and an
// in-memory simulator both satisfy the same interfaces.
package machine

import (
	"context"
	"errors"
	"fmt"
)

// ErrPositionUnavailable is returned when a status report carries neither a
// work position nor a machine position to resolve one from.
var ErrPositionUnavailable = errors.New("no resolvable position in machine state")

// AlarmError reports a machine alarm observed while polling status or
// executing a command. Alarms are fatal to a probing run.
type AlarmError struct {
	Code string
}

func (e *AlarmError) Error() string {
	if e.Code == "" {
		return "machine alarm"
	}
	return fmt.Sprintf("machine alarm: %s", e.Code)
}

// Position is a canonical tool location in the work frame.
type Position struct {
	X, Y, Z float64
}

// Sub returns p translated by -o, converting a machine position to a work
// position given the work-coordinate offset.
func (p Position) Sub(o Position) Position {
	return Position{X: p.X - o.X, Y: p.Y - o.Y, Z: p.Z - o.Z}
}

// ProbeSample is the machine's record of its most recent probe cycle: where
// the probe tripped and whether contact actually occurred.
type ProbeSample struct {
	Position
	Success bool
}

// State is the machine run-state category.
type State int

const (
	StateOther State = iota
	StateIdle
	StateRun
	StateAlarm
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRun:
		return "Run"
	case StateAlarm:
		return "Alarm"
	}
	return "Other"
}

// Report is one observation of machine state. Position may arrive in any of
// three shapes: work position directly, machine position with a
// work-coordinate offset, or machine position alone. Resolve collapses the
// variant into a single canonical Position.
type Report struct {
	State State

	// Work is the work-frame position, when reported directly.
	Work *Position

	// Machine is the machine-frame position.
	Machine *Position

	// Offset is the work-coordinate offset (work = machine - offset).
	Offset *Position

	// ProbeTriggered is true while the probe input pin is active.
	ProbeTriggered bool

	// Probe is the most recent probe-cycle result, if any has been seen.
	Probe *ProbeSample

	// Raw is the status line the report was parsed from.
	Raw string
}

// Resolve returns the canonical work-frame position, preferring the work
// position, then machine position corrected by the offset, then machine
// position alone.
func (r Report) Resolve() (Position, error) {
	switch {
	case r.Work != nil:
		return *r.Work, nil
	case r.Machine != nil && r.Offset != nil:
		return r.Machine.Sub(*r.Offset), nil
	case r.Machine != nil:
		return *r.Machine, nil
	}
	return Position{}, ErrPositionUnavailable
}

// Commander accepts a single textual motion command with an identifying tag
// and reports success or a structured error. Implementations block until
// the controller has accepted (not necessarily completed) the command.
type Commander interface {
	Send(ctx context.Context, command, tag string) error
}

// StatusSource reports the machine's current state.
type StatusSource interface {
	Status(ctx context.Context) (Report, error)
}

// Machine is the full motion-controller boundary.
type Machine interface {
	Commander
	StatusSource
}
