package machine

import (
	"context"
	"fmt"
	"sync"

	"github.com/siganberg/meshlevel/internal/gcode"
)

// SimReportMode selects which position shape the simulator's status reports
// carry, mirroring the three representations real controllers use.
type SimReportMode int

const (
	// SimWorkPosition reports the work position directly.
	SimWorkPosition SimReportMode = iota
	// SimMachineWithOffset reports machine position plus work offset.
	SimMachineWithOffset
	// SimMachineOnly reports machine position with no offset.
	SimMachineOnly
	// SimNoPosition reports no position at all.
	SimNoPosition
)

// SimCommand records one command accepted by the simulator.
type SimCommand struct {
	Command string
	Tag     string
}

// Simulator is an in-memory Machine backed by a surface height function.
// Probe-class moves halt where the tool meets the surface; motions complete
// instantly, so status reports are always settled.
type Simulator struct {
	mu sync.Mutex

	// Surface returns the surface height at (x, y) in the work frame.
	Surface func(x, y float64) float64

	// ReportMode selects the position shape of status reports.
	ReportMode SimReportMode

	// WCO is the work-coordinate offset applied in SimMachineWithOffset
	// reports.
	WCO Position

	pos       Position
	triggered bool
	probe     *ProbeSample
	alarm     bool

	// Commands holds every accepted command in order.
	Commands []SimCommand
}

// NewSimulator returns a simulator with the tool at start, above a surface
// described by height fn. A nil fn means a perfectly flat surface at z = 0.
func NewSimulator(surface func(x, y float64) float64, start Position) *Simulator {
	if surface == nil {
		surface = func(x, y float64) float64 { return 0 }
	}
	return &Simulator{Surface: surface, pos: start}
}

// TriggerAlarm puts the simulator into the alarm state.
func (s *Simulator) TriggerAlarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alarm = true
}

// Pos returns the simulated tool position.
func (s *Simulator) Pos() Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// contactScan walks the segment from s.pos toward target looking for the
// first sample where the tool is at or below the surface. It reports whether
// contact occurred and the position at which it did. A purely vertical move
// lands exactly on the surface; a lateral move stops against it with the
// tool's Z unchanged.
func (s *Simulator) contactScan(target Position) (Position, bool) {
	const steps = 10000
	from := s.pos
	vertical := target.X == from.X && target.Y == from.Y
	for i := 1; i <= steps; i++ {
		t := float64(i) / steps
		p := Position{
			X: from.X + (target.X-from.X)*t,
			Y: from.Y + (target.Y-from.Y)*t,
			Z: from.Z + (target.Z-from.Z)*t,
		}
		if h := s.Surface(p.X, p.Y); p.Z <= h {
			if vertical {
				p.Z = h
			}
			return p, true
		}
	}
	return target, false
}

// Send parses and executes a single motion command. Probe-toward commands
// (G38.3) stop silently on contact; probe-toward-with-error (G38.2) returns
// an error when the move completes without contact. Linear moves (G1) are
// unconditional.
func (s *Simulator) Send(ctx context.Context, command, tag string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Commands = append(s.Commands, SimCommand{Command: command, Tag: tag})
	if s.alarm {
		return &AlarmError{Code: "sim"}
	}

	ln := gcode.ParseLine(command)
	var motion string
	target := s.pos
	for _, w := range ln.Words {
		switch w.Letter {
		case 'G':
			switch w.Raw {
			case "38.2", "38.3", "1":
				motion = w.Raw
			}
		case 'X':
			target.X = w.Value
		case 'Y':
			target.Y = w.Value
		case 'Z':
			target.Z = w.Value
		}
	}

	switch motion {
	case "38.2", "38.3":
		hit, contact := s.contactScan(target)
		s.pos = hit
		s.triggered = contact
		s.probe = &ProbeSample{Position: hit, Success: contact}
		if !contact && motion == "38.2" {
			return fmt.Errorf("command %s failed: probe cycle found no contact", tag)
		}
		return nil
	case "1":
		s.pos = target
		s.triggered = s.Surface(target.X, target.Y) >= target.Z
		return nil
	}
	// mode words and other non-motion commands are accepted silently
	return nil
}

// Status reports the simulator's settled state in the configured shape.
func (s *Simulator) Status(ctx context.Context) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.alarm {
		return Report{State: StateAlarm}, nil
	}

	rep := Report{
		State:          StateIdle,
		ProbeTriggered: s.triggered,
		Probe:          s.probe,
	}
	switch s.ReportMode {
	case SimWorkPosition:
		p := s.pos
		rep.Work = &p
	case SimMachineWithOffset:
		m := Position{X: s.pos.X + s.WCO.X, Y: s.pos.Y + s.WCO.Y, Z: s.pos.Z + s.WCO.Z}
		o := s.WCO
		rep.Machine = &m
		rep.Offset = &o
	case SimMachineOnly:
		p := s.pos
		rep.Machine = &p
	}
	return rep, nil
}
