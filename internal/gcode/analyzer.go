package gcode

import (
	"bufio"
	"fmt"
	"io"
	"math"
)

// Tracker follows the modal distance state and running commanded position of
// a program, line by line. It is pure and reentrant; both the bounding-box
// analyzer and the Z-compensation rewriter drive one.
type Tracker struct {
	// Absolute is the active distance mode. Programs start in absolute
	// mode (G90) by convention.
	Absolute bool

	// X, Y, Z is the running commanded position.
	X, Y, Z float64
}

// NewTracker returns a Tracker in absolute mode at the origin.
func NewTracker() *Tracker {
	return &Tracker{Absolute: true}
}

// Apply updates the modal state and running position from a parsed line and
// reports whether the line commanded any axis motion. Inert lines change
// nothing; machine-coordinate lines update the mode words they carry but do
// not move the tracked position, since G53 motion targets a different frame.
func (t *Tracker) Apply(ln Line) (moved bool) {
	if ln.Inert {
		return false
	}
	for _, w := range ln.Words {
		if absolute, ok := w.IsModeSwitch(); ok {
			t.Absolute = absolute
		}
	}
	if ln.MachineCoords {
		return false
	}
	for _, w := range ln.Words {
		switch w.Letter {
		case 'X':
			t.X = t.apply(t.X, w.Value)
			moved = true
		case 'Y':
			t.Y = t.apply(t.Y, w.Value)
			moved = true
		case 'Z':
			t.Z = t.apply(t.Z, w.Value)
			moved = true
		}
	}
	return moved
}

func (t *Tracker) apply(current, value float64) float64 {
	if t.Absolute {
		return value
	}
	return current + value
}

// Box is an axis-aligned bounding box over program travel. Axes never
// touched by a coordinate word resolve to zero.
type Box struct {
	MinX, MinY, MinZ float64
	MaxX, MaxY, MaxZ float64
}

// Bounds computes the bounding box of all travel commanded by the program.
// Comment and percent lines are inert, machine-coordinate lines are excluded
// from accumulation, and absolute/incremental mode switches mid-program are
// honoured.
func Bounds(r io.Reader) (Box, error) {
	tracker := NewTracker()

	minX, minY, minZ := math.Inf(1), math.Inf(1), math.Inf(1)
	maxX, maxY, maxZ := math.Inf(-1), math.Inf(-1), math.Inf(-1)

	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scan.Scan() {
		ln := ParseLine(scan.Text())
		if !tracker.Apply(ln) {
			continue
		}
		minX = math.Min(minX, tracker.X)
		maxX = math.Max(maxX, tracker.X)
		minY = math.Min(minY, tracker.Y)
		maxY = math.Max(maxY, tracker.Y)
		minZ = math.Min(minZ, tracker.Z)
		maxZ = math.Max(maxZ, tracker.Z)
	}
	if err := scan.Err(); err != nil {
		return Box{}, fmt.Errorf("failed to read program: %w", err)
	}

	// axes never seen resolve to zero
	box := Box{MinX: minX, MinY: minY, MinZ: minZ, MaxX: maxX, MaxY: maxY, MaxZ: maxZ}
	if math.IsInf(box.MinX, 1) {
		box.MinX = 0
	}
	if math.IsInf(box.MinY, 1) {
		box.MinY = 0
	}
	if math.IsInf(box.MinZ, 1) {
		box.MinZ = 0
	}
	if math.IsInf(box.MaxX, -1) {
		box.MaxX = 0
	}
	if math.IsInf(box.MaxY, -1) {
		box.MaxY = 0
	}
	if math.IsInf(box.MaxZ, -1) {
		box.MaxZ = 0
	}
	return box, nil
}

// Width returns the X extent of the box.
func (b Box) Width() float64 { return b.MaxX - b.MinX }

// Height returns the Y extent of the box.
func (b Box) Height() float64 { return b.MaxY - b.MinY }
