// Package probe implements the adaptive surface-probing controller: a
// bounce-on-hit lateral navigation state machine that visits every point of
// a probing grid and captures its surface height, using only probe-class
// motion. It never issues an unconditional rapid move, so an unexpected
// surface feature stops the tool instead of breaking it.
package probe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/siganberg/meshlevel/internal/logging"
	"github.com/siganberg/meshlevel/internal/machine"
	"github.com/siganberg/meshlevel/internal/mesh"
	"github.com/siganberg/meshlevel/internal/timeutil"
)

// Defaults for parameters the operator usually leaves alone.
const (
	// DefaultTolerance is the per-axis distance within which a lateral
	// move counts as having reached its target.
	DefaultTolerance = 0.1

	// DefaultPollInterval is the status polling cadence while waiting
	// for motion to settle.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultPollTimeout bounds a single settle wait. Exceeding it is a
	// logged warning, not an error.
	DefaultPollTimeout = 10 * time.Second

	// DefaultMaxBounces caps bounce retries per lateral move so a
	// pathological surface cannot consume machine time indefinitely.
	DefaultMaxBounces = 50

	// descentClearance is the reduced retract used when the surface is
	// descending: the surface ahead is lower, so minimal headroom
	// suffices.
	descentClearance = 1.0
)

// Params configures a probing run. All values are validated before any
// motion command is issued.
type Params struct {
	// Grid is the probing grid geometry. When AnchorToStart is set its
	// start corner is repositioned to the live machine position read
	// immediately before probing begins.
	Grid          mesh.GridParams
	AnchorToStart bool

	// ProbeFeed is the plunge feed rate; TravelFeed the lateral and
	// retract feed rate.
	ProbeFeed  float64
	TravelFeed float64

	// Clearance is the vertical margin kept above the last measured
	// surface height during lateral travel.
	Clearance float64

	// MaxPlunge bounds how far a plunge may descend before it is treated
	// as a miss.
	MaxPlunge float64

	// Tolerance, PollInterval, PollTimeout, and MaxBounces fall back to
	// the package defaults when zero.
	Tolerance    float64
	PollInterval time.Duration
	PollTimeout  time.Duration
	MaxBounces   int
}

func finitePositive(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("must be a positive finite number, got %g", v)}
	}
	return nil
}

func (p *Params) validate() error {
	if err := p.Grid.Validate(); err != nil {
		return &ValidationError{Field: "grid", Reason: err.Error()}
	}
	if err := finitePositive("probe feed rate", p.ProbeFeed); err != nil {
		return err
	}
	if err := finitePositive("travel feed rate", p.TravelFeed); err != nil {
		return err
	}
	if err := finitePositive("clearance height", p.Clearance); err != nil {
		return err
	}
	if err := finitePositive("max plunge", p.MaxPlunge); err != nil {
		return err
	}
	if math.IsNaN(p.Tolerance) || math.IsInf(p.Tolerance, 0) || p.Tolerance < 0 {
		return &ValidationError{Field: "tolerance", Reason: fmt.Sprintf("must be a non-negative finite number, got %g", p.Tolerance)}
	}
	if p.Tolerance == 0 {
		p.Tolerance = DefaultTolerance
	}
	if p.PollInterval <= 0 {
		p.PollInterval = DefaultPollInterval
	}
	if p.PollTimeout <= 0 {
		p.PollTimeout = DefaultPollTimeout
	}
	if p.MaxBounces <= 0 {
		p.MaxBounces = DefaultMaxBounces
	}
	return nil
}

// Phase names the controller's observable step, for progress reporting.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhasePositioning    Phase = "positioning"
	PhaseBounced        Phase = "bounced"
	PhasePrePlungeClear Phase = "pre-plunge-clear"
	PhasePlunging       Phase = "plunging"
	PhaseRecording      Phase = "recording"
	PhaseRetracting     Phase = "retracting"
	PhaseCompleted      Phase = "completed"
	PhaseAborted        Phase = "aborted"
)

// Progress is a snapshot of a run's position in the grid.
type Progress struct {
	Phase     Phase `json:"phase"`
	Row       int   `json:"row"`
	Col       int   `json:"col"`
	Completed int   `json:"completed"`
	Total     int   `json:"total"`
}

// PointResult is delivered to the point callback after each capture.
type PointResult struct {
	Row, Col int
	X, Y, Z  float64
}

// Option customises a Controller.
type Option func(*Controller)

// WithLogger sets the run logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Controller) { c.log = log }
}

// WithClock substitutes the clock used by settle-wait polling.
func WithClock(clock timeutil.Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithPointCallback registers a callback invoked after every captured point.
func WithPointCallback(fn func(PointResult)) Option {
	return func(c *Controller) { c.onPoint = fn }
}

// Controller runs one adaptive probing pass over a grid. A Controller is
// good for a single Run; only one may be active against a given machine at
// a time, enforced by the caller.
type Controller struct {
	machine machine.Machine
	params  Params
	clock   timeutil.Clock
	log     *zap.SugaredLogger
	onPoint func(PointResult)

	stopFlag atomic.Bool

	mu       sync.Mutex
	progress Progress
}

// New validates params and returns a Controller ready to Run.
func New(m machine.Machine, params Params, opts ...Option) (*Controller, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		machine: m,
		params:  params,
		clock:   timeutil.RealClock{},
		log:     logging.Nop(),
	}
	c.progress = Progress{Phase: PhaseIdle, Total: params.Grid.Rows * params.Grid.Cols}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Stop requests a cooperative stop. It is checked only between points and
// major steps; an in-flight motion command always runs to completion.
func (c *Controller) Stop() {
	c.stopFlag.Store(true)
}

// Progress returns a snapshot of the run's progress.
func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.progress.Phase = p
	c.mu.Unlock()
}

func (c *Controller) setPoint(row, col int) {
	c.mu.Lock()
	c.progress.Row = row
	c.progress.Col = col
	c.mu.Unlock()
}

func (c *Controller) markCompleted() {
	c.mu.Lock()
	c.progress.Completed++
	c.mu.Unlock()
}

func (c *Controller) stopRequested(ctx context.Context) bool {
	return c.stopFlag.Load() || ctx.Err() != nil
}

// runState is the controller's mutable per-run bookkeeping. It exists only
// for the duration of a Run.
type runState struct {
	lastProbedZ float64
	rowHighest  float64
	meshHighest float64
}

// Run executes the probing pass and returns the populated mesh. On a stop
// request it returns the partial mesh together with ErrStopped; on a fatal
// error the partial mesh is returned alongside the error.
func (c *Controller) Run(ctx context.Context) (m *mesh.SurfaceMesh, retErr error) {
	defer func() {
		switch {
		case retErr == nil:
			c.setPhase(PhaseCompleted)
		default:
			c.setPhase(PhaseAborted)
		}
	}()

	// absolute distance mode for every coordinate this run issues
	if err := c.send(ctx, "G90", "distance-mode"); err != nil {
		return nil, err
	}

	rep, err := c.waitSettled(ctx)
	if err != nil {
		return nil, err
	}
	start, err := rep.Resolve()
	if err != nil {
		return nil, fmt.Errorf("starting position: %w", err)
	}

	grid := c.params.Grid
	if c.params.AnchorToStart {
		grid = grid.Anchor(start.X, start.Y)
	}
	m, err = mesh.New(grid)
	if err != nil {
		return nil, &ValidationError{Field: "grid", Reason: err.Error()}
	}

	c.log.Infow("probing run starting",
		"rows", grid.Rows, "cols", grid.Cols,
		"startX", grid.StartX, "startY", grid.StartY,
		"spacingX", grid.SpacingX, "spacingY", grid.SpacingY)

	st := &runState{
		lastProbedZ: start.Z,
		rowHighest:  math.Inf(-1),
		meshHighest: math.Inf(-1),
	}

	for row := 0; row < grid.Rows; row++ {
		for col := 0; col < grid.Cols; col++ {
			if c.stopRequested(ctx) {
				return m, ErrStopped
			}
			c.setPoint(row, col)
			x, y := grid.PointAt(row, col)

			switch {
			case row == 0 && col == 0:
				// an anchored grid starts under the tool; a pre-positioned
				// grid needs bounce-protected travel to its start corner
				// before anything is measured
				if math.Abs(start.X-x) > c.params.Tolerance {
					if err := c.lateralProbe(ctx, row, col, 'X', x); err != nil {
						return m, err
					}
				}
				if math.Abs(start.Y-y) > c.params.Tolerance {
					if err := c.lateralProbe(ctx, row, col, 'Y', y); err != nil {
						return m, err
					}
				}
			case col == 0:
				// new row: clear the row's highest measured surface first,
				// or a mid-row peak would be struck on the way back
				clearTo := math.Max(st.rowHighest, st.lastProbedZ) + c.params.Clearance
				if err := c.linearRetract(ctx, clearTo); err != nil {
					return m, err
				}
				st.rowHighest = math.Inf(-1)
				if err := c.lateralProbe(ctx, row, col, 'X', grid.StartX); err != nil {
					return m, err
				}
				if err := c.lateralProbe(ctx, row, col, 'Y', y); err != nil {
					return m, err
				}
			default:
				if err := c.lateralProbe(ctx, row, col, 'X', x); err != nil {
					return m, err
				}
			}

			z, err := c.plunge(ctx, row, col)
			if err != nil {
				return m, err
			}

			c.setPhase(PhaseRecording)
			m.SetZ(row, col, z)

			// a descending surface is further away from the tool path, so a
			// minimal retract suffices; ascending surfaces get full headroom
			retractTo := z + c.params.Clearance
			if z < st.lastProbedZ {
				retractTo = z + descentClearance
			}
			if err := c.linearRetract(ctx, retractTo); err != nil {
				return m, err
			}

			st.lastProbedZ = z
			st.rowHighest = math.Max(st.rowHighest, z)
			st.meshHighest = math.Max(st.meshHighest, z)
			c.markCompleted()
			c.log.Infow("captured point", "row", row, "col", col, "x", x, "y", y, "z", z)
			if c.onPoint != nil {
				c.onPoint(PointResult{Row: row, Col: col, X: x, Y: y, Z: z})
			}
		}
	}

	// park above the highest measured surface and return to the start
	if err := c.linearRetract(ctx, st.meshHighest+c.params.Clearance); err != nil {
		return m, err
	}
	lastRow := grid.Rows - 1
	if err := c.lateralProbe(ctx, lastRow, 0, 'X', grid.StartX); err != nil {
		return m, err
	}
	if err := c.lateralProbe(ctx, lastRow, 0, 'Y', grid.StartY); err != nil {
		return m, err
	}
	c.log.Infow("probing run complete", "points", grid.Rows*grid.Cols)
	return m, nil
}

// send issues one command, classifying alarm responses.
func (c *Controller) send(ctx context.Context, command, tag string) error {
	if err := c.machine.Send(ctx, command, tag); err != nil {
		var alarm *machine.AlarmError
		if errors.As(err, &alarm) {
			return alarm
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w", tag, err)
	}
	return nil
}

// waitSettled polls machine status until it reports idle. An alarm observed
// during polling is fatal; a timeout without one is a logged warning and the
// controller proceeds optimistically with the last report.
func (c *Controller) waitSettled(ctx context.Context) (machine.Report, error) {
	deadline := c.clock.Now().Add(c.params.PollTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return machine.Report{}, err
		}
		rep, err := c.machine.Status(ctx)
		if err != nil {
			return rep, fmt.Errorf("status poll: %w", err)
		}
		if rep.State == machine.StateAlarm {
			return rep, &machine.AlarmError{Code: "reported during status poll"}
		}
		if rep.State == machine.StateIdle {
			return rep, nil
		}
		if c.clock.Now().After(deadline) {
			c.log.Warnw("timed out waiting for machine to settle, proceeding", "state", rep.State.String())
			return rep, nil
		}
		c.clock.Sleep(c.params.PollInterval)
	}
}

// position resolves the canonical position from a settled status report.
func (c *Controller) position(ctx context.Context) (machine.Position, machine.Report, error) {
	rep, err := c.waitSettled(ctx)
	if err != nil {
		return machine.Position{}, rep, err
	}
	pos, err := rep.Resolve()
	if err != nil {
		return machine.Position{}, rep, err
	}
	return pos, rep, nil
}

// lateralProbe moves one axis toward target with a probe-toward command,
// bouncing over any surface contact: retract just above the measured hit,
// then reissue the move, until the target is reached within tolerance. The
// measured contact height is the only ground truth available mid-probe, so
// retract targets always come from it, never from a nominal height.
func (c *Controller) lateralProbe(ctx context.Context, row, col int, axis byte, target float64) error {
	c.setPhase(PhasePositioning)
	for bounce := 0; ; bounce++ {
		if c.stopRequested(ctx) {
			return ErrStopped
		}
		cmd := fmt.Sprintf("G38.3 %c%.3f F%.1f", axis, target, c.params.TravelFeed)
		if err := c.send(ctx, cmd, fmt.Sprintf("lateral %c move", axis)); err != nil {
			return err
		}
		pos, _, err := c.position(ctx)
		if err != nil {
			return err
		}

		current := pos.X
		if axis == 'Y' {
			current = pos.Y
		}
		if math.Abs(current-target) <= c.params.Tolerance {
			return nil
		}

		if bounce >= c.params.MaxBounces {
			return &ProbeMissError{Row: row, Col: col,
				Reason: fmt.Sprintf("lateral move toward %c%.3f still at %.3f after %d bounces", axis, target, current, bounce)}
		}

		c.setPhase(PhaseBounced)
		c.log.Debugw("lateral contact, bouncing", "axis", string(axis), "target", target, "hitAt", current, "hitZ", pos.Z, "bounce", bounce)
		if err := c.linearRetract(ctx, pos.Z+c.params.Clearance); err != nil {
			return err
		}
		c.setPhase(PhasePositioning)
	}
}

// plunge performs the fault-checked vertical probe at the current X/Y and
// returns the measured surface height.
func (c *Controller) plunge(ctx context.Context, row, col int) (float64, error) {
	pos, rep, err := c.position(ctx)
	if err != nil {
		return 0, err
	}

	// plunging while the probe is already triggered is a fault condition
	// on the motion controller, so clear it first
	if rep.ProbeTriggered {
		c.setPhase(PhasePrePlungeClear)
		if err := c.linearRetract(ctx, pos.Z+c.params.Clearance); err != nil {
			return 0, err
		}
		pos.Z += c.params.Clearance
	}

	c.setPhase(PhasePlunging)
	cmd := fmt.Sprintf("G38.2 Z%.3f F%.1f", pos.Z-c.params.MaxPlunge, c.params.ProbeFeed)
	if err := c.machine.Send(ctx, cmd, "plunge"); err != nil {
		var alarm *machine.AlarmError
		if errors.As(err, &alarm) {
			return 0, alarm
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, &ProbeMissError{Row: row, Col: col, Reason: err.Error()}
	}

	rep, err = c.waitSettled(ctx)
	if err != nil {
		return 0, err
	}
	if rep.Probe == nil || !rep.Probe.Success {
		return 0, &ProbeMissError{Row: row, Col: col, Reason: "no contact reported within max plunge distance"}
	}
	settled, err := rep.Resolve()
	if err != nil {
		return 0, err
	}
	return settled.Z, nil
}

// linearRetract issues an ordinary linear move to the given Z. Retracts are
// upward into already-cleared space, so probe protection is unnecessary;
// rapid positioning is still never used.
func (c *Controller) linearRetract(ctx context.Context, z float64) error {
	c.setPhase(PhaseRetracting)
	cmd := fmt.Sprintf("G1 Z%.3f F%.1f", z, c.params.TravelFeed)
	if err := c.send(ctx, cmd, "retract"); err != nil {
		return err
	}
	_, err := c.waitSettled(ctx)
	return err
}
