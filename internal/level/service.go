// Package level orchestrates surface leveling: it owns the current mesh,
// starts and stops probing runs, persists results, records run history, and
// queues one-shot compensation requests.
package level

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/siganberg/meshlevel/internal/config"
	"github.com/siganberg/meshlevel/internal/db"
	"github.com/siganberg/meshlevel/internal/gcode"
	"github.com/siganberg/meshlevel/internal/machine"
	"github.com/siganberg/meshlevel/internal/mesh"
	"github.com/siganberg/meshlevel/internal/probe"
	"github.com/siganberg/meshlevel/internal/rewrite"
	"github.com/siganberg/meshlevel/internal/security"
	"github.com/siganberg/meshlevel/internal/timeutil"
)

// ErrRunActive is returned when a probing run is requested while one is
// already in progress. Only one run may be active against a machine.
var ErrRunActive = errors.New("a probing run is already active")

// ErrNoMesh is returned when compensation is requested before any surface
// mesh has been captured or loaded.
var ErrNoMesh = errors.New("no surface mesh available")

// ErrApplyPending is returned when a compensation request is submitted while
// an earlier one has not been consumed yet.
var ErrApplyPending = errors.New("a compensation request is already pending")

// ApplyRequest asks for one program to be compensated against the current
// mesh. Requests are queued at most one deep and consumed exactly once.
type ApplyRequest struct {
	ProgramPath string  `json:"program_path"`
	ReferenceZ  float64 `json:"reference_z"`
}

// Service is the leveling orchestrator.
type Service struct {
	cfg     *config.Settings
	machine machine.Machine
	history *db.History // optional; nil disables run history
	log     *zap.SugaredLogger
	clock   timeutil.Clock

	mu      sync.Mutex
	current *mesh.SurfaceMesh
	active  *probe.Controller

	apply chan ApplyRequest
}

// NewService wires an orchestrator. history may be nil.
func NewService(cfg *config.Settings, m machine.Machine, history *db.History, log *zap.SugaredLogger) *Service {
	return &Service{
		cfg:     cfg,
		machine: m,
		history: history,
		log:     log,
		clock:   timeutil.RealClock{},
		apply:   make(chan ApplyRequest, 1),
	}
}

// LoadSavedMesh restores the persisted mesh, if any. Load failure is not
// fatal: a corrupt document is logged and treated as no prior mesh.
func (s *Service) LoadSavedMesh() {
	m, err := mesh.Load(s.cfg.GetMeshPath())
	if err != nil {
		s.log.Warnw("ignoring unreadable saved mesh", "path", s.cfg.GetMeshPath(), "error", err)
		return
	}
	if m == nil {
		return
	}
	s.mu.Lock()
	s.current = m
	s.mu.Unlock()
	s.log.Infow("restored saved mesh", "rows", m.Params.Rows, "cols", m.Params.Cols)
}

// Mesh returns the current mesh, or nil when none has been captured.
func (s *Service) Mesh() *mesh.SurfaceMesh {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Probing reports the active run's progress, if one is running.
func (s *Service) Probing() (probe.Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return probe.Progress{}, false
	}
	return s.active.Progress(), true
}

// StopProbe requests a cooperative stop of the active run, if any. The
// current point's motion sequence still runs to completion.
func (s *Service) StopProbe() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return false
	}
	s.active.Stop()
	return true
}

// GridFromSettings builds the probing grid per the configured mode. Bounds
// mode analyzes the program at programPath; size mode returns a grid to be
// anchored at the live start position.
func (s *Service) GridFromSettings(programPath string) (grid mesh.GridParams, anchor bool, err error) {
	rows, cols := s.cfg.GetRows(), s.cfg.GetCols()
	if s.cfg.GetGridMode() == config.GridModeBounds {
		if programPath == "" {
			return mesh.GridParams{}, false, fmt.Errorf("bounds grid mode requires a program")
		}
		if err := security.ValidateProgramPath(programPath, s.cfg.GetProgramDirs()); err != nil {
			return mesh.GridParams{}, false, err
		}
		f, err := os.Open(programPath)
		if err != nil {
			return mesh.GridParams{}, false, fmt.Errorf("failed to open program: %w", err)
		}
		defer f.Close()
		box, err := gcode.Bounds(f)
		if err != nil {
			return mesh.GridParams{}, false, err
		}
		grid, err := mesh.PlanFromBounds(box, rows, cols, s.cfg.GetMargin())
		return grid, false, err
	}
	grid, err = mesh.PlanFromSize(s.cfg.GetWidth(), s.cfg.GetHeight(), rows, cols)
	return grid, true, err
}

// ProbeParams assembles controller parameters from the settings.
func (s *Service) ProbeParams(grid mesh.GridParams, anchor bool) probe.Params {
	return probe.Params{
		Grid:          grid,
		AnchorToStart: anchor,
		ProbeFeed:     s.cfg.GetProbeFeed(),
		TravelFeed:    s.cfg.GetTravelFeed(),
		Clearance:     s.cfg.GetClearance(),
		MaxPlunge:     s.cfg.GetMaxPlunge(),
	}
}

// RunProbe executes a probing run synchronously and installs the resulting
// mesh on success. Run history is recorded when a history store is present;
// history failures are logged, never fatal to the run.
func (s *Service) RunProbe(ctx context.Context, params probe.Params) error {
	runID := uuid.New()

	ctrl, err := probe.New(s.machine, params,
		probe.WithLogger(s.log),
		probe.WithClock(s.clock),
		probe.WithPointCallback(func(p probe.PointResult) {
			if s.history == nil {
				return
			}
			if err := s.history.RecordSample(runID, p.Row, p.Col, p.X, p.Y, p.Z, s.clock.Now()); err != nil {
				s.log.Warnw("failed to record sample", "error", err)
			}
		}),
	)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return ErrRunActive
	}
	s.active = ctrl
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
	}()

	if s.history != nil {
		if err := s.history.StartRun(runID, params.Grid.Rows, params.Grid.Cols, s.clock.Now()); err != nil {
			s.log.Warnw("failed to record run start", "error", err)
		}
	}

	m, runErr := ctrl.Run(ctx)

	status := db.RunStatusDone
	errMsg := ""
	switch {
	case errors.Is(runErr, probe.ErrStopped):
		status = db.RunStatusStopped
	case runErr != nil:
		status = db.RunStatusFailed
		errMsg = runErr.Error()
	}
	if s.history != nil {
		if err := s.history.FinishRun(runID, status, errMsg, s.clock.Now()); err != nil {
			s.log.Warnw("failed to record run finish", "error", err)
		}
	}

	if runErr != nil {
		return runErr
	}

	s.mu.Lock()
	s.current = m
	s.mu.Unlock()

	if err := mesh.Save(s.cfg.GetMeshPath(), m, s.clock.Now()); err != nil {
		// surfaced but the captured mesh stays usable in memory
		s.log.Errorw("failed to persist mesh", "path", s.cfg.GetMeshPath(), "error", err)
		return err
	}
	return nil
}

// StartProbe launches RunProbe in the background. It fails fast when a run
// is already active; a concurrent start losing the race is caught again
// inside RunProbe.
func (s *Service) StartProbe(ctx context.Context, params probe.Params) error {
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return ErrRunActive
	}
	s.mu.Unlock()

	go func() {
		if err := s.RunProbe(ctx, params); err != nil && !errors.Is(err, probe.ErrStopped) {
			s.log.Errorw("probing run failed", "error", err)
		}
	}()
	return nil
}

// ListRuns returns recent probing runs from history, newest first. Without
// a history store it returns an empty list.
func (s *Service) ListRuns(limit int) ([]db.Run, error) {
	if s.history == nil {
		return []db.Run{}, nil
	}
	runs, err := s.history.ListRuns(limit)
	if runs == nil {
		runs = []db.Run{}
	}
	return runs, err
}

// SubmitApply queues a compensation request. At most one may be pending.
func (s *Service) SubmitApply(req ApplyRequest) error {
	if err := security.ValidateProgramPath(req.ProgramPath, s.cfg.GetProgramDirs()); err != nil {
		return err
	}
	if s.Mesh() == nil {
		return ErrNoMesh
	}
	select {
	case s.apply <- req:
		return nil
	default:
		return ErrApplyPending
	}
}

// ApplyRequests exposes the queued compensation requests for consumption.
func (s *Service) ApplyRequests() <-chan ApplyRequest {
	return s.apply
}

// ProcessApply compensates the requested program against the current mesh
// and returns the output path.
func (s *Service) ProcessApply(req ApplyRequest) (string, error) {
	m := s.Mesh()
	if m == nil {
		return "", ErrNoMesh
	}
	start := time.Now()
	outPath, err := rewrite.File(req.ProgramPath, m, req.ReferenceZ)
	if err != nil {
		return "", err
	}
	s.log.Infow("compensated program", "in", req.ProgramPath, "out", outPath, "referenceZ", req.ReferenceZ, "took", time.Since(start))
	return outPath, nil
}
