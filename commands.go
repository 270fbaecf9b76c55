package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/siganberg/meshlevel/internal/config"
	"github.com/siganberg/meshlevel/internal/db"
	"github.com/siganberg/meshlevel/internal/gcode"
	"github.com/siganberg/meshlevel/internal/level"
	"github.com/siganberg/meshlevel/internal/mesh"
	"github.com/siganberg/meshlevel/internal/report"
	"github.com/siganberg/meshlevel/internal/rewrite"
)

// cmdProbe runs a single probing pass synchronously and saves the mesh.
func cmdProbe(cfg *config.Settings, logger *zap.SugaredLogger, args []string) error {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	program := fs.String("program", "", "Program file to derive the grid from (bounds grid mode)")
	fs.Parse(args)

	m, closer, err := openMachine(cfg, logger)
	if err != nil {
		return err
	}
	defer closer()

	history, err := db.Open(cfg.GetHistoryPath())
	if err != nil {
		// a run without history is still a valid run
		logger.Warnw("run history unavailable", "error", err)
		history = nil
	} else {
		defer history.Close()
	}

	svc := level.NewService(cfg, m, history, logger)
	grid, anchor, err := svc.GridFromSettings(*program)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.RunProbe(ctx, svc.ProbeParams(grid, anchor)); err != nil {
		return err
	}

	captured := svc.Mesh()
	min, max, mean, points := captured.Stats()
	fmt.Printf("captured %d points (%dx%d grid): z %.3f..%.3f, mean %.3f\n",
		points, grid.Rows, grid.Cols, min, max, mean)
	fmt.Printf("mesh saved to %s\n", cfg.GetMeshPath())
	return nil
}

// cmdCompensate rewrites a program's absolute Z moves against the saved
// mesh and writes the result beside it.
func cmdCompensate(cfg *config.Settings, logger *zap.SugaredLogger, args []string) error {
	fs := flag.NewFlagSet("compensate", flag.ExitOnError)
	in := fs.String("in", "", "Program file to compensate (required)")
	ref := fs.Float64("ref", cfg.GetReferenceZ(), "Reference height the mesh is compared against")
	fs.Parse(args)
	if *in == "" {
		return fmt.Errorf("-in is required")
	}

	m, err := mesh.Load(cfg.GetMeshPath())
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("no saved mesh at %s; run probe first", cfg.GetMeshPath())
	}

	outPath, err := rewrite.File(*in, m, *ref)
	if err != nil {
		return err
	}
	logger.Infow("compensated program", "in", *in, "out", outPath, "referenceZ", *ref)
	fmt.Println(outPath)
	return nil
}

// cmdBounds prints the bounding box of a program's planar travel.
func cmdBounds(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: bounds <program-file>")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open program: %w", err)
	}
	defer f.Close()

	box, err := gcode.Bounds(f)
	if err != nil {
		return err
	}
	fmt.Printf("X %.3f..%.3f  Y %.3f..%.3f  Z %.3f..%.3f\n",
		box.MinX, box.MaxX, box.MinY, box.MaxY, box.MinZ, box.MaxZ)
	return nil
}

// cmdReport renders the saved mesh as a standalone HTML heatmap.
func cmdReport(cfg *config.Settings, args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	out := fs.String("out", "surface-mesh.html", "Output HTML file")
	fs.Parse(args)

	m, err := mesh.Load(cfg.GetMeshPath())
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("no saved mesh at %s; run probe first", cfg.GetMeshPath())
	}

	f, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()

	if err := report.Render(f, m); err != nil {
		return err
	}
	fmt.Println(*out)
	return nil
}
