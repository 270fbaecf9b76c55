package mesh

import (
	"fmt"

	"github.com/siganberg/meshlevel/internal/gcode"
)

// PlanFromBounds derives grid parameters covering the planar bounding box of
// a program, with margin added on every side. The resulting grid is fully
// positioned; Anchor is not needed.
func PlanFromBounds(box gcode.Box, rows, cols int, margin float64) (GridParams, error) {
	p := GridParams{
		StartX: box.MinX - margin,
		StartY: box.MinY - margin,
		EndX:   box.MaxX + margin,
		EndY:   box.MaxY + margin,
		Rows:   rows,
		Cols:   cols,
	}
	if cols > 1 {
		p.SpacingX = (p.EndX - p.StartX) / float64(cols-1)
	}
	if rows > 1 {
		p.SpacingY = (p.EndY - p.StartY) / float64(rows-1)
	}
	if err := p.Validate(); err != nil {
		return GridParams{}, fmt.Errorf("plan from bounds: %w", err)
	}
	return p, nil
}

// PlanFromSize derives grid parameters for an explicit physical extent. The
// grid starts at the origin; callers anchor it to the live machine position
// immediately before probing begins, so the grid lands wherever the operator
// placed the tool.
func PlanFromSize(width, height float64, rows, cols int) (GridParams, error) {
	if width < 0 || height < 0 {
		return GridParams{}, fmt.Errorf("plan from size: extent %gx%g must not be negative", width, height)
	}
	p := GridParams{
		EndX: width,
		EndY: height,
		Rows: rows,
		Cols: cols,
	}
	if cols > 1 {
		p.SpacingX = width / float64(cols-1)
	}
	if rows > 1 {
		p.SpacingY = height / float64(rows-1)
	}
	if err := p.Validate(); err != nil {
		return GridParams{}, fmt.Errorf("plan from size: %w", err)
	}
	return p, nil
}
