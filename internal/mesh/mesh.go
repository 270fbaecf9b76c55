// Package mesh models the probed work surface: a rectangular grid of sampled
// heights with bilinear interpolation, grid planning from a program bounding
// box or explicit size, and a versioned on-disk document format.
package mesh

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrTooFewPoints is returned for grids with a single point total. A mesh of
// one sample cannot describe surface variation.
var ErrTooFewPoints = errors.New("grid must contain more than one point")

// GridParams describes the geometry of a probing grid. SpacingX is
// (EndX-StartX)/(Cols-1) when Cols > 1 and zero otherwise; symmetric for Y.
type GridParams struct {
	StartX   float64 `json:"startX"`
	StartY   float64 `json:"startY"`
	EndX     float64 `json:"endX"`
	EndY     float64 `json:"endY"`
	SpacingX float64 `json:"spacingX"`
	SpacingY float64 `json:"spacingY"`
	Rows     int     `json:"rows"`
	Cols     int     `json:"cols"`
}

// Validate rejects grids that cannot be probed: non-positive dimensions, a
// single total point, or non-finite geometry.
func (p GridParams) Validate() error {
	if p.Rows < 1 || p.Cols < 1 {
		return fmt.Errorf("grid dimensions %dx%d: rows and cols must be at least 1", p.Rows, p.Cols)
	}
	if p.Rows == 1 && p.Cols == 1 {
		return ErrTooFewPoints
	}
	for name, v := range map[string]float64{
		"startX": p.StartX, "startY": p.StartY,
		"endX": p.EndX, "endY": p.EndY,
		"spacingX": p.SpacingX, "spacingY": p.SpacingY,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("grid parameter %s is not finite", name)
		}
	}
	return nil
}

// Anchor returns a copy of p translated so its start corner sits at (x, y).
// Grids planned from an explicit size are positioned this way from the live
// machine position immediately before probing begins.
func (p GridParams) Anchor(x, y float64) GridParams {
	out := p
	out.StartX = x
	out.StartY = y
	out.EndX = x + p.SpacingX*float64(p.Cols-1)
	out.EndY = y + p.SpacingY*float64(p.Rows-1)
	return out
}

// PointAt returns the nominal coordinates of the grid point at (row, col).
func (p GridParams) PointAt(row, col int) (x, y float64) {
	return p.StartX + p.SpacingX*float64(col), p.StartY + p.SpacingY*float64(row)
}

// MeshPoint is a single grid sample. Z is nil until the point is probed.
type MeshPoint struct {
	X float64  `json:"x"`
	Y float64  `json:"y"`
	Z *float64 `json:"z,omitempty"`
}

// Probed reports whether the point has a captured height.
func (p MeshPoint) Probed() bool { return p.Z != nil }

func (p MeshPoint) zOr(fallback float64) float64 {
	if p.Z != nil {
		return *p.Z
	}
	return fallback
}

// SurfaceMesh is a row-major grid of sampled surface heights. Row index
// increases with Y, column index with X. It is mutated point-by-point during
// a probing run and treated as immutable afterwards.
type SurfaceMesh struct {
	Params GridParams
	Points [][]MeshPoint
}

// New creates an empty mesh for the given grid, with every point's nominal
// X/Y prefilled and Z unset.
func New(p GridParams) (*SurfaceMesh, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	xs := make([]float64, p.Cols)
	if p.Cols > 1 {
		floats.Span(xs, p.StartX, p.EndX)
	} else {
		xs[0] = p.StartX
	}
	ys := make([]float64, p.Rows)
	if p.Rows > 1 {
		floats.Span(ys, p.StartY, p.EndY)
	} else {
		ys[0] = p.StartY
	}

	points := make([][]MeshPoint, p.Rows)
	for r := range points {
		points[r] = make([]MeshPoint, p.Cols)
		for c := range points[r] {
			points[r][c] = MeshPoint{X: xs[c], Y: ys[r]}
		}
	}
	return &SurfaceMesh{Params: p, Points: points}, nil
}

// SetZ records a probed height at (row, col).
func (m *SurfaceMesh) SetZ(row, col int, z float64) {
	m.Points[row][col].Z = &z
}

// Complete reports whether every point has been probed.
func (m *SurfaceMesh) Complete() bool {
	for _, row := range m.Points {
		for _, p := range row {
			if !p.Probed() {
				return false
			}
		}
	}
	return true
}

// cellIndex locates the cell index and fractional offset along one axis.
// Both are clamped so out-of-range queries resolve to the nearest edge cell
// rather than extrapolating.
func cellIndex(v, start, spacing float64, count int) (idx int, t float64) {
	if count < 2 || spacing <= 0 {
		return 0, 0
	}
	f := (v - start) / spacing
	idx = int(math.Floor(f))
	if idx < 0 {
		idx = 0
	}
	if idx > count-2 {
		idx = count - 2
	}
	t = f - float64(idx)
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return idx, t
}

// cornerZ resolves a cell corner's height, falling back to its row-mate in
// the same cell when the corner is unset, then to zero.
func (m *SurfaceMesh) cornerZ(row, col, mateCol int) float64 {
	p := m.Points[row][col]
	if p.Z != nil {
		return *p.Z
	}
	return m.Points[row][mateCol].zOr(0)
}

// HeightAt returns the interpolated surface height at (x, y). It is total:
// queries outside the probed envelope clamp to the nearest edge, unset
// points fall back per cornerZ, and it never fails.
func (m *SurfaceMesh) HeightAt(x, y float64) float64 {
	rows, cols := m.Params.Rows, m.Params.Cols

	if rows == 1 && cols == 1 {
		return m.Points[0][0].zOr(0)
	}
	if cols == 1 {
		r, ty := cellIndex(y, m.Params.StartY, m.Params.SpacingY, rows)
		z0 := m.Points[r][0].zOr(0)
		z1 := m.Points[r+1][0].zOr(0)
		return z0 + (z1-z0)*ty
	}
	if rows == 1 {
		c, tx := cellIndex(x, m.Params.StartX, m.Params.SpacingX, cols)
		z0 := m.Points[0][c].zOr(0)
		z1 := m.Points[0][c+1].zOr(0)
		return z0 + (z1-z0)*tx
	}

	c, tx := cellIndex(x, m.Params.StartX, m.Params.SpacingX, cols)
	r, ty := cellIndex(y, m.Params.StartY, m.Params.SpacingY, rows)

	z00 := m.cornerZ(r, c, c+1)
	z01 := m.cornerZ(r, c+1, c)
	z10 := m.cornerZ(r+1, c, c+1)
	z11 := m.cornerZ(r+1, c+1, c)

	bottom := z00 + (z01-z00)*tx
	top := z10 + (z11-z10)*tx
	return bottom + (top-bottom)*ty
}

// Stats summarises the probed heights: min, max, and mean over every point
// with a captured Z, plus the count of such points.
func (m *SurfaceMesh) Stats() (min, max, mean float64, probed int) {
	var zs []float64
	for _, row := range m.Points {
		for _, p := range row {
			if p.Z != nil {
				zs = append(zs, *p.Z)
			}
		}
	}
	if len(zs) == 0 {
		return 0, 0, 0, 0
	}
	return floats.Min(zs), floats.Max(zs), stat.Mean(zs, nil), len(zs)
}
