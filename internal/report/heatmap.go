// Package report renders a probed surface mesh as a standalone HTML
// heatmap for quick visual inspection of the surface.
package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/siganberg/meshlevel/internal/mesh"
)

// viridis-like ramp, low surface to high
var heightColors = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// Render writes an HTML heatmap of the mesh to w. Rows map to Y, columns to
// X, cell colour to measured height; unprobed points are omitted.
func Render(w io.Writer, m *mesh.SurfaceMesh) error {
	min, max, mean, probed := m.Stats()

	xs := make([]string, m.Params.Cols)
	for c := range xs {
		x, _ := m.Params.PointAt(0, c)
		xs[c] = fmt.Sprintf("%.1f", x)
	}
	ys := make([]string, m.Params.Rows)
	for r := range ys {
		_, y := m.Params.PointAt(r, 0)
		ys[r] = fmt.Sprintf("%.1f", y)
	}

	data := make([]opts.HeatMapData, 0, probed)
	for r, row := range m.Points {
		for c, p := range row {
			if !p.Probed() {
				continue
			}
			data = append(data, opts.HeatMapData{Value: [3]interface{}{c, r, *p.Z}})
		}
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Surface Mesh", Width: "800px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Surface height map",
			Subtitle: fmt.Sprintf("%dx%d grid, %d points, z %.3f..%.3f (mean %.3f)", m.Params.Rows, m.Params.Cols, probed, min, max, mean),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: xs, Name: "X"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: ys, Name: "Y"}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(min),
			Max:        float32(max),
			InRange:    &opts.VisualMapInRange{Color: heightColors},
		}),
	)
	hm.AddSeries("height", data)

	return hm.Render(w)
}
