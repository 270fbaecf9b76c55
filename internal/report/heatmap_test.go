package report

import (
	"strings"
	"testing"

	"github.com/siganberg/meshlevel/internal/mesh"
)

func TestRenderProducesHTML(t *testing.T) {
	m, err := mesh.New(mesh.GridParams{
		EndX: 10, EndY: 10,
		SpacingX: 10, SpacingY: 10,
		Rows: 2, Cols: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	m.SetZ(0, 0, 0)
	m.SetZ(0, 1, 0.5)
	m.SetZ(1, 0, -0.25)
	m.SetZ(1, 1, 0.125)

	var out strings.Builder
	if err := Render(&out, m); err != nil {
		t.Fatalf("Render: %v", err)
	}

	html := out.String()
	if !strings.Contains(html, "<html>") {
		t.Error("output is not an HTML document")
	}
	if !strings.Contains(html, "Surface height map") {
		t.Error("output missing chart title")
	}
	if !strings.Contains(html, "2x2 grid, 4 points") {
		t.Error("output missing stats subtitle")
	}
}

func TestRenderSkipsUnprobedPoints(t *testing.T) {
	m, err := mesh.New(mesh.GridParams{EndX: 10, SpacingX: 10, Rows: 1, Cols: 2})
	if err != nil {
		t.Fatal(err)
	}
	m.SetZ(0, 0, 1)

	var out strings.Builder
	if err := Render(&out, m); err != nil {
		t.Fatalf("Render on a partial mesh: %v", err)
	}
	if !strings.Contains(out.String(), "1 points") {
		t.Error("subtitle should count only probed points")
	}
}
