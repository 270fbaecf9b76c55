// Package rewrite rewrites motion programs so absolute Z moves are
// compensated for measured surface variation.
package rewrite

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/siganberg/meshlevel/internal/gcode"
	"github.com/siganberg/meshlevel/internal/mesh"
)

// Suffix is appended to a program's base name when writing the compensated
// copy beside the original.
const Suffix = "-leveled"

// Compensate streams the program from r to w, rewriting every absolute Z
// coordinate word to originalZ + (surface height at the move's X/Y minus
// referenceZ). Blank, comment, and machine-coordinate lines pass through
// unchanged; incremental Z words are left untouched, since compensation is
// only meaningful against an absolute reference frame. The output is
// prefixed with header comments naming the grid and reference height used.
func Compensate(w io.Writer, r io.Reader, m *mesh.SurfaceMesh, referenceZ float64) error {
	out := bufio.NewWriter(w)
	fmt.Fprintf(out, "; Z-compensated using %dx%d surface mesh\n", m.Params.Rows, m.Params.Cols)
	fmt.Fprintf(out, "; reference height Z%.3f\n", referenceZ)

	tracker := gcode.NewTracker()
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scan.Scan() {
		line := scan.Text()
		ln := gcode.ParseLine(line)
		if ln.Inert || ln.MachineCoords {
			tracker.Apply(ln)
			fmt.Fprintln(out, line)
			continue
		}

		tracker.Apply(ln)
		if tracker.Absolute {
			// rewrite right-to-left so earlier word spans stay valid
			for i := len(ln.Words) - 1; i >= 0; i-- {
				word := ln.Words[i]
				if word.Letter != 'Z' {
					continue
				}
				offset := m.HeightAt(tracker.X, tracker.Y) - referenceZ
				line = line[:word.Start] + fmt.Sprintf("Z%.3f", word.Value+offset) + line[word.End:]
			}
		}
		fmt.Fprintln(out, line)
	}
	if err := scan.Err(); err != nil {
		return fmt.Errorf("failed to read program: %w", err)
	}
	if err := out.Flush(); err != nil {
		return fmt.Errorf("failed to write compensated program: %w", err)
	}
	return nil
}

// OutputPath derives the compensated program's path from the original's,
// inserting the fixed suffix before the extension.
func OutputPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + Suffix + ext
}

// File compensates the program at path and writes the result beside it,
// returning the output path.
func File(path string, m *mesh.SurfaceMesh, referenceZ float64) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open program: %w", err)
	}
	defer in.Close()

	outPath := OutputPath(path)
	out, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("failed to create output program: %w", err)
	}
	defer out.Close()

	if err := Compensate(out, in, m, referenceZ); err != nil {
		return "", err
	}
	return outPath, nil
}
