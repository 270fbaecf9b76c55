package gcode

import (
	"testing"
)

func TestParseLineClassification(t *testing.T) {
	tests := []struct {
		name          string
		line          string
		inert         bool
		machineCoords bool
		words         int
	}{
		{"empty", "", true, false, 0},
		{"whitespace", "   ", true, false, 0},
		{"semicolon comment", "; a comment X10", true, false, 0},
		{"paren comment", "(setup) ", true, false, 0},
		{"percent", "%", true, false, 0},
		{"plain move", "G1 X10 Y20 Z-1", false, false, 4},
		{"machine coords", "G53 G0 Z0", false, true, 3},
		{"trailing comment", "G1 X5 ; move Z99", false, false, 2},
		{"inline paren comment", "G1 (skip Z9) X5", false, false, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ln := ParseLine(tt.line)
			if ln.Inert != tt.inert {
				t.Errorf("Inert = %v, want %v", ln.Inert, tt.inert)
			}
			if ln.MachineCoords != tt.machineCoords {
				t.Errorf("MachineCoords = %v, want %v", ln.MachineCoords, tt.machineCoords)
			}
			if len(ln.Words) != tt.words {
				t.Errorf("len(Words) = %d, want %d (%+v)", len(ln.Words), tt.words, ln.Words)
			}
		})
	}
}

func TestParseLineWordSpans(t *testing.T) {
	line := "G1 X10.5 Z-1.25"
	ln := ParseLine(line)
	if len(ln.Words) != 3 {
		t.Fatalf("expected 3 words, got %d", len(ln.Words))
	}
	z := ln.Words[2]
	if z.Letter != 'Z' || z.Value != -1.25 {
		t.Fatalf("unexpected Z word: %+v", z)
	}
	if got := line[z.Start:z.End]; got != "Z-1.25" {
		t.Errorf("Z word span = %q, want %q", got, "Z-1.25")
	}
}

func TestParseLineLowercase(t *testing.T) {
	ln := ParseLine("g1 x10 z-2")
	if len(ln.Words) != 3 {
		t.Fatalf("expected 3 words, got %d", len(ln.Words))
	}
	if ln.Words[1].Letter != 'X' || ln.Words[2].Letter != 'Z' {
		t.Errorf("letters not upper-cased: %+v", ln.Words)
	}
}

func TestIsModeSwitch(t *testing.T) {
	tests := []struct {
		line     string
		absolute bool
		ok       bool
	}{
		{"G90", true, true},
		{"G91", false, true},
		// decimal sub-variants select arc-center mode, not distance mode
		{"G90.1", false, false},
		{"G91.1", false, false},
		{"G1", false, false},
		{"X90", false, false},
	}
	for _, tt := range tests {
		ln := ParseLine(tt.line)
		if len(ln.Words) == 0 {
			t.Fatalf("no words in %q", tt.line)
		}
		absolute, ok := ln.Words[0].IsModeSwitch()
		if ok != tt.ok || (ok && absolute != tt.absolute) {
			t.Errorf("%q: IsModeSwitch() = (%v, %v), want (%v, %v)", tt.line, absolute, ok, tt.absolute, tt.ok)
		}
	}
}
