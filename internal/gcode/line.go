// Package gcode parses motion-program text: line classification, word
// extraction, modal absolute/incremental tracking, and bounding-box analysis
// of planar travel.
package gcode

import (
	"strconv"
	"strings"
)

// Word is a single address-letter/value word on a program line, together
// with the byte span it occupies so callers can rewrite it in place.
type Word struct {
	// Letter is the upper-cased address letter (G, X, Y, Z, F, ...).
	Letter byte

	// Value is the parsed numeric value.
	Value float64

	// Raw is the number text exactly as written, without the letter.
	Raw string

	// Start and End delimit the whole word (letter included) in the line.
	Start int
	End   int
}

// Line is one classified program line.
type Line struct {
	// Text is the original line, unmodified.
	Text string

	// Inert marks a line that starts with a comment marker (';' or '(')
	// or a percent sign. Inert lines carry no motion and pass through
	// analysis and rewriting untouched.
	Inert bool

	// MachineCoords marks a line carrying a machine-coordinate directive
	// (G53). Such lines are excluded from bounding-box accumulation and
	// pass through rewriting unchanged.
	MachineCoords bool

	// Words holds the parsed words in line order.
	Words []Word
}

func isNumberByte(b byte) bool {
	return (b >= '0' && b <= '9') || b == '.' || b == '+' || b == '-'
}

// ParseLine classifies a single program line and extracts its words.
// Inline parenthesis comments and anything after a semicolon are skipped
// during word extraction but preserved in Text.
func ParseLine(text string) Line {
	ln := Line{Text: text}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		ln.Inert = true
		return ln
	}
	switch trimmed[0] {
	case ';', '(', '%':
		ln.Inert = true
		return ln
	}

	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case c == ';':
			// trailing comment: nothing further on the line
			i = len(text)
		case c == '(':
			// inline comment: skip to the closing paren
			end := strings.IndexByte(text[i:], ')')
			if end < 0 {
				i = len(text)
			} else {
				i += end + 1
			}
		case (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z'):
			start := i
			i++
			numStart := i
			for i < len(text) && isNumberByte(text[i]) {
				i++
			}
			raw := text[numStart:i]
			value, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				// a bare letter or malformed number is not a word
				continue
			}
			letter := c
			if letter >= 'a' && letter <= 'z' {
				letter -= 'a' - 'A'
			}
			w := Word{Letter: letter, Value: value, Raw: raw, Start: start, End: i}
			if letter == 'G' && raw == "53" {
				ln.MachineCoords = true
			}
			ln.Words = append(ln.Words, w)
		default:
			i++
		}
	}
	return ln
}

// IsModeSwitch reports whether w switches the absolute/incremental distance
// mode, and if so which mode it selects. A mode word in modified form
// (G90.1, G91.1 select arc-center mode instead) must not toggle the flag, so
// only the exact unsuffixed spellings qualify.
func (w Word) IsModeSwitch() (absolute, ok bool) {
	if w.Letter != 'G' {
		return false, false
	}
	switch w.Raw {
	case "90":
		return true, true
	case "91":
		return false, true
	}
	return false, false
}
