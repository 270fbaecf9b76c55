package machine

import (
	"fmt"
	"strconv"
	"strings"
)

// parseTriple parses "x,y,z" into a Position.
func parseTriple(s string) (Position, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Position{}, fmt.Errorf("expected 3 coordinates, got %d in %q", len(parts), s)
	}
	var vals [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Position{}, fmt.Errorf("bad coordinate %q: %w", p, err)
		}
		vals[i] = v
	}
	return Position{X: vals[0], Y: vals[1], Z: vals[2]}, nil
}

func parseState(name string) State {
	// sub-states like "Hold:1" carry a qualifier after the colon
	if i := strings.IndexByte(name, ':'); i >= 0 {
		name = name[:i]
	}
	switch name {
	case "Idle":
		return StateIdle
	case "Run", "Jog", "Home":
		return StateRun
	case "Alarm":
		return StateAlarm
	}
	return StateOther
}

// ParseStatus parses a GRBL-style real-time status report such as
//
//	<Idle|MPos:10.000,5.000,-2.000|FS:0,0|WCO:0.000,0.000,-10.000|Pn:P>
//
// Fields other than state, positions, offset, and pin state are ignored.
func ParseStatus(line string) (Report, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "<") || !strings.HasSuffix(trimmed, ">") {
		return Report{}, fmt.Errorf("not a status report: %q", line)
	}
	body := trimmed[1 : len(trimmed)-1]
	fields := strings.Split(body, "|")
	if len(fields) == 0 || fields[0] == "" {
		return Report{}, fmt.Errorf("status report missing state: %q", line)
	}

	rep := Report{State: parseState(fields[0]), Raw: line}
	for _, f := range fields[1:] {
		name, value, found := strings.Cut(f, ":")
		if !found {
			continue
		}
		switch name {
		case "WPos":
			p, err := parseTriple(value)
			if err != nil {
				return Report{}, fmt.Errorf("bad WPos in %q: %w", line, err)
			}
			rep.Work = &p
		case "MPos":
			p, err := parseTriple(value)
			if err != nil {
				return Report{}, fmt.Errorf("bad MPos in %q: %w", line, err)
			}
			rep.Machine = &p
		case "WCO":
			p, err := parseTriple(value)
			if err != nil {
				return Report{}, fmt.Errorf("bad WCO in %q: %w", line, err)
			}
			rep.Offset = &p
		case "Pn":
			rep.ProbeTriggered = strings.Contains(value, "P")
		}
	}
	return rep, nil
}

// ParseProbeResult parses a GRBL probe-cycle report such as
//
//	[PRB:10.000,5.000,-3.250:1]
//
// and reports whether the line was one.
func ParseProbeResult(line string) (ProbeSample, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "[PRB:") || !strings.HasSuffix(trimmed, "]") {
		return ProbeSample{}, false
	}
	body := trimmed[len("[PRB:") : len(trimmed)-1]
	coords, flag, found := strings.Cut(body, ":")
	if !found {
		return ProbeSample{}, false
	}
	pos, err := parseTriple(coords)
	if err != nil {
		return ProbeSample{}, false
	}
	return ProbeSample{Position: pos, Success: flag == "1"}, true
}
