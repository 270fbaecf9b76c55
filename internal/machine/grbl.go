package machine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// Grbl drives a GRBL-class controller over a serial port. Commands are
// serialized: one exchange (command or status query) is in flight at a time.
type Grbl struct {
	port SerialPorter
	scan *bufio.Scanner
	log  *zap.SugaredLogger

	mu sync.Mutex
	// GRBL omits WCO from most status reports and emits it periodically;
	// the last one seen applies until replaced.
	offset *Position
	probe  *ProbeSample
}

// Open opens the serial port at path and returns a Grbl speaking over it.
func Open(path string, baud int, log *zap.SugaredLogger) (*Grbl, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return NewGrbl(port, log), nil
}

// NewGrbl returns a Grbl speaking over an already-open port.
func NewGrbl(port SerialPorter, log *zap.SugaredLogger) *Grbl {
	scan := bufio.NewScanner(port)
	scan.Buffer(make([]byte, 0, 4096), 64*1024)
	return &Grbl{port: port, scan: scan, log: log}
}

// Close closes the underlying port.
func (g *Grbl) Close() error {
	return g.port.Close()
}

// absorb records asynchronously pushed reports (probe results, offsets) that
// may arrive between an exchange's request and its terminating response.
func (g *Grbl) absorb(line string) {
	if sample, ok := ParseProbeResult(line); ok {
		g.probe = &sample
		return
	}
	if rep, err := ParseStatus(line); err == nil && rep.Offset != nil {
		g.offset = rep.Offset
	}
}

// Send writes a single command line and waits for the controller's ok/error
// response. A probe-toward-with-error command that misses surfaces here as
// an error response from the controller. The tag identifies the command in
// logs and errors.
func (g *Grbl) Send(ctx context.Context, command, tag string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	if _, err := g.port.Write([]byte(command)); err != nil {
		return fmt.Errorf("failed to write command %s: %w", tag, err)
	}
	g.log.Debugw("sent command", "tag", tag, "command", strings.TrimSpace(command))

	// The port read blocks; cancellation is only observed between lines.
	for g.scan.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(g.scan.Text())
		switch {
		case line == "ok":
			return nil
		case strings.HasPrefix(line, "error:"):
			return fmt.Errorf("command %s rejected: %s", tag, line)
		case strings.HasPrefix(line, "ALARM:"):
			return &AlarmError{Code: strings.TrimPrefix(line, "ALARM:")}
		default:
			g.absorb(line)
		}
	}
	if err := g.scan.Err(); err != nil {
		return fmt.Errorf("serial read failed awaiting response to %s: %w", tag, err)
	}
	return fmt.Errorf("serial port closed awaiting response to %s", tag)
}

// Status issues a real-time status query and returns the parsed report,
// folding in the last seen work-coordinate offset and probe result.
func (g *Grbl) Status(ctx context.Context) (Report, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := g.port.Write([]byte("?")); err != nil {
		return Report{}, fmt.Errorf("failed to write status query: %w", err)
	}

	for g.scan.Scan() {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		line := strings.TrimSpace(g.scan.Text())
		if strings.HasPrefix(line, "ALARM:") {
			return Report{State: StateAlarm, Raw: line}, nil
		}
		if strings.HasPrefix(line, "<") {
			rep, err := ParseStatus(line)
			if err != nil {
				return Report{}, err
			}
			if rep.Offset == nil {
				rep.Offset = g.offset
			} else {
				g.offset = rep.Offset
			}
			rep.Probe = g.probe
			return rep, nil
		}
		g.absorb(line)
	}
	if err := g.scan.Err(); err != nil {
		return Report{}, fmt.Errorf("serial read failed awaiting status: %w", err)
	}
	return Report{}, fmt.Errorf("serial port closed awaiting status")
}
