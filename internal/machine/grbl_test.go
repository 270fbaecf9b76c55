package machine

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
)

// mockPort replays canned controller output and records everything written.
type mockPort struct {
	in     bytes.Buffer
	writes []string
	closed bool
}

func (m *mockPort) Read(p []byte) (int, error) { return m.in.Read(p) }

func (m *mockPort) Write(p []byte) (int, error) {
	m.writes = append(m.writes, string(p))
	return len(p), nil
}

func (m *mockPort) Close() error {
	m.closed = true
	return nil
}

func newTestGrbl(responses ...string) (*Grbl, *mockPort) {
	port := &mockPort{}
	for _, r := range responses {
		port.in.WriteString(r + "\n")
	}
	return NewGrbl(port, zap.NewNop().Sugar()), port
}

func TestGrblSendOK(t *testing.T) {
	g, port := newTestGrbl("ok")
	if err := g.Send(context.Background(), "G90", "set absolute"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(port.writes) != 1 || port.writes[0] != "G90\n" {
		t.Errorf("writes = %q, want [\"G90\\n\"]", port.writes)
	}
}

func TestGrblSendAppendsNewlineOnce(t *testing.T) {
	g, port := newTestGrbl("ok")
	if err := g.Send(context.Background(), "G90\n", "set absolute"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if port.writes[0] != "G90\n" {
		t.Errorf("write = %q, want %q", port.writes[0], "G90\n")
	}
}

func TestGrblSendErrorResponse(t *testing.T) {
	g, _ := newTestGrbl("error:9")
	err := g.Send(context.Background(), "G38.2 Z-10 F50", "probe plunge")
	if err == nil || !strings.Contains(err.Error(), "error:9") {
		t.Errorf("Send = %v, want controller error:9", err)
	}
}

func TestGrblSendAlarm(t *testing.T) {
	g, _ := newTestGrbl("ALARM:4")
	err := g.Send(context.Background(), "G38.2 Z-10 F50", "probe plunge")
	var alarm *AlarmError
	if !errors.As(err, &alarm) {
		t.Fatalf("Send = %v, want AlarmError", err)
	}
	if alarm.Code != "4" {
		t.Errorf("alarm code = %q, want 4", alarm.Code)
	}
}

func TestGrblSendPortClosed(t *testing.T) {
	g, _ := newTestGrbl() // no response, EOF immediately
	if err := g.Send(context.Background(), "G90", "set absolute"); err == nil {
		t.Error("Send on closed port succeeded")
	}
}

func TestGrblStatusQuery(t *testing.T) {
	g, port := newTestGrbl("<Idle|WPos:1.000,2.000,3.000>")
	rep, err := g.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if port.writes[0] != "?" {
		t.Errorf("status query wrote %q, want \"?\"", port.writes[0])
	}
	if rep.State != StateIdle {
		t.Errorf("State = %v, want Idle", rep.State)
	}
	pos, err := rep.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if pos != (Position{X: 1, Y: 2, Z: 3}) {
		t.Errorf("position = %v", pos)
	}
}

func TestGrblStatusRetainsOffset(t *testing.T) {
	// WCO appears once; later reports omit it and must reuse the cached one
	g, _ := newTestGrbl(
		"<Idle|MPos:10.000,10.000,10.000|WCO:1.000,2.000,3.000>",
		"<Idle|MPos:10.000,10.000,10.000>",
	)

	for i := 0; i < 2; i++ {
		rep, err := g.Status(context.Background())
		if err != nil {
			t.Fatalf("Status %d: %v", i, err)
		}
		pos, err := rep.Resolve()
		if err != nil {
			t.Fatalf("Resolve %d: %v", i, err)
		}
		if pos != (Position{X: 9, Y: 8, Z: 7}) {
			t.Errorf("status %d resolved %v, want {9 8 7}", i, pos)
		}
	}
}

func TestGrblAbsorbsProbeResult(t *testing.T) {
	g, _ := newTestGrbl(
		"[PRB:5.000,5.000,-1.500:1]",
		"ok",
		"<Idle|WPos:5.000,5.000,0.000>",
	)
	if err := g.Send(context.Background(), "G38.2 Z-10 F50", "probe plunge"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	rep, err := g.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if rep.Probe == nil {
		t.Fatal("Probe not folded into status report")
	}
	if !rep.Probe.Success || rep.Probe.Z != -1.5 {
		t.Errorf("Probe = %+v, want success at Z=-1.5", rep.Probe)
	}
}

func TestGrblStatusAlarmLine(t *testing.T) {
	g, _ := newTestGrbl("ALARM:1")
	rep, err := g.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if rep.State != StateAlarm {
		t.Errorf("State = %v, want Alarm", rep.State)
	}
}

func TestGrblClose(t *testing.T) {
	g, port := newTestGrbl()
	if err := g.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !port.closed {
		t.Error("underlying port not closed")
	}
}
