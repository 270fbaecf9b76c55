package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func intp(v int) *int           { return &v }
func strp(v string) *string     { return &v }
func floatp(v float64) *float64 { return &v }

func TestDefaults(t *testing.T) {
	s := &Settings{}
	if s.GetGridMode() != GridModeSize {
		t.Errorf("GetGridMode() = %q, want size", s.GetGridMode())
	}
	if s.GetRows() != 3 || s.GetCols() != 3 {
		t.Errorf("grid = %dx%d, want 3x3", s.GetRows(), s.GetCols())
	}
	if s.GetWidth() != 100 || s.GetHeight() != 100 || s.GetMargin() != 5 {
		t.Errorf("extent = %gx%g margin %g", s.GetWidth(), s.GetHeight(), s.GetMargin())
	}
	if s.GetProbeFeed() != 50 || s.GetTravelFeed() != 500 {
		t.Errorf("feeds = %g/%g", s.GetProbeFeed(), s.GetTravelFeed())
	}
	if s.GetClearance() != 2 || s.GetMaxPlunge() != 10 || s.GetReferenceZ() != 0 {
		t.Errorf("heights = %g/%g/%g", s.GetClearance(), s.GetMaxPlunge(), s.GetReferenceZ())
	}
	if s.GetSerialPort() != "/dev/ttyUSB0" || s.GetBaudRate() != 115200 {
		t.Errorf("serial = %s@%d", s.GetSerialPort(), s.GetBaudRate())
	}
	if s.GetListen() != ":8337" {
		t.Errorf("listen = %q", s.GetListen())
	}
	if s.GetMeshPath() != "surface-mesh.json" || s.GetHistoryPath() != "probe-history.db" {
		t.Errorf("paths = %q/%q", s.GetMeshPath(), s.GetHistoryPath())
	}
	if s.GetDebug() {
		t.Error("debug defaults on")
	}
	if err := s.Validate(); err != nil {
		t.Errorf("defaults fail validation: %v", err)
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.GetRows() != 3 {
		t.Errorf("rows = %d, want default 3", s.GetRows())
	}
}

func TestLoadPartialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	body := `{"grid_mode":"bounds","rows":5,"probe_feed":25.5,"serial_port":"/dev/ttyACM0"}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.GetGridMode() != GridModeBounds || s.GetRows() != 5 {
		t.Errorf("overrides not applied: mode %q rows %d", s.GetGridMode(), s.GetRows())
	}
	if s.GetProbeFeed() != 25.5 || s.GetSerialPort() != "/dev/ttyACM0" {
		t.Errorf("overrides not applied: feed %g port %q", s.GetProbeFeed(), s.GetSerialPort())
	}
	// untouched fields keep defaults
	if s.GetCols() != 3 || s.GetTravelFeed() != 500 {
		t.Errorf("defaults lost: cols %d travel %g", s.GetCols(), s.GetTravelFeed())
	}
}

func TestLoadRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load accepted broken JSON")
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{"probe_feed":-1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load accepted a negative probe feed")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		s       Settings
		wantErr bool
	}{
		{"bad grid mode", Settings{GridMode: strp("auto")}, true},
		{"zero rows", Settings{Rows: intp(0)}, true},
		{"single point grid", Settings{Rows: intp(1), Cols: intp(1)}, true},
		{"single row is fine", Settings{Rows: intp(1), Cols: intp(5)}, false},
		{"zero travel feed", Settings{TravelFeed: floatp(0)}, true},
		{"NaN clearance", Settings{Clearance: floatp(math.NaN())}, true},
		{"infinite width", Settings{Width: floatp(math.Inf(1))}, true},
		{"negative margin", Settings{Margin: floatp(-1)}, true},
		{"zero margin is fine", Settings{Margin: floatp(0)}, false},
		{"negative reference is fine", Settings{ReferenceZ: floatp(-3)}, false},
		{"NaN reference", Settings{ReferenceZ: floatp(math.NaN())}, true},
		{"zero baud", Settings{BaudRate: intp(0)}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.s.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
