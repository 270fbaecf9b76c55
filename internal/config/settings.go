// Package config loads and validates the leveling settings document.
//
// The schema matches the /api/settings payload so the same JSON can be used
// for both startup configuration and runtime updates. Fields omitted from
// the file keep their defaults, so partial configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// Grid modes: derive the grid from the loaded program's bounding box, or
// from an explicit physical size anchored at the operator's start position.
const (
	GridModeBounds = "bounds"
	GridModeSize   = "size"
)

// Settings is the root configuration. All fields are optional pointers;
// accessor methods supply defaults.
type Settings struct {
	GridMode *string `json:"grid_mode,omitempty"`
	Rows     *int    `json:"rows,omitempty"`
	Cols     *int    `json:"cols,omitempty"`

	// Physical grid extent, used in size mode.
	Width  *float64 `json:"width,omitempty"`
	Height *float64 `json:"height,omitempty"`

	// Margin added around the bounding box, used in bounds mode.
	Margin *float64 `json:"margin,omitempty"`

	ProbeFeed  *float64 `json:"probe_feed,omitempty"`
	TravelFeed *float64 `json:"travel_feed,omitempty"`
	Clearance  *float64 `json:"clearance,omitempty"`
	MaxPlunge  *float64 `json:"max_plunge,omitempty"`
	ReferenceZ *float64 `json:"reference_z,omitempty"`

	SerialPort *string `json:"serial_port,omitempty"`
	BaudRate   *int    `json:"baud_rate,omitempty"`

	// ProgramDirs confines program paths received over the API. Empty
	// means unrestricted.
	ProgramDirs []string `json:"program_dirs,omitempty"`

	MeshPath    *string `json:"mesh_path,omitempty"`
	HistoryPath *string `json:"history_path,omitempty"`
	Listen      *string `json:"listen,omitempty"`
	LogFile     *string `json:"log_file,omitempty"`
	Debug       *bool   `json:"debug,omitempty"`
}

func strOr(p *string, def string) string {
	if p != nil {
		return *p
	}
	return def
}

func intOr(p *int, def int) int {
	if p != nil {
		return *p
	}
	return def
}

func floatOr(p *float64, def float64) float64 {
	if p != nil {
		return *p
	}
	return def
}

// Accessors with defaults.

func (s *Settings) GetGridMode() string    { return strOr(s.GridMode, GridModeSize) }
func (s *Settings) GetRows() int           { return intOr(s.Rows, 3) }
func (s *Settings) GetCols() int           { return intOr(s.Cols, 3) }
func (s *Settings) GetWidth() float64      { return floatOr(s.Width, 100) }
func (s *Settings) GetHeight() float64     { return floatOr(s.Height, 100) }
func (s *Settings) GetMargin() float64     { return floatOr(s.Margin, 5) }
func (s *Settings) GetProbeFeed() float64  { return floatOr(s.ProbeFeed, 50) }
func (s *Settings) GetTravelFeed() float64 { return floatOr(s.TravelFeed, 500) }
func (s *Settings) GetClearance() float64  { return floatOr(s.Clearance, 2) }
func (s *Settings) GetMaxPlunge() float64  { return floatOr(s.MaxPlunge, 10) }
func (s *Settings) GetReferenceZ() float64 { return floatOr(s.ReferenceZ, 0) }

func (s *Settings) GetSerialPort() string  { return strOr(s.SerialPort, "/dev/ttyUSB0") }
func (s *Settings) GetBaudRate() int       { return intOr(s.BaudRate, 115200) }
func (s *Settings) GetMeshPath() string    { return strOr(s.MeshPath, "surface-mesh.json") }
func (s *Settings) GetHistoryPath() string { return strOr(s.HistoryPath, "probe-history.db") }
func (s *Settings) GetListen() string      { return strOr(s.Listen, ":8337") }
func (s *Settings) GetLogFile() string     { return strOr(s.LogFile, "") }
func (s *Settings) GetDebug() bool {
	if s.Debug != nil {
		return *s.Debug
	}
	return false
}

func (s *Settings) GetProgramDirs() []string {
	return s.ProgramDirs
}

// Validate checks every populated field for finiteness and range. It runs
// before any motion, so a bad value never surfaces mid-run.
func (s *Settings) Validate() error {
	switch s.GetGridMode() {
	case GridModeBounds, GridModeSize:
	default:
		return fmt.Errorf("grid_mode must be %q or %q, got %q", GridModeBounds, GridModeSize, s.GetGridMode())
	}
	if s.GetRows() < 1 || s.GetCols() < 1 {
		return fmt.Errorf("rows and cols must be at least 1, got %dx%d", s.GetRows(), s.GetCols())
	}
	if s.GetRows() == 1 && s.GetCols() == 1 {
		return fmt.Errorf("a 1x1 grid cannot describe surface variation")
	}
	positives := map[string]float64{
		"probe_feed":  s.GetProbeFeed(),
		"travel_feed": s.GetTravelFeed(),
		"clearance":   s.GetClearance(),
		"max_plunge":  s.GetMaxPlunge(),
	}
	for name, v := range positives {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("%s must be a positive finite number, got %g", name, v)
		}
	}
	nonNegatives := map[string]float64{
		"width":  s.GetWidth(),
		"height": s.GetHeight(),
		"margin": s.GetMargin(),
	}
	for name, v := range nonNegatives {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%s must be a non-negative finite number, got %g", name, v)
		}
	}
	if v := s.GetReferenceZ(); math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("reference_z must be finite, got %g", v)
	}
	if s.GetBaudRate() <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", s.GetBaudRate())
	}
	return nil
}

// Load reads Settings from a JSON file. A missing file yields defaults.
func Load(path string) (*Settings, error) {
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if os.IsNotExist(err) {
		return &Settings{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	s := &Settings{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings JSON: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}
