package mesh

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// DocumentVersion is the current on-disk mesh document version.
const DocumentVersion = 1

// Document is the persisted form of a mesh and its grid parameters.
type Document struct {
	Version    int           `json:"version"`
	Timestamp  string        `json:"timestamp"`
	GridParams GridParams    `json:"gridParams"`
	Mesh       [][]MeshPoint `json:"mesh"`
}

// Save writes the mesh to path as a versioned JSON document.
func Save(path string, m *SurfaceMesh, now time.Time) error {
	doc := Document{
		Version:    DocumentVersion,
		Timestamp:  now.UTC().Format(time.RFC3339),
		GridParams: m.Params,
		Mesh:       m.Points,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode mesh document: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write mesh document: %w", err)
	}
	return nil
}

// Load reads a previously saved mesh from path. A missing file is not an
// error: it returns (nil, nil) and callers treat it as "no prior mesh". A
// present but unreadable or mismatched document returns an error the caller
// may log and otherwise ignore.
func Load(path string) (*SurfaceMesh, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read mesh document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse mesh document: %w", err)
	}
	if doc.Version != DocumentVersion {
		return nil, fmt.Errorf("unsupported mesh document version %d", doc.Version)
	}
	if err := doc.GridParams.Validate(); err != nil {
		return nil, fmt.Errorf("mesh document grid invalid: %w", err)
	}
	if len(doc.Mesh) != doc.GridParams.Rows {
		return nil, fmt.Errorf("mesh document has %d rows, grid says %d", len(doc.Mesh), doc.GridParams.Rows)
	}
	for r, row := range doc.Mesh {
		if len(row) != doc.GridParams.Cols {
			return nil, fmt.Errorf("mesh document row %d has %d cols, grid says %d", r, len(row), doc.GridParams.Cols)
		}
	}
	return &SurfaceMesh{Params: doc.GridParams, Points: doc.Mesh}, nil
}
