package db

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestRunLifecycle(t *testing.T) {
	h := newTestHistory(t)
	id := uuid.New()
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := h.StartRun(id, 3, 4, start); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	runs, err := h.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	r := runs[0]
	if r.ID != id || r.Rows != 3 || r.Cols != 4 {
		t.Errorf("run = %+v", r)
	}
	if r.Status != RunStatusActive {
		t.Errorf("status = %q, want active", r.Status)
	}
	if r.FinishedAt != nil {
		t.Error("FinishedAt set on an active run")
	}

	if err := h.FinishRun(id, RunStatusFailed, "machine alarm: 4", start.Add(time.Minute)); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	runs, err = h.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	r = runs[0]
	if r.Status != RunStatusFailed || r.Error != "machine alarm: 4" {
		t.Errorf("finished run = %+v", r)
	}
	if r.FinishedAt == nil {
		t.Error("FinishedAt missing on a finished run")
	}
}

func TestListRunsNewestFirstWithLimit(t *testing.T) {
	h := newTestHistory(t)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	ids := make([]uuid.UUID, 3)
	for i := range ids {
		ids[i] = uuid.New()
		if err := h.StartRun(ids[i], 2, 2, base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("StartRun %d: %v", i, err)
		}
	}

	runs, err := h.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != ids[2] || runs[1].ID != ids[1] {
		t.Errorf("runs not newest first: %v then %v", runs[0].ID, runs[1].ID)
	}
}

func TestRunSamples(t *testing.T) {
	h := newTestHistory(t)
	id := uuid.New()
	other := uuid.New()
	now := time.Now()

	if err := h.StartRun(id, 1, 2, now); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	// insert out of probe order; the query must sort by row then col
	if err := h.RecordSample(id, 0, 1, 10, 0, -0.5, now); err != nil {
		t.Fatalf("RecordSample: %v", err)
	}
	if err := h.RecordSample(id, 0, 0, 0, 0, 0.25, now); err != nil {
		t.Fatalf("RecordSample: %v", err)
	}
	if err := h.RecordSample(other, 0, 0, 99, 99, 99, now); err != nil {
		t.Fatalf("RecordSample: %v", err)
	}

	samples, err := h.RunSamples(id)
	if err != nil {
		t.Fatalf("RunSamples: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(samples))
	}
	if samples[0].Col != 0 || samples[0].Z != 0.25 {
		t.Errorf("first sample = %+v", samples[0])
	}
	if samples[1].Col != 1 || samples[1].Z != -0.5 {
		t.Errorf("second sample = %+v", samples[1])
	}
}

func TestOpenCreatesFileDatabase(t *testing.T) {
	path := t.TempDir() + "/history.db"
	h, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()
	if err := h.StartRun(uuid.New(), 2, 2, time.Now()); err != nil {
		t.Fatalf("StartRun against file database: %v", err)
	}
}
