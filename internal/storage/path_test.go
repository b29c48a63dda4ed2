package storage

import (
	"testing"
	"time"
)

func TestBuildExportPath(t *testing.T) {
	ts := time.Date(2026, time.February, 19, 22, 5, 0, 0, time.FixedZone("x", -5*3600))
	key, err := BuildExportPath("0d7c1c9e-3a4b-4e61-9f0e-2b8f6f7f1a11", ts)
	if err != nil {
		t.Fatalf("BuildExportPath() error = %v", err)
	}
	want := "aligned/date=2026-02-20/0d7c1c9e-3a4b-4e61-9f0e-2b8f6f7f1a11.parquet"
	if key != want {
		t.Fatalf("BuildExportPath() = %q, want %q", key, want)
	}
}

func TestBuildExportPathRejectsInvalidRunID(t *testing.T) {
	for _, runID := range []string{"", "../oops", "run/1", ".hidden"} {
		if _, err := BuildExportPath(runID, time.Now()); err == nil {
			t.Fatalf("BuildExportPath(%q) expected error", runID)
		}
	}
}
