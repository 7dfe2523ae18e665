package storage

import (
	"testing"
	"time"
)

func TestBuildArtifactKey(t *testing.T) {
	ts := time.Date(2026, time.February, 19, 4, 5, 0, 0, time.FixedZone("x", -5*3600))
	key, err := BuildArtifactKey("run-55", "report [2026-02-19].xlsx", ts)
	if err != nil {
		t.Fatalf("BuildArtifactKey() error = %v", err)
	}
	want := "date=2026-02-19/run-55/report [2026-02-19].xlsx"
	if key != want {
		t.Fatalf("BuildArtifactKey() = %q, want %q", key, want)
	}
}

func TestBuildArtifactKeyRejectsInvalidRunID(t *testing.T) {
	_, err := BuildArtifactKey("../oops", "report.csv", time.Now())
	if err == nil {
		t.Fatal("expected invalid run id error")
	}
}

func TestBuildArtifactKeyRejectsSeparatorsInFilename(t *testing.T) {
	for _, filename := range []string{"a/b.csv", `a\b.csv`, "..", "  ", "bad\nname.csv"} {
		if _, err := BuildArtifactKey("run-1", filename, time.Now()); err == nil {
			t.Fatalf("expected error for filename %q", filename)
		}
	}
}
