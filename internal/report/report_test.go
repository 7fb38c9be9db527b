package report

import "testing"

func TestStoreLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	r := &Report{
		JobID:         "job-1",
		OverallStatus: Success,
		Stages: []StageSummary{
			{Name: "demux", Index: 1, Status: StageExecuted, OutputPaths: []string{"/job/01_demux/audio.wav"}},
		},
		SkippedCount:    0,
		ReExecutedCount: 1,
	}
	if err := Store(dir, r); err != nil {
		t.Fatalf("Store: %v", err)
	}
	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.JobID != r.JobID || loaded.OverallStatus != Success || len(loaded.Stages) != 1 {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
	if loaded.GeneratedAt.IsZero() {
		t.Fatal("expected GeneratedAt to be stamped")
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error loading a nonexistent report")
	}
}
