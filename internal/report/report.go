// Package report is the Job Report Writer (C10, §4.10): it consolidates
// per-stage outcomes into a single job_dir/report.json, written exactly
// once at the end of a run (successful or not).
package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"subpipe/internal/atomicfile"
)

// OverallStatus is the job-level outcome (§3 JobReport).
type OverallStatus string

const (
	Success        OverallStatus = "success"
	PartialSuccess OverallStatus = "partial_success"
	Failed         OverallStatus = "failed"
)

// StageStatus records how a stage's attempt (or non-attempt) is reflected
// in the report (§4.10: "executed, cached, or skipped-optional").
type StageStatus string

const (
	StageExecuted              StageStatus = "executed"
	StageCached                StageStatus = "cached"
	StageFailedOptional        StageStatus = "failed_optional"
	StageFailedCritical        StageStatus = "failed_critical"
	StageSkippedMissingUpstream StageStatus = "skipped_missing_upstream"
)

// StageSummary is one stage's entry in the report.
type StageSummary struct {
	Name                 string      `json:"name"`
	Index                int         `json:"index"`
	Status               StageStatus `json:"status"`
	DurationSeconds      float64     `json:"duration_seconds"`
	OutputPaths          []string    `json:"output_paths,omitempty"`
	LogPath              string      `json:"log_path"`
	ContainmentViolation bool        `json:"containment_violation,omitempty"`
}

// Report is the JobReport (§3, §4.10).
type Report struct {
	JobID            string         `json:"job_id"`
	OverallStatus    OverallStatus  `json:"overall_status"`
	Stages           []StageSummary `json:"stages"`
	TotalWallSeconds float64        `json:"total_wall_seconds"`
	SkippedCount     int            `json:"skipped_count"`
	ReExecutedCount  int            `json:"re_executed_count"`
	GeneratedAt      time.Time      `json:"generated_at"`
}

func path(jobDir string) string {
	return filepath.Join(jobDir, "report.json")
}

// Store writes the report atomically to job_dir/report.json (§3: "Job is
// considered complete when the orchestrator writes job_dir/report.json").
func Store(jobDir string, r *Report) error {
	r.GeneratedAt = time.Now()
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.Write(path(jobDir), data, 0644)
}

// Load reads a previously written report, e.g. for diagnostics tooling.
func Load(jobDir string) (*Report, error) {
	data, err := os.ReadFile(path(jobDir))
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
