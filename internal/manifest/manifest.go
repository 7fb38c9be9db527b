// Package manifest is the purely file-backed Manifest Store (§4.3): no
// in-memory index, parse failures are never fatal on their own — the
// Resume Planner treats a malformed or absent manifest.json identically
// (§7 error kind 2).
package manifest

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"subpipe/internal/atomicfile"
)

// Entry is one recorded input or output file (§6.2).
type Entry struct {
	Path      string `json:"path"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
	Role      string `json:"role,omitempty"`
}

// Manifest is the per-stage-attempt record (§3 StageManifest, §6.2).
type Manifest struct {
	StageName       string            `json:"stage_name"`
	StageIndex      int               `json:"stage_index"`
	StageVersion    string            `json:"stage_version"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      time.Time         `json:"finished_at"`
	DurationSeconds float64           `json:"duration_seconds"`
	ExitCode        int               `json:"exit_code"`
	Fingerprint     string            `json:"fingerprint"`
	Inputs          []Entry           `json:"inputs"`
	Outputs         []Entry           `json:"outputs"`
	Environment     map[string]string `json:"environment,omitempty"`
	Notes           []string          `json:"notes,omitempty"`
	ContainmentViolation bool         `json:"containment_violation,omitempty"`
}

func path(stageDir string) string {
	return filepath.Join(stageDir, "manifest.json")
}

// Load reads stage_dir/manifest.json. A missing file returns (nil, nil);
// a parse failure is silently treated the same way rather than propagated,
// since per §4.3/§7 both cases mean "treated as missing" for resume
// purposes. Genuine I/O errors other than "not exist" are still propagated.
func Load(stageDir string) (*Manifest, error) {
	data, err := os.ReadFile(path(stageDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil // malformed manifest: treated as missing, not an error
	}
	return &m, nil
}

// Store writes the manifest atomically, overwriting any prior attempt for
// this stage (§3: "re-runs overwrite manifests ... only").
func Store(stageDir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.Write(path(stageDir), data, 0644)
}
