// Package stageio implements the Stage I/O Context (§4.2): the per-stage
// scoped object created at stage entry and released at stage exit. It is
// the sole legal write surface for a stage body and the only place a
// StageManifest is ever assembled.
package stageio

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"subpipe/internal/atomicfile"
	"subpipe/internal/hash"
	"subpipe/internal/manifest"
	"subpipe/internal/pipelog"
	"subpipe/internal/registry"
)

// StageContainmentViolation is returned by AddOutput (and recorded on the
// manifest) when a stage tries to record an output outside its own stage
// directory (§4.2's failure semantics, §7 error kind 3).
type StageContainmentViolation struct {
	StageDir string
	Path     string
}

func (e *StageContainmentViolation) Error() string {
	return fmt.Sprintf("stageio: output path %q escapes stage directory %q", e.Path, e.StageDir)
}

// Context is the per-stage scoped workspace (§4.2).
type Context struct {
	jobDir   string
	stageDir string
	spec     registry.StageSpec
	logger   *pipelog.Logger

	m                    *manifest.Manifest
	containmentViolation bool
}

// Open creates job_dir/<index>_<name>/ if absent, opens the stage's own
// logger (mirroring into the pipeline-wide log per §5), and initializes a
// fresh manifest skeleton with started_at. The caller must call Close
// exactly once, regardless of how the stage body terminates.
func Open(jobDir string, spec registry.StageSpec, pipelineLogger *pipelog.Logger) (*Context, error) {
	stageDir := filepath.Join(jobDir, spec.StageDirName())
	if err := atomicfile.EnsureDir(stageDir); err != nil {
		return nil, fmt.Errorf("stageio: creating stage directory: %w", err)
	}
	stageLogger, err := pipelineLogger.ForStage(stageDir, spec.Name)
	if err != nil {
		return nil, fmt.Errorf("stageio: opening stage logger: %w", err)
	}
	return &Context{
		jobDir:   jobDir,
		stageDir: stageDir,
		spec:     spec,
		logger:   stageLogger,
		m: &manifest.Manifest{
			StageName:    spec.Name,
			StageIndex:   spec.Index,
			StageVersion: spec.Version,
			StartedAt:    time.Now(),
			Environment:  map[string]string{},
		},
	}, nil
}

// StageDir is the sole legal write target for the stage body.
func (c *Context) StageDir() string { return c.stageDir }

// Logger returns the per-stage logger.
func (c *Context) Logger() *pipelog.Logger { return c.logger }

// AddInput records a declared input, hashing it immediately so the
// recorded digest reflects the file's content at the moment the stage
// actually consumed it. path is relative to job_dir (possibly pointing
// into a sibling stage directory).
func (c *Context) AddInput(relPath, role string) error {
	size, digest, err := hash.SizeAndHash(filepath.Join(c.jobDir, relPath))
	if err != nil {
		return fmt.Errorf("stageio: hashing input %q: %w", relPath, err)
	}
	c.m.Inputs = append(c.m.Inputs, manifest.Entry{Path: relPath, SHA256: digest, SizeBytes: size, Role: role})
	return nil
}

// AddOutput records a declared output. relPath is relative to stage_dir.
// If it resolves outside stage_dir, this is a StageContainmentViolation:
// fatal for the stage, but still recorded (Close still writes a manifest).
func (c *Context) AddOutput(relPath, role string) error {
	full := filepath.Join(c.stageDir, relPath)
	if !withinDir(c.stageDir, full) {
		c.containmentViolation = true
		return &StageContainmentViolation{StageDir: c.stageDir, Path: relPath}
	}
	size, digest, err := hash.SizeAndHash(full)
	if err != nil {
		return fmt.Errorf("stageio: hashing output %q: %w", relPath, err)
	}
	c.m.Outputs = append(c.m.Outputs, manifest.Entry{Path: relPath, SHA256: digest, SizeBytes: size, Role: role})
	return nil
}

// SetEnvironment records the captured config subset for this stage attempt
// (§4.8: "the subset of config keys listed in environment_keys").
func (c *Context) SetEnvironment(env map[string]string) {
	c.m.Environment = env
}

// SetFingerprint records the computed fp(S) (§4.11) for this attempt.
func (c *Context) SetFingerprint(fp string) {
	c.m.Fingerprint = fp
}

// Note appends a free-form diagnostic string (§3 StageManifest.notes).
func (c *Context) Note(note string) {
	c.m.Notes = append(c.m.Notes, note)
}

// withinDir reports whether candidate is dir itself or lives under it,
// after resolving both to absolute, cleaned paths.
func withinDir(dir, candidate string) bool {
	dir = filepath.Clean(dir)
	candidate = filepath.Clean(candidate)
	if candidate == dir {
		return true
	}
	return strings.HasPrefix(candidate, dir+string(filepath.Separator))
}

// Close finalizes the manifest (sets finished_at, duration_seconds,
// exit_code) and writes it atomically, regardless of the stage's outcome
// (§4.2: "On scope exit (success or exception)..."). runErr, if non-nil,
// is recorded in notes by its error message; the caller decides the
// recorded exit_code (a non-zero process exit code, or a conventional code
// such as 124/130 for timeout/cancellation).
func (c *Context) Close(exitCode int, runErr error) error {
	defer c.logger.Close()

	c.m.FinishedAt = time.Now()
	c.m.DurationSeconds = c.m.FinishedAt.Sub(c.m.StartedAt).Seconds()
	c.m.ExitCode = exitCode
	c.m.ContainmentViolation = c.containmentViolation
	if runErr != nil {
		c.m.Notes = append(c.m.Notes, runErr.Error())
	}
	return manifest.Store(c.stageDir, c.m)
}
