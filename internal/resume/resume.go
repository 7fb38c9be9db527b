// Package resume implements the Resume Planner (§4.7): reads existing
// manifests, classifies each stage Done/Stale/Failed/Missing, and decides
// which stages must (re)execute this run.
package resume

import (
	"path/filepath"

	"subpipe/internal/fingerprint"
	"subpipe/internal/hash"
	"subpipe/internal/manifest"
	"subpipe/internal/workflow"
)

// Classification is a stage's resume status (§4.7).
type Classification string

const (
	Done     Classification = "done"
	Stale    Classification = "stale"
	Failed   Classification = "failed"
	Missing  Classification = "missing"
	Deferred Classification = "deferred" // a declared input doesn't exist yet (§4.11 edge case)
)

// StageInputs is what the caller must supply per stage to classify and
// re-fingerprint it: the resolved (template-free) declared input paths,
// relative to job_dir, and the captured environment subset. For stages
// with no declared inputs, DescriptorFingerprint stands in for file
// content per §4.11's descriptor-based fallback.
type StageInputs struct {
	DeclaredInputs        []string
	Environment           map[string]string
	DescriptorFingerprint string // used only when DeclaredInputs is empty
}

// Decision is the resume outcome for one stage.
type Decision struct {
	StageName      string
	Classification Classification
	MustRun        bool
	PriorManifest  *manifest.Manifest // nil if Missing
}

// jobDirHasher adapts internal/hash to fingerprint.InputHasher, resolving
// paths relative to job_dir.
func jobDirHasher(jobDir string) fingerprint.InputHasher {
	return func(relPath string) (string, error) {
		_, digest, err := hash.SizeAndHash(filepath.Join(jobDir, relPath))
		if err != nil {
			return "", &fingerprint.ErrInputAbsent{Path: relPath}
		}
		return digest, nil
	}
}

// Classify determines one stage's classification without applying the
// cross-stage invalidation policy (that's Plan's job).
func Classify(jobDir, stageDir string, spec workflow.ResolvedStage, in StageInputs) (Classification, *manifest.Manifest, error) {
	m, err := manifest.Load(stageDir)
	if err != nil {
		return Missing, nil, err
	}
	if m == nil {
		return Missing, nil, nil
	}
	if m.ExitCode != 0 {
		return Failed, m, nil
	}

	if !outputsIntact(stageDir, m.Outputs) {
		return Stale, m, nil
	}

	var currentFP string
	if len(in.DeclaredInputs) == 0 {
		currentFP = fingerprint.ComputeDescriptorBased(spec.Spec.Version, in.DescriptorFingerprint, in.Environment)
	} else {
		currentFP, err = fingerprint.Compute(spec.Spec.Version, in.DeclaredInputs, in.Environment, jobDirHasher(jobDir))
		if err != nil {
			return Deferred, m, nil
		}
	}

	if currentFP != m.Fingerprint {
		return Stale, m, nil
	}
	return Done, m, nil
}

// outputsIntact checks the §8 invariant 4: every recorded output exists
// and still hashes to the recorded digest.
func outputsIntact(stageDir string, outputs []manifest.Entry) bool {
	for _, o := range outputs {
		_, digest, err := hash.SizeAndHash(filepath.Join(stageDir, o.Path))
		if err != nil || digest != o.SHA256 {
			return false
		}
	}
	return true
}

// Plan classifies every stage in order and applies the §4.7 invalidation
// policy: the lowest-indexed non-Done stage, and everything after it, must
// (re)execute — except that an optional stage classified Failed does not
// invalidate successors (it still reruns itself, since it isn't Done).
func Plan(jobDir string, plan workflow.Plan, stageDir func(name string) string, inputsFor func(name string) StageInputs) ([]Decision, error) {
	decisions := make([]Decision, 0, len(plan.Stages))
	invalidated := false
	for _, rs := range plan.Stages {
		cls, m, err := Classify(jobDir, stageDir(rs.Spec.Name), rs, inputsFor(rs.Spec.Name))
		if err != nil {
			return nil, err
		}
		mustRun := invalidated || cls != Done
		decisions = append(decisions, Decision{
			StageName:      rs.Spec.Name,
			Classification: cls,
			MustRun:        mustRun,
			PriorManifest:  m,
		})
		if cls != Done && !(rs.Optional && cls == Failed) {
			invalidated = true
		}
	}
	return decisions, nil
}
