// Package orchestrator implements the Pipeline Orchestrator (C9, §4.9):
// the top-level loop that resolves the workflow's stage list, consults the
// Resume Planner, invokes the Stage Runner through a Stage I/O Context for
// every stage that must (re)execute, and writes the final JobReport.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"subpipe/internal/fingerprint"
	"subpipe/internal/hash"
	"subpipe/internal/job"
	"subpipe/internal/pipelinecfg"
	"subpipe/internal/pipelog"
	"subpipe/internal/registry"
	"subpipe/internal/report"
	"subpipe/internal/resume"
	"subpipe/internal/stageio"
	"subpipe/internal/stagerun"
	"subpipe/internal/ux"
	"subpipe/internal/workflow"
)

// Orchestrator drives one job's pipeline from descriptor to report.
type Orchestrator struct {
	JobDir     string
	Descriptor *job.Descriptor
	Registry   *registry.Registry
	Config     pipelinecfg.Config
	Dispatcher *stagerun.Dispatcher
	Logger     *pipelog.Logger
}

// Run executes §4.9's main loop and returns the final report. The returned
// error is non-nil only when the overall status is failed or an
// unrecoverable I/O error prevented the run from completing at all. Once
// the stage loop finishes (successfully, on a critical failure, or on
// cancellation) the report is written to disk before Run returns. When
// resume planning fails, or a stage context cannot be opened or closed,
// Run returns a nil report and writes no report.json.
func (o *Orchestrator) Run(ctx context.Context) (*report.Report, error) {
	plan, decisions, err := o.Status()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: resume planning: %w", err)
	}
	stageDirFn := o.stageDirFn()

	runStart := time.Now()
	var summaries []report.StageSummary
	skippedCount, reExecutedCount := 0, 0
	optionalFailureOccurred := false
	criticalFailureOccurred := false
	failedOptionalStages := map[string]bool{}
	overall := report.Success
	failedStageName := ""

stageLoop:
	for i, rs := range plan.Stages {
		spec := rs.Spec
		stageDir := stageDirFn(spec.Name)
		dec := decisions[i]

		if ctx.Err() != nil {
			ux.Cancelled(spec.Name)
			overall = report.Failed
			failedStageName = spec.Name
			break stageLoop
		}

		if !dec.MustRun {
			ux.StageCached(i, spec.Name)
			skippedCount++
			summaries = append(summaries, cachedSummary(spec, stageDir, dec))
			continue
		}

		// pipeline.stop_on_first_critical_failure = false (§6.5, §7 item 6's
		// "diagnostic mode"): a required stage downstream of a critical
		// failure is skipped rather than attempted against a broken
		// pipeline state; optional stages still get a chance to run.
		if criticalFailureOccurred && !rs.Optional {
			ux.StageSkippedMissingUpstream(i, spec.Name, failedStageName)
			summaries = append(summaries, report.StageSummary{
				Name: spec.Name, Index: spec.Index, Status: report.StageSkippedMissingUpstream,
			})
			continue
		}

		if missing, producer := missingUpstreamInput(o.JobDir, spec, failedOptionalStages); missing {
			ux.StageSkippedMissingUpstream(i, spec.Name, producer)
			summaries = append(summaries, report.StageSummary{
				Name: spec.Name, Index: spec.Index, Status: report.StageSkippedMissingUpstream,
			})
			continue
		}

		ux.StageHeader(i, len(plan.Stages), spec)
		stageStart := time.Now()

		sio, err := stageio.Open(o.JobDir, spec, o.Logger)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: opening stage context for %s: %w", spec.Name, err)
		}

		for _, in := range spec.DeclaredInputs {
			if err := sio.AddInput(in, ""); err != nil {
				sio.Note(err.Error())
			}
		}

		env := o.environmentFor(spec)
		sio.SetEnvironment(env)

		timeoutSeconds := o.Config.StageTimeoutSeconds(spec.Name, spec.DefaultTimeout)
		inv := stagerun.Invocation{
			JobDir:         o.JobDir,
			StageDir:       stageDir,
			Command:        spec.Command,
			Vars:           o.varsFor(spec, env),
			TimeoutSeconds: timeoutSeconds,
			Output:         sio.Logger().Writer(),
		}

		exitCode, runErr := o.Dispatcher.Dispatch(ctx, spec, inv)

		var outputErr error
		var violation bool
		for _, out := range spec.DeclaredOutputs {
			if aerr := sio.AddOutput(out.Path, out.Role); aerr != nil {
				if outputErr == nil {
					outputErr = aerr
				}
				var cv *stageio.StageContainmentViolation
				if errors.As(aerr, &cv) {
					violation = true
				}
			}
		}

		reason := ""
		switch {
		case outputErr != nil:
			reason = outputErr.Error()
		case runErr != nil:
			reason = runErr.Error()
		}

		finalExitCode := exitCode
		if (runErr != nil || outputErr != nil) && finalExitCode == 0 {
			finalExitCode = 1 // a declared-output lie or dispatch error still counts as a failed attempt (§4.9 step e)
		}

		closeErr := runErr
		if outputErr != nil {
			closeErr = outputErr
		}

		if finalExitCode == 0 && outputErr == nil {
			if fp, ferr := o.computeFingerprint(spec, env); ferr == nil {
				sio.SetFingerprint(fp)
			}
		}

		if cerr := sio.Close(finalExitCode, closeErr); cerr != nil {
			return nil, fmt.Errorf("orchestrator: closing stage context for %s: %w", spec.Name, cerr)
		}

		duration := time.Since(stageStart)
		reExecutedCount++
		stageFailed := finalExitCode != 0

		if stageFailed {
			if rs.Optional {
				ux.StageFailOptional(i, spec.Name, reason)
				failedOptionalStages[spec.Name] = true
				optionalFailureOccurred = true
				summaries = append(summaries, report.StageSummary{
					Name: spec.Name, Index: spec.Index, Status: report.StageFailedOptional,
					DurationSeconds: duration.Seconds(), ContainmentViolation: violation,
				})
				continue
			}

			ux.StageFail(i, spec.Name, reason)
			if violation {
				ux.ContainmentViolation(i, spec.Name)
			}
			summaries = append(summaries, report.StageSummary{
				Name: spec.Name, Index: spec.Index, Status: report.StageFailedCritical,
				DurationSeconds: duration.Seconds(), ContainmentViolation: violation,
			})
			overall = report.Failed
			failedStageName = spec.Name
			if o.Config.Pipeline.StopOnFirstCriticalFailure {
				break stageLoop
			}
			criticalFailureOccurred = true
			continue
		}

		ux.StageComplete(i, spec.Name, duration)
		summaries = append(summaries, report.StageSummary{
			Name: spec.Name, Index: spec.Index, Status: report.StageExecuted,
			DurationSeconds: duration.Seconds(),
			OutputPaths:     absoluteOutputPaths(stageDir, spec.DeclaredOutputs),
			LogPath:         filepath.Join(stageDir, "stage.log"),
		})
	}

	if overall == report.Success && optionalFailureOccurred {
		overall = report.PartialSuccess
	}

	rep := &report.Report{
		JobID:            o.Descriptor.JobID,
		OverallStatus:    overall,
		Stages:           summaries,
		TotalWallSeconds: time.Since(runStart).Seconds(),
		SkippedCount:     skippedCount,
		ReExecutedCount:  reExecutedCount,
	}
	if err := report.Store(o.JobDir, rep); err != nil {
		return rep, fmt.Errorf("orchestrator: writing report: %w", err)
	}

	switch overall {
	case report.Success:
		ux.Success(len(plan.Stages))
		return rep, nil
	case report.PartialSuccess:
		ux.PartialSuccess(len(plan.Stages))
		return rep, nil
	default:
		ux.Failed(failedStageName)
		return rep, fmt.Errorf("orchestrator: pipeline failed at stage %q", failedStageName)
	}
}

// stageDirFn resolves a plan stage name to its absolute stage directory.
func (o *Orchestrator) stageDirFn() func(name string) string {
	return func(name string) string {
		spec, err := o.Registry.ByName(name)
		if err != nil {
			return ""
		}
		return filepath.Join(o.JobDir, spec.StageDirName())
	}
}

// Status resolves the workflow plan and the Resume Planner's classification
// of every stage without executing anything — the `status` CLI command's
// entire job (§6.6), and Run's first step before it starts dispatching.
func (o *Orchestrator) Status() (workflow.Plan, []resume.Decision, error) {
	plan := workflow.Resolve(o.Registry, o.Descriptor.Workflow, o.Config)
	stageDirFn := o.stageDirFn()
	inputsFor := func(name string) resume.StageInputs {
		rs, _ := plan.ByName(name)
		return resume.StageInputs{
			DeclaredInputs:        rs.Spec.DeclaredInputs,
			Environment:           o.environmentFor(rs.Spec),
			DescriptorFingerprint: o.Descriptor.FingerprintSeed(),
		}
	}

	decisions, err := resume.Plan(o.JobDir, plan, stageDirFn, inputsFor)
	if err != nil {
		return plan, nil, err
	}
	if !o.Config.Pipeline.CacheEnabled {
		// pipeline.cache_enabled = false (§6.5): every stage re-executes
		// regardless of fingerprint, even ones the planner classified Done.
		for i := range decisions {
			decisions[i].MustRun = true
		}
	}
	return plan, decisions, nil
}

// environmentFor captures the config subset named in spec.EnvironmentKeys
// (§4.8), keyed by the full dotted "stage.<name>.<key>" name so it lands
// in the manifest exactly as it appears in config.
func (o *Orchestrator) environmentFor(spec registry.StageSpec) map[string]string {
	env := map[string]string{}
	prefix := "stage." + spec.Name + "."
	for _, key := range spec.EnvironmentKeys {
		suffix := strings.TrimPrefix(key, prefix)
		if v, ok := o.Config.StageValue(spec.Name, suffix); ok {
			env[key] = v
		}
	}
	return env
}

// varsFor builds the substitution map handed to the Stage Runner: fixed
// descriptor fields plus the captured environment subset, re-keyed to bare
// upper-case suffixes so the in-process pure_function (glossary_load) can
// read e.g. GLOSSARY_PATH directly; native_subprocess and container stage
// bodies receive the same entries as SUBPIPE_-prefixed environment
// variables (stagerun.BuildEnv).
func (o *Orchestrator) varsFor(spec registry.StageSpec, env map[string]string) map[string]string {
	vars := map[string]string{
		"JOB_ID":          o.Descriptor.JobID,
		"WORKFLOW":        string(o.Descriptor.Workflow),
		"SOURCE_LANGUAGE": o.Descriptor.SourceLanguage,
		"TARGET_LANGUAGE": o.Descriptor.TargetLanguage,
		"STAGE_NAME":      spec.Name,
	}
	prefix := "stage." + spec.Name + "."
	for key, v := range env {
		suffix := strings.TrimPrefix(key, prefix)
		vars[strings.ToUpper(suffix)] = v
	}
	return vars
}

func (o *Orchestrator) computeFingerprint(spec registry.StageSpec, env map[string]string) (string, error) {
	if len(spec.DeclaredInputs) == 0 {
		return fingerprint.ComputeDescriptorBased(spec.Version, o.Descriptor.FingerprintSeed(), env), nil
	}
	hasher := func(p string) (string, error) {
		_, digest, err := hash.SizeAndHash(filepath.Join(o.JobDir, p))
		if err != nil {
			return "", &fingerprint.ErrInputAbsent{Path: p}
		}
		return digest, nil
	}
	return fingerprint.Compute(spec.Version, spec.DeclaredInputs, env, hasher)
}

// missingUpstreamInput implements the conservative skipped_missing_upstream
// policy (§9's design-note resolution of the optional-stage-failure Open
// Question): if a declared input doesn't exist yet and the stage that was
// supposed to produce it already failed as optional this run, skip rather
// than attempt and fail noisily on an input nobody expects to exist.
func missingUpstreamInput(jobDir string, spec registry.StageSpec, failedOptional map[string]bool) (bool, string) {
	for _, in := range spec.DeclaredInputs {
		full := filepath.Join(jobDir, in)
		if _, err := os.Stat(full); err == nil {
			continue
		}
		producer := producerStageName(in)
		if failedOptional[producer] {
			return true, producer
		}
	}
	return false, ""
}

// producerStageName extracts "voice_activity_detect" from
// "05_voice_activity_detect/segments.json" using the registry's
// "<index>_<name>" stage directory convention.
func producerStageName(declaredInput string) string {
	dir := strings.SplitN(declaredInput, "/", 2)[0]
	parts := strings.SplitN(dir, "_", 2)
	if len(parts) != 2 {
		return dir
	}
	return parts[1]
}

func cachedSummary(spec registry.StageSpec, stageDir string, dec resume.Decision) report.StageSummary {
	s := report.StageSummary{Name: spec.Name, Index: spec.Index, Status: report.StageCached}
	if dec.PriorManifest != nil {
		s.DurationSeconds = dec.PriorManifest.DurationSeconds
		s.LogPath = filepath.Join(stageDir, "stage.log")
		s.OutputPaths = absoluteOutputPaths(stageDir, spec.DeclaredOutputs)
	}
	return s
}

func absoluteOutputPaths(stageDir string, outputs []registry.Output) []string {
	paths := make([]string, len(outputs))
	for i, o := range outputs {
		paths[i] = filepath.Join(stageDir, o.Path)
	}
	return paths
}
