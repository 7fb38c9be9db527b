// Package workflow resolves the ordered set of stages a job actually runs
// (§4.6's decision table), applying the registry's per-workflow
// required/optional rows together with any stage.<name>.enabled config
// overrides.
package workflow

import (
	"subpipe/internal/job"
	"subpipe/internal/pipelinecfg"
	"subpipe/internal/registry"
)

// Plan is the resolved, ordered list of stages to run for one job.
type Plan struct {
	Workflow job.Workflow
	Stages   []ResolvedStage
}

// ResolvedStage pairs a StageSpec with whether its failure is tolerated.
type ResolvedStage struct {
	Spec     registry.StageSpec
	Optional bool
}

// Resolve builds the Plan for wf using reg's decision table, honoring
// config overrides that disable an otherwise-allowed optional stage
// (§4.6: "config-based optional-stage enable/disable"). A disabled stage
// is dropped from the plan entirely rather than left in as a guaranteed
// skip, since the Resume Planner only reasons about scheduled stages.
func Resolve(reg *registry.Registry, wf job.Workflow, cfg pipelinecfg.Config) Plan {
	plan := Plan{Workflow: wf}
	for _, spec := range reg.ForWorkflow(wf) {
		optional := spec.OptionalForWorkflow(wf)
		if optional && !cfg.StageEnabled(spec.Name) {
			continue
		}
		plan.Stages = append(plan.Stages, ResolvedStage{Spec: spec, Optional: optional})
	}
	return plan
}

// Names returns the ordered stage names in the plan, a convenience for
// logging and the status CLI command.
func (p Plan) Names() []string {
	out := make([]string, len(p.Stages))
	for i, s := range p.Stages {
		out[i] = s.Spec.Name
	}
	return out
}

// ByName finds a resolved stage in the plan by name.
func (p Plan) ByName(name string) (ResolvedStage, bool) {
	for _, s := range p.Stages {
		if s.Spec.Name == name {
			return s, true
		}
	}
	return ResolvedStage{}, false
}
