package stagerun

import (
	"context"
	"fmt"
)

// PureFunction is a stage body that runs in-process inside the
// orchestrator (§4.8: "for trivial stages such as glossary_load"). It
// receives the same job_dir/stage_dir/vars an external stage body would
// and returns an exit code rather than an error, so its contract matches
// native_subprocess and container exactly from the orchestrator's
// perspective.
type PureFunction func(ctx context.Context, inv Invocation) (exitCode int, err error)

// PureFunctionRegistry maps stage name to its in-process implementation.
type PureFunctionRegistry struct {
	fns map[string]PureFunction
}

// NewPureFunctionRegistry builds the registry with the built-in stage
// implementations wired in.
func NewPureFunctionRegistry() *PureFunctionRegistry {
	r := &PureFunctionRegistry{fns: map[string]PureFunction{}}
	r.Register("glossary_load", GlossaryLoad)
	return r
}

// Register adds (or overrides, for tests) the implementation for a stage name.
func (r *PureFunctionRegistry) Register(stageName string, fn PureFunction) {
	r.fns[stageName] = fn
}

// PureFunctionLauncher dispatches to the named in-process implementation.
// It identifies which function to run from inv.Vars["STAGE_NAME"], set by
// the orchestrator when it builds the Invocation.
type PureFunctionLauncher struct {
	Registry *PureFunctionRegistry
}

func (p *PureFunctionLauncher) Launch(ctx context.Context, inv Invocation) (int, error) {
	name := inv.Vars["STAGE_NAME"]
	fn, ok := p.Registry.fns[name]
	if !ok {
		return 0, fmt.Errorf("stagerun: no pure_function registered for stage %q", name)
	}
	return fn(ctx, inv)
}
