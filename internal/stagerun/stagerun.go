// Package stagerun implements the Stage Runner (§4.8): it launches a stage
// body according to its kind and returns an exit code. It never interprets
// the exit code itself — that's the orchestrator's job (§7).
package stagerun

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"subpipe/internal/registry"
)

// Invocation is everything a Launcher needs to run one stage attempt.
type Invocation struct {
	JobDir         string
	StageDir       string
	Command        string            // native_subprocess: binary name; container: image reference
	Vars           map[string]string // stage vars (descriptor fields, STAGE_NAME, stage config); exported to subprocesses by BuildEnv
	TimeoutSeconds int               // 0 = no timeout
	GraceSeconds   int               // grace period between terminate and kill signals
	Output         io.Writer         // where stdout+stderr are streamed (the stage's pipelog.Logger.Writer())
}

// Launcher runs a stage body of one specific Kind.
type Launcher interface {
	Launch(ctx context.Context, inv Invocation) (exitCode int, err error)
}

// Dispatcher routes an Invocation to the Launcher for spec.Kind. Tests
// substitute fakes per Kind the same way the teacher substitutes a fake
// Dispatcher.
type Dispatcher struct {
	launchers map[registry.Kind]Launcher
}

// NewDispatcher wires the three real launcher implementations.
func NewDispatcher(pureFunctions *PureFunctionRegistry) *Dispatcher {
	return &Dispatcher{launchers: map[registry.Kind]Launcher{
		registry.KindNativeSubprocess: &NativeSubprocessLauncher{},
		registry.KindContainer:        &ContainerLauncher{},
		registry.KindPureFunction:     &PureFunctionLauncher{Registry: pureFunctions},
	}}
}

// WithLauncher overrides (or adds) the launcher for one kind; used by tests
// to substitute fakes without touching the other kinds.
func (d *Dispatcher) WithLauncher(kind registry.Kind, l Launcher) {
	d.launchers[kind] = l
}

// Dispatch runs spec's stage body via the launcher registered for its Kind.
func (d *Dispatcher) Dispatch(ctx context.Context, spec registry.StageSpec, inv Invocation) (int, error) {
	l, ok := d.launchers[spec.Kind]
	if !ok {
		return 0, fmt.Errorf("stagerun: no launcher registered for kind %q", spec.Kind)
	}
	return l.Launch(ctx, inv)
}

// ExpandVars substitutes ${VAR} / $VAR references in template using vars,
// falling back to the process environment — the same two-tier lookup the
// teacher's dispatch.ExpandVars uses.
func ExpandVars(template string, vars map[string]string) string {
	return os.Expand(template, func(key string) string {
		if v, ok := vars[key]; ok {
			return v
		}
		return os.Getenv(key)
	})
}

// BuildEnv flattens vars into "KEY=VALUE" process environment entries,
// inheriting the current process environment and prefixing stage-specific
// entries with SUBPIPE_ so a stage body can distinguish them from ambient
// variables, mirroring the teacher's ORC_-prefixed convention.
func BuildEnv(vars map[string]string) []string {
	base := os.Environ()
	out := make([]string, len(base), len(base)+len(vars))
	copy(out, base)
	for k, v := range vars {
		out = append(out, "SUBPIPE_"+strings.ToUpper(k)+"="+v)
	}
	return out
}

// Preflight checks that the binaries required by a set of stage kinds are
// on PATH before the pipeline starts (§4.8; adapted from the teacher's
// dispatch.Preflight, generalized from phase types to stage kinds).
func Preflight(stages []registry.StageSpec) error {
	needed := map[string]bool{}
	for _, s := range stages {
		switch s.Kind {
		case registry.KindNativeSubprocess:
			needed[s.Command] = true
		case registry.KindContainer:
			needed["docker"] = true
		}
	}
	var missing []string
	for bin := range needed {
		if _, err := exec.LookPath(bin); err != nil {
			missing = append(missing, bin)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("stagerun: required binaries not found in PATH: %s", strings.Join(missing, ", "))
	}
	return nil
}
