package stagerun

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"
)

// ContainerLauncher spawns a stage body inside a container (§4.8 kind
// container): job_dir is mounted read-write, and an optional shared model
// cache directory is mounted read-only. The mount boundary is the only
// legal input/output surface — the stage body inside the container sees
// only what's under those two mount points.
//
// This shells out to the docker CLI rather than linking a container
// SDK: the orchestrator's contract with a container stage is "run this
// image against these two mounts and report the exit code", which a single
// `docker run` invocation satisfies without pulling in image-build or
// registry-push machinery this orchestrator never needs.
type ContainerLauncher struct {
	// ModelCacheDir, if set, is bind-mounted read-only at /model-cache.
	ModelCacheDir string

	// GraceSecondsDefault is used when an Invocation doesn't specify one.
	GraceSecondsDefault int

	// binary is the container runtime executable; always "docker" outside
	// tests. Tests override it to exercise the timeout/terminate path
	// without a real container runtime or image.
	binary string
}

const (
	containerJobMount   = "/job"
	containerCacheMount = "/model-cache"
)

// Launch runs the container in the foreground with docker's default
// sig-proxy behavior, so a SIGTERM delivered to the `docker run` process is
// forwarded to the container itself rather than just killing the CLI and
// orphaning it. Timeout/cancellation enforcement mirrors
// NativeSubprocessLauncher.Launch exactly: terminate, wait up to grace
// seconds, then escalate to SIGKILL (§4.8/§5 apply identically regardless
// of stage kind).
func (c *ContainerLauncher) Launch(ctx context.Context, inv Invocation) (int, error) {
	grace := inv.GraceSeconds
	if grace == 0 {
		grace = c.defaultGrace()
	}

	cmd := c.command(inv)
	cmd.Stdout = inv.Output
	cmd.Stderr = inv.Output

	if err := cmd.Start(); err != nil {
		return 0, err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	runCtx := ctx
	var timeoutCancel context.CancelFunc
	if inv.TimeoutSeconds > 0 {
		runCtx, timeoutCancel = context.WithTimeout(ctx, time.Duration(inv.TimeoutSeconds)*time.Second)
		defer timeoutCancel()
	}

	select {
	case err := <-done:
		return exitCode(err)
	case <-runCtx.Done():
		terminate(cmd, done, grace)
		if inv.TimeoutSeconds > 0 && ctx.Err() == nil {
			return timeoutExitCode, nil
		}
		return cancelledExitCode, nil
	}
}

// command builds the docker invocation. Substituting c.binary lets tests
// exercise the timeout/terminate path with a plain binary like "sleep"
// instead of a real container runtime and image.
func (c *ContainerLauncher) command(inv Invocation) *exec.Cmd {
	if c.binary != "" {
		return exec.Command(c.binary, inv.Command, inv.JobDir, inv.StageDir)
	}

	args := []string{
		"run", "--rm",
		"-v", fmt.Sprintf("%s:%s:rw", inv.JobDir, containerJobMount),
	}
	if c.ModelCacheDir != "" {
		args = append(args, "-v", fmt.Sprintf("%s:%s:ro", c.ModelCacheDir, containerCacheMount))
	}
	for _, e := range BuildEnv(inv.Vars) {
		args = append(args, "-e", e)
	}
	// The stage directory lives under job_dir on the host; hand the body
	// its path under the job mount so it is reachable inside the container.
	stageArg := inv.StageDir
	if rel, err := filepath.Rel(inv.JobDir, inv.StageDir); err == nil {
		stageArg = containerJobMount + "/" + filepath.ToSlash(rel)
	}
	args = append(args, inv.Command, containerJobMount, stageArg)

	return exec.Command("docker", args...)
}

func (c *ContainerLauncher) defaultGrace() int {
	if c.GraceSecondsDefault > 0 {
		return c.GraceSecondsDefault
	}
	return 10
}
