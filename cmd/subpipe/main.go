package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"subpipe/internal/atomicfile"
	"subpipe/internal/job"
	"subpipe/internal/orchestrator"
	"subpipe/internal/pipelinecfg"
	"subpipe/internal/pipelog"
	"subpipe/internal/registry"
	"subpipe/internal/stagerun"
	"subpipe/internal/ux"
)

// cancelled marks a run that failed because the process itself was
// signalled, so main can map it to exit code 2 (§6.6) instead of the
// generic critical-failure code 1.
type cancelled struct{ err error }

func (c *cancelled) Error() string { return c.err.Error() }
func (c *cancelled) Unwrap() error { return c.err }

func main() {
	app := &cli.Command{
		Name:  "subpipe",
		Usage: "Deterministic audiovisual subtitling/transcription/translation pipeline",
		Commands: []*cli.Command{
			prepareCmd(),
			runCmd(),
			statusCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%serror:%s %v\n", ux.Red, ux.Reset, err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	var c *cancelled
	if errors.As(err, &c) {
		return 2
	}
	return 1
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Execute the pipeline for a prepared job directory",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "job", Usage: "path to the job directory", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			jobDir := cmd.String("job")

			d, err := job.Load(jobDir)
			if err != nil {
				return fmt.Errorf("loading descriptor: %w", err)
			}

			cfg, err := pipelinecfg.Resolve(d.Config, os.Getenv("CONFIG_FILE"))
			if err != nil {
				return fmt.Errorf("resolving config: %w", err)
			}

			reg := registry.Default()
			if err := stagerun.Preflight(reg.ForWorkflow(d.Workflow)); err != nil {
				return err
			}

			logger, err := pipelog.New(jobDir, pipelog.ParseLevel(os.Getenv("LOG_LEVEL")))
			if err != nil {
				return fmt.Errorf("opening pipeline log: %w", err)
			}
			defer logger.Close()

			sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			orc := &orchestrator.Orchestrator{
				JobDir:     jobDir,
				Descriptor: d,
				Registry:   reg,
				Config:     cfg,
				Dispatcher: stagerun.NewDispatcher(stagerun.NewPureFunctionRegistry()),
				Logger:     logger,
			}

			_, runErr := orc.Run(sigCtx)
			if runErr != nil {
				if sigCtx.Err() != nil {
					return &cancelled{err: runErr}
				}
				return runErr
			}
			return nil
		},
	}
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Print each stage's resume classification without running anything",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "job", Usage: "path to the job directory", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			jobDir := cmd.String("job")

			d, err := job.Load(jobDir)
			if err != nil {
				return fmt.Errorf("loading descriptor: %w", err)
			}

			cfg, err := pipelinecfg.Resolve(d.Config, os.Getenv("CONFIG_FILE"))
			if err != nil {
				return fmt.Errorf("resolving config: %w", err)
			}

			orc := &orchestrator.Orchestrator{
				JobDir:     jobDir,
				Descriptor: d,
				Registry:   registry.Default(),
				Config:     cfg,
			}

			_, decisions, err := orc.Status()
			if err != nil {
				return fmt.Errorf("resume planning: %w", err)
			}

			ux.RenderStatus(d, decisions)
			return nil
		},
	}
}

// prepareCmd is the expansion's missing half of §6.1's job directory
// layout: spec.md only specifies that a descriptor.json exists, not how
// one gets created. It mirrors job.Descriptor.Save's comment that it is
// "used by the prepare CLI command".
func prepareCmd() *cli.Command {
	return &cli.Command{
		Name:  "prepare",
		Usage: "Create a new job directory with a descriptor.json",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "job", Usage: "job directory to create", Required: true},
			&cli.StringFlag{Name: "input", Usage: "absolute path to the source media file", Required: true},
			&cli.StringFlag{Name: "workflow", Usage: "subtitle | transcribe | translate", Required: true},
			&cli.StringFlag{Name: "source", Usage: "source language, ISO-639-1 code or auto", Required: true},
			&cli.StringFlag{Name: "target", Usage: "target language, ISO-639-1 code (required for subtitle/translate)"},
			&cli.StringSliceFlag{Name: "config", Usage: `dotted config override, e.g. --config stage.asr.model=large-v3 (repeatable)`},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			jobDir := cmd.String("job")
			if err := atomicfile.EnsureDir(jobDir); err != nil {
				return fmt.Errorf("creating job directory: %w", err)
			}

			input, err := filepath.Abs(cmd.String("input"))
			if err != nil {
				return fmt.Errorf("resolving input path: %w", err)
			}

			createdAt := time.Now()
			d := &job.Descriptor{
				JobID:          newJobID(createdAt),
				JobDir:         jobDir,
				InputMedia:     input,
				Workflow:       job.Workflow(cmd.String("workflow")),
				SourceLanguage: cmd.String("source"),
				TargetLanguage: cmd.String("target"),
				Config:         parseConfigFlags(cmd.StringSlice("config")),
				CreatedAt:      createdAt,
			}

			if err := job.Validate(d); err != nil {
				return err
			}
			if err := d.Save(); err != nil {
				return fmt.Errorf("writing descriptor: %w", err)
			}

			fmt.Printf("prepared job %s at %s\n", d.JobID, jobDir)
			return nil
		},
	}
}

// newJobID produces a date-prefixed opaque job_id (§3: "date-prefixed,
// unique per run"), so job IDs sort chronologically as plain strings
// without needing to parse created_at.
func newJobID(createdAt time.Time) string {
	return createdAt.UTC().Format("20060102") + "-" + uuid.New().String()
}

func parseConfigFlags(entries []string) map[string]string {
	if len(entries) == 0 {
		return nil
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		key, value, ok := splitOnce(e, '=')
		if !ok {
			continue
		}
		out[key] = value
	}
	return out
}

func splitOnce(s string, sep byte) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
