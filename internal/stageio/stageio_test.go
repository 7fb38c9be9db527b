package stageio

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"subpipe/internal/manifest"
	"subpipe/internal/pipelog"
	"subpipe/internal/registry"
)

func newTestLogger(t *testing.T, jobDir string) *pipelog.Logger {
	t.Helper()
	l, err := pipelog.New(jobDir, logrus.InfoLevel)
	if err != nil {
		t.Fatalf("pipelog.New: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func demuxSpec() registry.StageSpec {
	return registry.StageSpec{Index: 1, Name: "demux", Version: "v1"}
}

func TestOpen_CreatesStageDirAndLog(t *testing.T) {
	jobDir := t.TempDir()
	logger := newTestLogger(t, jobDir)

	ctx, err := Open(jobDir, demuxSpec(), logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := os.Stat(ctx.StageDir()); err != nil {
		t.Fatalf("expected stage dir to exist: %v", err)
	}
	if err := ctx.Close(0, nil); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ctx.StageDir(), "stage.log")); err != nil {
		t.Fatalf("expected stage.log to exist: %v", err)
	}
}

func TestAddOutput_WithinStageDir_Succeeds(t *testing.T) {
	jobDir := t.TempDir()
	logger := newTestLogger(t, jobDir)
	ctx, err := Open(jobDir, demuxSpec(), logger)
	if err != nil {
		t.Fatal(err)
	}
	outPath := filepath.Join(ctx.StageDir(), "audio.wav")
	if err := os.WriteFile(outPath, []byte("fake audio"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := ctx.AddOutput("audio.wav", "audio"); err != nil {
		t.Fatalf("AddOutput: %v", err)
	}
	if err := ctx.Close(0, nil); err != nil {
		t.Fatal(err)
	}
	m, err := manifest.Load(ctx.StageDir())
	if err != nil || m == nil {
		t.Fatalf("Load manifest: %v, %+v", err, m)
	}
	if len(m.Outputs) != 1 || m.Outputs[0].Role != "audio" {
		t.Fatalf("expected one audio output, got %+v", m.Outputs)
	}
	if m.ContainmentViolation {
		t.Fatal("expected no containment violation")
	}
}

func TestAddOutput_EscapingStageDir_IsContainmentViolation(t *testing.T) {
	jobDir := t.TempDir()
	logger := newTestLogger(t, jobDir)
	ctx, err := Open(jobDir, demuxSpec(), logger)
	if err != nil {
		t.Fatal(err)
	}
	err = ctx.AddOutput("../02_metadata_enrich/stray.json", "stray")
	var violation *StageContainmentViolation
	if !errors.As(err, &violation) {
		t.Fatalf("expected StageContainmentViolation, got %v", err)
	}
	if err := ctx.Close(1, err); err != nil {
		t.Fatal(err)
	}
	m, err := manifest.Load(ctx.StageDir())
	if err != nil || m == nil {
		t.Fatalf("Load manifest: %v, %+v", err, m)
	}
	if !m.ContainmentViolation {
		t.Fatal("expected manifest to record containment_violation")
	}
}

func TestAddInput_RecordsHashFromSiblingStageDir(t *testing.T) {
	jobDir := t.TempDir()
	logger := newTestLogger(t, jobDir)

	// simulate a completed upstream stage's output
	upstreamDir := filepath.Join(jobDir, "01_demux")
	if err := os.MkdirAll(upstreamDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(upstreamDir, "audio.wav"), []byte("audio bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, err := Open(jobDir, registry.StageSpec{Index: 5, Name: "voice_activity_detect", Version: "v1"}, logger)
	if err != nil {
		t.Fatal(err)
	}
	if err := ctx.AddInput("01_demux/audio.wav", "audio"); err != nil {
		t.Fatalf("AddInput: %v", err)
	}
	if err := ctx.Close(0, nil); err != nil {
		t.Fatal(err)
	}
	m, err := manifest.Load(ctx.StageDir())
	if err != nil || m == nil {
		t.Fatalf("Load manifest: %v, %+v", err, m)
	}
	if len(m.Inputs) != 1 || m.Inputs[0].SHA256 == "" {
		t.Fatalf("expected hashed input, got %+v", m.Inputs)
	}
}

func TestClose_RecordsRunErrorInNotes(t *testing.T) {
	jobDir := t.TempDir()
	logger := newTestLogger(t, jobDir)
	ctx, err := Open(jobDir, demuxSpec(), logger)
	if err != nil {
		t.Fatal(err)
	}
	runErr := errors.New("exit status 1")
	if err := ctx.Close(1, runErr); err != nil {
		t.Fatal(err)
	}
	m, err := manifest.Load(ctx.StageDir())
	if err != nil || m == nil {
		t.Fatalf("Load manifest: %v, %+v", err, m)
	}
	if len(m.Notes) != 1 || m.Notes[0] != "exit status 1" {
		t.Fatalf("expected run error recorded in notes, got %+v", m.Notes)
	}
	if m.ExitCode != 1 {
		t.Fatalf("expected exit_code 1, got %d", m.ExitCode)
	}
}
