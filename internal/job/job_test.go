package job

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeDescriptor(t *testing.T, dir string, d *Descriptor) {
	t.Helper()
	d.JobDir = dir
	if err := d.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	original := &Descriptor{
		JobID:          "20260730-abc123",
		InputMedia:     filepath.Join(dir, "input.mp4"),
		Workflow:       WorkflowSubtitle,
		SourceLanguage: "hi",
		TargetLanguage: "en",
		Config:         map[string]string{"stage.asr.model": "large-v3"},
		CreatedAt:      time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC),
	}
	writeDescriptor(t, dir, original)

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.JobID != original.JobID || loaded.Workflow != original.Workflow ||
		loaded.SourceLanguage != original.SourceLanguage || loaded.TargetLanguage != original.TargetLanguage {
		t.Fatalf("round trip mismatch: %+v vs %+v", loaded, original)
	}
	if loaded.Config["stage.asr.model"] != "large-v3" {
		t.Fatalf("config not preserved: %+v", loaded.Config)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for missing descriptor")
	}
}

func TestLoad_MalformedJSON(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "descriptor.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for malformed descriptor")
	}
}

func TestValidate_UnknownWorkflow(t *testing.T) {
	d := &Descriptor{JobID: "j", InputMedia: "/abs/in.mp4", Workflow: "bogus", SourceLanguage: "hi"}
	if err := Validate(d); err == nil {
		t.Fatal("expected error for unknown workflow")
	}
}

func TestValidate_MissingTargetLanguage(t *testing.T) {
	d := &Descriptor{JobID: "j", InputMedia: "/abs/in.mp4", Workflow: WorkflowSubtitle, SourceLanguage: "hi"}
	if err := Validate(d); err == nil {
		t.Fatal("expected error for missing target_language")
	}
}

func TestValidate_TranscribeNoTargetRequired(t *testing.T) {
	d := &Descriptor{JobID: "j", InputMedia: "/abs/in.mp4", Workflow: WorkflowTranscribe, SourceLanguage: "hi"}
	if err := Validate(d); err != nil {
		t.Fatalf("transcribe should not require target_language: %v", err)
	}
}

func TestValidate_TranslateNonIndicRejected(t *testing.T) {
	d := &Descriptor{
		JobID: "j", InputMedia: "/abs/in.mp4", Workflow: WorkflowTranslate,
		SourceLanguage: "fr", TargetLanguage: "en",
	}
	if err := Validate(d); err == nil {
		t.Fatal("expected error for non-Indic translate source language")
	}
}

func TestValidate_TranslateIndicAccepted(t *testing.T) {
	d := &Descriptor{
		JobID: "j", InputMedia: "/abs/in.mp4", Workflow: WorkflowTranslate,
		SourceLanguage: "hi", TargetLanguage: "en",
	}
	if err := Validate(d); err != nil {
		t.Fatalf("expected Indic source language accepted, got %v", err)
	}
}

func TestValidate_TranslateAutoRejected(t *testing.T) {
	d := &Descriptor{
		JobID: "j", InputMedia: "/abs/in.mp4", Workflow: WorkflowTranslate,
		SourceLanguage: "auto", TargetLanguage: "en",
	}
	if err := Validate(d); err == nil {
		t.Fatal("expected error for auto source language under translate")
	}
}

func TestValidate_RelativeInputMediaRejected(t *testing.T) {
	d := &Descriptor{JobID: "j", InputMedia: "relative/in.mp4", Workflow: WorkflowTranscribe, SourceLanguage: "hi"}
	if err := Validate(d); err == nil {
		t.Fatal("expected error for relative input_media")
	}
}
