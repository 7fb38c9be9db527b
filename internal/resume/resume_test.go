package resume

import (
	"os"
	"path/filepath"
	"testing"

	"subpipe/internal/fingerprint"
	"subpipe/internal/hash"
	"subpipe/internal/manifest"
	"subpipe/internal/registry"
	"subpipe/internal/workflow"
)

func writeStageOutput(t *testing.T, stageDir, name, content string) {
	t.Helper()
	if err := os.MkdirAll(stageDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(stageDir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestClassify_Missing(t *testing.T) {
	jobDir := t.TempDir()
	stageDir := filepath.Join(jobDir, "01_demux")
	rs := workflow.ResolvedStage{Spec: registry.StageSpec{Name: "demux", Version: "v1"}}
	cls, m, err := Classify(jobDir, stageDir, rs, StageInputs{})
	if err != nil {
		t.Fatal(err)
	}
	if cls != Missing || m != nil {
		t.Fatalf("expected Missing/nil, got %v/%+v", cls, m)
	}
}

func TestClassify_Failed(t *testing.T) {
	jobDir := t.TempDir()
	stageDir := filepath.Join(jobDir, "07_asr")
	os.MkdirAll(stageDir, 0755)
	manifest.Store(stageDir, &manifest.Manifest{StageName: "asr", ExitCode: 1})

	rs := workflow.ResolvedStage{Spec: registry.StageSpec{Name: "asr", Version: "v1"}}
	cls, _, err := Classify(jobDir, stageDir, rs, StageInputs{})
	if err != nil {
		t.Fatal(err)
	}
	if cls != Failed {
		t.Fatalf("expected Failed, got %v", cls)
	}
}

func TestClassify_Done(t *testing.T) {
	jobDir := t.TempDir()
	stageDir := filepath.Join(jobDir, "01_demux")
	writeStageOutput(t, stageDir, "audio.wav", "audio bytes")
	_, digest, _ := hash.SizeAndHash(filepath.Join(stageDir, "audio.wav"))

	fp := fingerprint.ComputeDescriptorBased("v1", "job|hi|en", nil)
	manifest.Store(stageDir, &manifest.Manifest{
		StageName: "demux", ExitCode: 0, Fingerprint: fp,
		Outputs: []manifest.Entry{{Path: "audio.wav", SHA256: digest, SizeBytes: 11}},
	})

	rs := workflow.ResolvedStage{Spec: registry.StageSpec{Name: "demux", Version: "v1"}}
	cls, m, err := Classify(jobDir, stageDir, rs, StageInputs{DescriptorFingerprint: "job|hi|en"})
	if err != nil {
		t.Fatal(err)
	}
	if cls != Done {
		t.Fatalf("expected Done, got %v (manifest fp=%s)", cls, m.Fingerprint)
	}
}

func TestClassify_StaleWhenOutputModified(t *testing.T) {
	jobDir := t.TempDir()
	stageDir := filepath.Join(jobDir, "01_demux")
	writeStageOutput(t, stageDir, "audio.wav", "original bytes")
	_, digest, _ := hash.SizeAndHash(filepath.Join(stageDir, "audio.wav"))
	manifest.Store(stageDir, &manifest.Manifest{
		StageName: "demux", ExitCode: 0,
		Outputs: []manifest.Entry{{Path: "audio.wav", SHA256: digest, SizeBytes: 14}},
	})
	// mutate the output after the manifest was recorded
	os.WriteFile(filepath.Join(stageDir, "audio.wav"), []byte("tampered bytes"), 0644)

	rs := workflow.ResolvedStage{Spec: registry.StageSpec{Name: "demux", Version: "v1"}}
	cls, _, err := Classify(jobDir, stageDir, rs, StageInputs{})
	if err != nil {
		t.Fatal(err)
	}
	if cls != Stale {
		t.Fatalf("expected Stale, got %v", cls)
	}
}

func TestClassify_StaleWhenFingerprintChanges(t *testing.T) {
	jobDir := t.TempDir()
	stageDir := filepath.Join(jobDir, "01_demux")
	writeStageOutput(t, stageDir, "audio.wav", "audio bytes")
	_, digest, _ := hash.SizeAndHash(filepath.Join(stageDir, "audio.wav"))
	manifest.Store(stageDir, &manifest.Manifest{
		StageName: "demux", ExitCode: 0, Fingerprint: "stale-fingerprint",
		Outputs: []manifest.Entry{{Path: "audio.wav", SHA256: digest, SizeBytes: 11}},
	})

	rs := workflow.ResolvedStage{Spec: registry.StageSpec{Name: "demux", Version: "v1"}}
	cls, _, err := Classify(jobDir, stageDir, rs, StageInputs{DescriptorFingerprint: "job|hi|en"})
	if err != nil {
		t.Fatal(err)
	}
	if cls != Stale {
		t.Fatalf("expected Stale due to fingerprint mismatch, got %v", cls)
	}
}

func TestPlan_OptionalFailedDoesNotInvalidateSuccessors(t *testing.T) {
	jobDir := t.TempDir()

	demuxDir := filepath.Join(jobDir, "01_demux")
	writeStageOutput(t, demuxDir, "audio.wav", "audio bytes")
	_, demuxDigest, _ := hash.SizeAndHash(filepath.Join(demuxDir, "audio.wav"))
	demuxFP := fingerprint.ComputeDescriptorBased("v1", "d", nil)
	manifest.Store(demuxDir, &manifest.Manifest{
		StageName: "demux", ExitCode: 0, Fingerprint: demuxFP,
		Outputs: []manifest.Entry{{Path: "audio.wav", SHA256: demuxDigest, SizeBytes: 11}},
	})

	sepDir := filepath.Join(jobDir, "04_source_separation")
	os.MkdirAll(sepDir, 0755)
	manifest.Store(sepDir, &manifest.Manifest{StageName: "source_separation", ExitCode: 1})

	vadDir := filepath.Join(jobDir, "05_voice_activity_detect")
	writeStageOutput(t, vadDir, "segments.json", "{}")
	_, vadDigest, _ := hash.SizeAndHash(filepath.Join(vadDir, "segments.json"))
	vadFP := fingerprint.ComputeDescriptorBased("v1", "v", nil)
	manifest.Store(vadDir, &manifest.Manifest{
		StageName: "voice_activity_detect", ExitCode: 0, Fingerprint: vadFP,
		Outputs: []manifest.Entry{{Path: "segments.json", SHA256: vadDigest, SizeBytes: 2}},
	})

	p := workflow.Plan{Stages: []workflow.ResolvedStage{
		{Spec: registry.StageSpec{Name: "demux", Version: "v1"}, Optional: false},
		{Spec: registry.StageSpec{Name: "source_separation", Version: "v1"}, Optional: true},
		{Spec: registry.StageSpec{Name: "voice_activity_detect", Version: "v1"}, Optional: false},
	}}

	stageDirFn := func(name string) string {
		switch name {
		case "demux":
			return demuxDir
		case "source_separation":
			return sepDir
		case "voice_activity_detect":
			return vadDir
		}
		return ""
	}
	inputsFor := func(name string) StageInputs {
		switch name {
		case "demux":
			return StageInputs{DescriptorFingerprint: "d"}
		case "voice_activity_detect":
			return StageInputs{DescriptorFingerprint: "v"}
		}
		return StageInputs{}
	}

	decisions, err := Plan(jobDir, p, stageDirFn, inputsFor)
	if err != nil {
		t.Fatal(err)
	}
	if decisions[0].MustRun {
		t.Fatal("demux should be Done and not need to rerun")
	}
	if !decisions[1].MustRun || decisions[1].Classification != Failed {
		t.Fatal("source_separation should rerun (it's Failed and not Done)")
	}
	if decisions[2].MustRun {
		t.Fatal("voice_activity_detect should remain Done: optional Failed must not invalidate successors")
	}
}

func TestPlan_CriticalFailedInvalidatesSuccessors(t *testing.T) {
	jobDir := t.TempDir()

	asrDir := filepath.Join(jobDir, "07_asr")
	os.MkdirAll(asrDir, 0755)
	manifest.Store(asrDir, &manifest.Manifest{StageName: "asr", ExitCode: 1}) // Failed, critical

	alignDir := filepath.Join(jobDir, "08_alignment")
	writeStageOutput(t, alignDir, "aligned.json", "{}")
	_, alignDigest, _ := hash.SizeAndHash(filepath.Join(alignDir, "aligned.json"))
	alignFP := fingerprint.ComputeDescriptorBased("v1", "a", nil)
	manifest.Store(alignDir, &manifest.Manifest{
		StageName: "alignment", ExitCode: 0, Fingerprint: alignFP,
		Outputs: []manifest.Entry{{Path: "aligned.json", SHA256: alignDigest, SizeBytes: 2}},
	})

	p := workflow.Plan{Stages: []workflow.ResolvedStage{
		{Spec: registry.StageSpec{Name: "asr", Version: "v1"}, Optional: false},
		{Spec: registry.StageSpec{Name: "alignment", Version: "v1"}, Optional: false},
	}}
	stageDirFn := func(name string) string {
		if name == "asr" {
			return asrDir
		}
		return alignDir
	}
	inputsFor := func(name string) StageInputs { return StageInputs{DescriptorFingerprint: "a"} }

	decisions, err := Plan(jobDir, p, stageDirFn, inputsFor)
	if err != nil {
		t.Fatal(err)
	}
	if !decisions[1].MustRun {
		t.Fatal("alignment should be forced to rerun: critical predecessor failed")
	}
}
