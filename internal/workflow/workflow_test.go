package workflow

import (
	"testing"

	"subpipe/internal/job"
	"subpipe/internal/pipelinecfg"
	"subpipe/internal/registry"
)

func TestResolve_Transcribe_OmitsSubtitleOnlyStages(t *testing.T) {
	reg := registry.Default()
	cfg, _ := pipelinecfg.Resolve(nil, "")
	plan := Resolve(reg, job.WorkflowTranscribe, cfg)

	for _, name := range plan.Names() {
		if name == "mux" || name == "metadata_enrich" {
			t.Fatalf("transcribe plan should not include %s", name)
		}
	}
}

func TestResolve_Subtitle_IncludesGlossaryLoadRequired(t *testing.T) {
	reg := registry.Default()
	cfg, _ := pipelinecfg.Resolve(nil, "")
	plan := Resolve(reg, job.WorkflowSubtitle, cfg)

	s, ok := plan.ByName("glossary_load")
	if !ok {
		t.Fatal("expected glossary_load in subtitle plan")
	}
	if s.Optional {
		t.Fatal("glossary_load should not be optional under subtitle workflow")
	}
}

func TestResolve_OptionalStageDisabledByConfig_IsDropped(t *testing.T) {
	reg := registry.Default()
	cfg, _ := pipelinecfg.Resolve(map[string]string{
		"stage.source_separation.enabled": "false",
	}, "")
	plan := Resolve(reg, job.WorkflowTranscribe, cfg)

	if _, ok := plan.ByName("source_separation"); ok {
		t.Fatal("expected source_separation dropped when disabled via config")
	}
}

func TestResolve_RequiredStageConfigDisableIsIgnored(t *testing.T) {
	reg := registry.Default()
	// asr is required (non-optional) for every workflow; disabling via
	// config should have no effect since only optional stages honor the
	// enabled override.
	cfg, _ := pipelinecfg.Resolve(map[string]string{"stage.asr.enabled": "false"}, "")
	plan := Resolve(reg, job.WorkflowTranscribe, cfg)

	if _, ok := plan.ByName("asr"); !ok {
		t.Fatal("expected asr to remain in plan despite enabled=false override")
	}
}

func TestResolve_StageOrderMatchesRegistryIndex(t *testing.T) {
	reg := registry.Default()
	cfg, _ := pipelinecfg.Resolve(nil, "")
	plan := Resolve(reg, job.WorkflowSubtitle, cfg)

	lastIndex := -1
	for _, s := range plan.Stages {
		if s.Spec.Index <= lastIndex {
			t.Fatalf("stage %s out of index order", s.Spec.Name)
		}
		lastIndex = s.Spec.Index
	}
}
