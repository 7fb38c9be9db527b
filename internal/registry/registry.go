// Package registry is the static, version-controlled catalog of pipeline
// stages (spec §3 StageSpec, §4.5). It is a Go literal table, not a config
// file — §4.5 calls the registry "static, version-controlled" and the
// orchestrator never mutates it at runtime.
package registry

import (
	"fmt"

	"subpipe/internal/job"
)

// Kind is how the Stage Runner invokes a stage body (§4.8).
type Kind string

const (
	KindNativeSubprocess Kind = "native_subprocess"
	KindContainer        Kind = "container"
	KindPureFunction     Kind = "pure_function"
)

// Output describes one declared output of a stage, including the role
// used in manifest entries (§3 StageManifest.outputs[].role).
type Output struct {
	Path string // relative to the stage directory
	Role string
}

// StageSpec is one row of the registry (§3).
type StageSpec struct {
	Index             int
	Name              string
	Kind              Kind
	DeclaredInputs    []string // literal paths relative to job_dir, e.g. "01_demux/audio.wav"; no placeholders are expanded
	DeclaredOutputs   []Output
	RequiredFor       map[job.Workflow]bool // stages required (non-optional) for this workflow
	AllowedFor        map[job.Workflow]bool // stages that may run at all for this workflow (required ∪ optional)
	Optional          map[job.Workflow]bool // stages that run but whose failure is non-fatal, per workflow
	DefaultTimeout    int                   // seconds; 0 = no timeout
	Version           string
	EnvironmentKeys   []string // config keys captured into the manifest's environment map
	Command           string   // native_subprocess: binary/script invoked; container: image reference
}

// StageDirName returns the "<index>_<name>" directory name used under job_dir.
func (s StageSpec) StageDirName() string {
	return fmt.Sprintf("%02d_%s", s.Index, s.Name)
}

// RequiredForWorkflow reports whether the stage is mandatory for wf.
func (s StageSpec) RequiredForWorkflow(wf job.Workflow) bool {
	return s.RequiredFor[wf]
}

// AllowedForWorkflow reports whether the stage may run at all for wf
// (mandatory or optional); stages absent from a workflow's row are never
// scheduled for it regardless of config (§4.6's ✗ column).
func (s StageSpec) AllowedForWorkflow(wf job.Workflow) bool {
	return s.AllowedFor[wf]
}

// OptionalForWorkflow reports whether a stage's failure is non-fatal under wf.
func (s StageSpec) OptionalForWorkflow(wf job.Workflow) bool {
	return s.Optional[wf]
}

func req(workflows ...job.Workflow) map[job.Workflow]bool {
	m := make(map[job.Workflow]bool, len(workflows))
	for _, w := range workflows {
		m[w] = true
	}
	return m
}

// allowed builds the union of required and optional workflow sets for a stage.
func allowed(required, optional map[job.Workflow]bool) map[job.Workflow]bool {
	m := make(map[job.Workflow]bool, len(required)+len(optional))
	for w := range required {
		m[w] = true
	}
	for w := range optional {
		m[w] = true
	}
	return m
}

// Registry is the ordered catalog (§4.5).
type Registry struct {
	stages    []StageSpec
	byName    map[string]StageSpec
}

// Default is the built-in stage catalog implementing the §4.6 decision
// table exactly: demux, metadata_enrich, glossary_load, source_separation,
// voice_activity_detect, speaker_diarize, asr, alignment, lyrics_detect,
// hallucination_remove, translate, subtitle_generate, mux.
//
// Kind assignments (an expansion decision, since spec.md's table names
// stages but not invocation kinds): demux/metadata_enrich/mux are thin CLI
// wrappers around ffmpeg/HTTP calls (native_subprocess); glossary_load is
// the spec's own pure_function example (§4.8); every GPU-bound ML stage
// (source_separation through subtitle_generate, excluding glossary_load)
// runs as a container per §5's rationale that these stages "use 10+ GB of
// memory" and need the mount-boundary isolation §4.8 describes.
func Default() *Registry {
	required := req(job.WorkflowSubtitle, job.WorkflowTranscribe, job.WorkflowTranslate)

	stages := []StageSpec{
		{
			Index:           1,
			Name:            "demux",
			Kind:            KindNativeSubprocess,
			Command:         "subpipe-stage-demux",
			DeclaredInputs:  nil, // reads input_media directly from the descriptor
			DeclaredOutputs: []Output{{Path: "audio.wav", Role: "audio"}},
			RequiredFor:     required,
			Optional:        req(),
			DefaultTimeout:  300,
			Version:         "v1",
			EnvironmentKeys: []string{"stage.demux.sample_rate"},
		},
		{
			Index:           2,
			Name:            "metadata_enrich",
			Kind:            KindNativeSubprocess,
			Command:         "subpipe-stage-metadata-enrich",
			DeclaredOutputs: []Output{{Path: "enrichment.json", Role: "metadata"}},
			RequiredFor:     req(job.WorkflowSubtitle),
			Optional:        req(),
			DefaultTimeout:  60,
			Version:         "v1",
			EnvironmentKeys: []string{"stage.metadata_enrich.tmdb_api_key_env"},
		},
		{
			Index:           3,
			Name:            "glossary_load",
			Kind:            KindPureFunction,
			DeclaredOutputs: []Output{{Path: "glossary.json", Role: "glossary"}},
			RequiredFor:     req(job.WorkflowSubtitle, job.WorkflowTranslate),
			Optional:        req(job.WorkflowTranscribe),
			DefaultTimeout:  30,
			Version:         "v1",
			EnvironmentKeys: []string{"stage.glossary_load.glossary_path"},
		},
		{
			Index:           4,
			Name:            "source_separation",
			Kind:            KindContainer,
			Command:         "subpipe/source-separation",
			DeclaredInputs:  []string{"01_demux/audio.wav"},
			DeclaredOutputs: []Output{{Path: "vocals.wav", Role: "vocals"}},
			RequiredFor:     req(),
			Optional:        req(job.WorkflowSubtitle, job.WorkflowTranscribe, job.WorkflowTranslate),
			DefaultTimeout:  900,
			Version:         "v1",
			EnvironmentKeys: nil,
		},
		{
			Index:           5,
			Name:            "voice_activity_detect",
			Kind:            KindContainer,
			Command:         "subpipe/vad",
			DeclaredInputs:  []string{"01_demux/audio.wav"},
			DeclaredOutputs: []Output{{Path: "segments.json", Role: "segments"}},
			RequiredFor:     required,
			Optional:        req(),
			DefaultTimeout:  300,
			Version:         "v1",
			EnvironmentKeys: []string{"stage.voice_activity_detect.vad_onset", "stage.voice_activity_detect.vad_offset"},
		},
		{
			Index:           6,
			Name:            "speaker_diarize",
			Kind:            KindContainer,
			Command:         "subpipe/diarize",
			DeclaredInputs:  []string{"01_demux/audio.wav", "05_voice_activity_detect/segments.json"},
			DeclaredOutputs: []Output{{Path: "speakers.json", Role: "diarization"}},
			RequiredFor:     req(job.WorkflowSubtitle),
			Optional:        req(job.WorkflowTranslate),
			DefaultTimeout:  900,
			Version:         "v1",
			EnvironmentKeys: []string{"stage.speaker_diarize.min_speakers", "stage.speaker_diarize.max_speakers"},
		},
		{
			Index:           7,
			Name:            "asr",
			Kind:            KindContainer,
			Command:         "subpipe/whisperx-asr",
			DeclaredInputs:  []string{"01_demux/audio.wav", "05_voice_activity_detect/segments.json"},
			DeclaredOutputs: []Output{{Path: "transcript.json", Role: "transcript"}},
			RequiredFor:     required,
			Optional:        req(),
			DefaultTimeout:  1800,
			Version:         "v1",
			EnvironmentKeys: []string{"stage.asr.model", "stage.asr.compute_type", "stage.asr.batch_size"},
		},
		{
			Index:           8,
			Name:            "alignment",
			Kind:            KindContainer,
			Command:         "subpipe/align",
			DeclaredInputs:  []string{"01_demux/audio.wav", "07_asr/transcript.json"},
			DeclaredOutputs: []Output{{Path: "aligned.json", Role: "aligned_transcript"}},
			RequiredFor:     required,
			Optional:        req(),
			DefaultTimeout:  600,
			Version:         "v1",
			EnvironmentKeys: nil,
		},
		{
			Index:           9,
			Name:            "lyrics_detect",
			Kind:            KindContainer,
			Command:         "subpipe/lyrics-detect",
			DeclaredInputs:  []string{"08_alignment/aligned.json"},
			DeclaredOutputs: []Output{{Path: "lyrics_flags.json", Role: "lyrics_flags"}},
			RequiredFor:     req(job.WorkflowSubtitle),
			Optional:        req(),
			DefaultTimeout:  300,
			Version:         "v1",
			EnvironmentKeys: nil,
		},
		{
			Index:           10,
			Name:            "hallucination_remove",
			Kind:            KindContainer,
			Command:         "subpipe/hallucination-remove",
			DeclaredInputs:  []string{"08_alignment/aligned.json"},
			DeclaredOutputs: []Output{{Path: "cleaned.json", Role: "cleaned_transcript"}},
			RequiredFor:     req(job.WorkflowSubtitle),
			Optional:        req(job.WorkflowTranslate),
			DefaultTimeout:  300,
			Version:         "v1",
			EnvironmentKeys: nil,
		},
		{
			Index:           11,
			Name:            "translate",
			Kind:            KindContainer,
			Command:         "subpipe/translate",
			DeclaredInputs:  []string{"10_hallucination_remove/cleaned.json", "03_glossary_load/glossary.json"},
			DeclaredOutputs: []Output{{Path: "translated.json", Role: "translated_transcript"}},
			RequiredFor:     req(job.WorkflowSubtitle, job.WorkflowTranslate),
			Optional:        req(),
			DefaultTimeout:  900,
			Version:         "v1",
			EnvironmentKeys: []string{"stage.translate.engine"},
		},
		{
			Index:           12,
			Name:            "subtitle_generate",
			Kind:            KindContainer,
			Command:         "subpipe/subtitle-generate",
			DeclaredInputs:  []string{"11_translate/translated.json"},
			DeclaredOutputs: []Output{{Path: "subtitles.srt", Role: "subtitles"}},
			RequiredFor:     req(job.WorkflowSubtitle, job.WorkflowTranslate),
			Optional:        req(),
			DefaultTimeout:  300,
			Version:         "v1",
			EnvironmentKeys: nil,
		},
		{
			Index:           13,
			Name:            "mux",
			Kind:            KindNativeSubprocess,
			Command:         "subpipe-stage-mux",
			DeclaredInputs:  []string{"12_subtitle_generate/subtitles.srt"},
			DeclaredOutputs: []Output{{Path: "output_subtitled.mkv", Role: "muxed_video"}},
			RequiredFor:     req(job.WorkflowSubtitle),
			Optional:        req(),
			DefaultTimeout:  300,
			Version:         "v1",
			EnvironmentKeys: nil,
		},
	}

	for i := range stages {
		stages[i].AllowedFor = allowed(stages[i].RequiredFor, stages[i].Optional)
	}

	r := &Registry{stages: stages, byName: make(map[string]StageSpec, len(stages))}
	if err := r.validate(); err != nil {
		panic(err) // programmer error in the static table: fail fast at init
	}
	for _, s := range stages {
		r.byName[s.Name] = s
	}
	return r
}

// validate enforces §4.5's edge case: no two stages share an index or name.
func (r *Registry) validate() error {
	seenIdx := make(map[int]string)
	seenName := make(map[string]bool)
	for _, s := range r.stages {
		if prev, ok := seenIdx[s.Index]; ok {
			return fmt.Errorf("registry: stages %q and %q both claim index %d", prev, s.Name, s.Index)
		}
		seenIdx[s.Index] = s.Name
		if seenName[s.Name] {
			return fmt.Errorf("registry: duplicate stage name %q", s.Name)
		}
		seenName[s.Name] = true
	}
	return nil
}

// OrderedStages returns the full catalog in stable index order (§4.5).
func (r *Registry) OrderedStages() []StageSpec {
	out := make([]StageSpec, len(r.stages))
	copy(out, r.stages)
	return out
}

// ForWorkflow returns stages allowed to run for wf, in index order (§4.5).
func (r *Registry) ForWorkflow(wf job.Workflow) []StageSpec {
	var out []StageSpec
	for _, s := range r.stages {
		if s.AllowedForWorkflow(wf) {
			out = append(out, s)
		}
	}
	return out
}

// ByName looks up a stage by name.
func (r *Registry) ByName(name string) (StageSpec, error) {
	s, ok := r.byName[name]
	if !ok {
		return StageSpec{}, fmt.Errorf("registry: no such stage %q", name)
	}
	return s, nil
}
