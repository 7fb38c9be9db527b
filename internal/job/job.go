// Package job implements the immutable JobDescriptor (spec §3, §4.4) — the
// per-job record loaded once from job_dir/descriptor.json. The orchestrator
// never second-guesses the descriptor's workflow kind; it is the canonical
// source of truth.
package job

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"subpipe/internal/atomicfile"
)

// Workflow is one of the three pipeline shapes in §4.6's decision table.
type Workflow string

const (
	WorkflowSubtitle   Workflow = "subtitle"
	WorkflowTranscribe Workflow = "transcribe"
	WorkflowTranslate  Workflow = "translate"
)

func (w Workflow) valid() bool {
	switch w {
	case WorkflowSubtitle, WorkflowTranscribe, WorkflowTranslate:
		return true
	}
	return false
}

// indicSourceLanguages is the supported-source-language set for the
// translate workflow (§4.6, §7 item 7, §9's second Open Question — resolved
// here, at descriptor-validation time). ISO 639-1 codes for languages
// originating on the Indian subcontinent that this pipeline's translation
// stage is tuned for.
var indicSourceLanguages = map[string]bool{
	"hi": true, // Hindi
	"bn": true, // Bengali
	"ta": true, // Tamil
	"te": true, // Telugu
	"mr": true, // Marathi
	"gu": true, // Gujarati
	"pa": true, // Punjabi
	"ur": true, // Urdu
	"kn": true, // Kannada
	"ml": true, // Malayalam
	"or": true, // Odia
	"as": true, // Assamese
}

// IsIndic reports whether a source language code is in the supported set
// for the translate workflow. "auto" is never Indic on its own — detection
// happens inside the (out-of-scope) ASR stage body, so a descriptor
// declaring source_language "auto" with workflow translate is rejected at
// validation time; the caller must know the source language up front to
// choose the translate workflow.
func IsIndic(sourceLanguage string) bool {
	return indicSourceLanguages[sourceLanguage]
}

// Descriptor is the immutable per-job record (§3 JobDescriptor).
type Descriptor struct {
	JobID          string            `json:"job_id"`
	JobDir         string            `json:"-"` // set by Load (or by the caller before Save), not persisted (derived from where the file lives)
	InputMedia     string            `json:"input_media"`
	Workflow       Workflow          `json:"workflow"`
	SourceLanguage string            `json:"source_language"`
	TargetLanguage string            `json:"target_language,omitempty"`
	Config         map[string]string `json:"config,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

func descriptorPath(jobDir string) string {
	return filepath.Join(jobDir, "descriptor.json")
}

// Load reads and validates job_dir/descriptor.json (§4.4, §7 item 1).
func Load(jobDir string) (*Descriptor, error) {
	data, err := os.ReadFile(descriptorPath(jobDir))
	if err != nil {
		return nil, fmt.Errorf("job: reading descriptor: %w", err)
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("job: malformed descriptor.json: %w", err)
	}
	d.JobDir = jobDir
	if err := Validate(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate enforces §4.4's invariants and the §7 item 1/item 7 error kinds.
// Unknown language codes other than the translate-workflow Indic
// constraint are tolerated — language validity proper is an ML-layer
// concern out of scope for the orchestrator (§1).
func Validate(d *Descriptor) error {
	if d.JobID == "" {
		return fmt.Errorf("job: descriptor: job_id is required")
	}
	if d.InputMedia == "" {
		return fmt.Errorf("job: descriptor: input_media is required")
	}
	if !filepath.IsAbs(d.InputMedia) {
		return fmt.Errorf("job: descriptor: input_media must be an absolute path")
	}
	if !d.Workflow.valid() {
		return fmt.Errorf("job: descriptor: unknown workflow %q (must be subtitle, transcribe, or translate)", d.Workflow)
	}
	if d.SourceLanguage == "" {
		return fmt.Errorf("job: descriptor: source_language is required")
	}
	if (d.Workflow == WorkflowSubtitle || d.Workflow == WorkflowTranslate) && d.TargetLanguage == "" {
		return fmt.Errorf("job: descriptor: target_language is required for workflow %q", d.Workflow)
	}
	if d.Workflow == WorkflowTranslate {
		if d.SourceLanguage == "auto" {
			return fmt.Errorf("job: descriptor: workflow translate requires an explicit source_language, not auto")
		}
		if !IsIndic(d.SourceLanguage) {
			return fmt.Errorf("job: descriptor: workflow translate does not support source_language %q (must be an Indic language)", d.SourceLanguage)
		}
	}
	return nil
}

// FingerprintSeed returns a stable string representation of the descriptor
// fields relevant to stages with no declared inputs (§4.11: "stages with
// empty declared_inputs ... fingerprint on descriptor fields plus
// version"). Config is deliberately excluded here — a stage's own
// environment_keys subset is folded in separately by the fingerprint
// computation, so including all of Config here would double-count it and
// invalidate the cache on unrelated config changes.
func (d *Descriptor) FingerprintSeed() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", d.JobID, d.Workflow, d.SourceLanguage, d.TargetLanguage, d.InputMedia)
}

// Save writes the descriptor to job_dir/descriptor.json. Used by the
// `prepare` CLI command; the orchestrator itself only reads descriptors.
func (d *Descriptor) Save() error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.Write(descriptorPath(d.JobDir), data, 0644)
}
