// Package pipelinecfg is the typed configuration surface (§9's second
// design note): a small set of well-known pipeline.* knobs get real Go
// fields and are validated, while stage.<name>.* keys stay in an untyped
// escape-hatch map that each stage body interprets for itself.
package pipelinecfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pipeline holds the validated pipeline.* knobs.
type Pipeline struct {
	StopOnFirstCriticalFailure bool `yaml:"stop_on_first_critical_failure"`
	DefaultStageTimeoutSeconds int  `yaml:"default_stage_timeout_seconds"`
	CacheEnabled               bool `yaml:"cache_enabled"`
}

// defaultPipeline mirrors the orchestrator's built-in behavior when no
// override is present (§7's conservative default: stop on first critical
// failure, caching on).
func defaultPipeline() Pipeline {
	return Pipeline{
		StopOnFirstCriticalFailure: true,
		DefaultStageTimeoutSeconds: 0,
		CacheEnabled:               true,
	}
}

// Config is the fully resolved configuration for a job: typed pipeline.*
// settings plus the raw stage.<name>.* escape hatch, keyed by stage name
// then by the remainder of the dotted key.
type Config struct {
	Pipeline Pipeline
	// Stage maps stage name -> (suffix key -> value), e.g.
	// Stage["asr"]["model"] for a "stage.asr.model" entry.
	Stage map[string]map[string]string
}

// raw is the shape of an optional CONFIG_FILE override: only pipeline.*
// keys are typed there; stage.* keys in the file are folded into the same
// escape-hatch map as descriptor-sourced config, so either source can set
// a stage knob.
type raw struct {
	Pipeline map[string]string `yaml:"pipeline"`
	Stage    map[string]map[string]string `yaml:"stage"`
}

// known pipeline.* keys; anything else in a CONFIG_FILE's pipeline block
// is rejected (§9: "unknown pipeline.* keys are rejected").
var knownPipelineKeys = map[string]bool{
	"stop_on_first_critical_failure": true,
	"default_stage_timeout_seconds":  true,
	"cache_enabled":                  true,
}

// Resolve merges the descriptor's flat config map (job.Descriptor.Config,
// dotted keys like "pipeline.cache_enabled" or "stage.asr.model") with an
// optional CONFIG_FILE override loaded from disk. Override values win on
// key collision. Unknown pipeline.* keys are rejected; unknown stage.*
// keys always pass through untyped, since the registry has no visibility
// into what a given stage body accepts.
func Resolve(descriptorConfig map[string]string, configFilePath string) (Config, error) {
	cfg := Config{Pipeline: defaultPipeline(), Stage: map[string]map[string]string{}}

	if err := applyDotted(&cfg, descriptorConfig); err != nil {
		return Config{}, fmt.Errorf("pipelinecfg: descriptor config: %w", err)
	}

	if configFilePath != "" {
		data, err := os.ReadFile(configFilePath)
		if err != nil {
			return Config{}, fmt.Errorf("pipelinecfg: reading %s: %w", configFilePath, err)
		}
		var r raw
		if err := yaml.Unmarshal(data, &r); err != nil {
			return Config{}, fmt.Errorf("pipelinecfg: parsing %s: %w", configFilePath, err)
		}
		for k, v := range r.Pipeline {
			if err := applyPipelineKey(&cfg.Pipeline, k, v); err != nil {
				return Config{}, fmt.Errorf("pipelinecfg: %s: %w", configFilePath, err)
			}
		}
		for stage, kv := range r.Stage {
			if cfg.Stage[stage] == nil {
				cfg.Stage[stage] = map[string]string{}
			}
			for k, v := range kv {
				cfg.Stage[stage][k] = v
			}
		}
	}

	return cfg, nil
}

// applyDotted interprets the descriptor's flat "pipeline.*" / "stage.<name>.*"
// keys (§3 JobDescriptor.config).
func applyDotted(cfg *Config, m map[string]string) error {
	for key, value := range m {
		switch {
		case strings.HasPrefix(key, "pipeline."):
			suffix := strings.TrimPrefix(key, "pipeline.")
			if err := applyPipelineKey(&cfg.Pipeline, suffix, value); err != nil {
				return err
			}
		case strings.HasPrefix(key, "stage."):
			rest := strings.TrimPrefix(key, "stage.")
			parts := strings.SplitN(rest, ".", 2)
			if len(parts) != 2 {
				return fmt.Errorf("malformed stage config key %q (want stage.<name>.<key>)", key)
			}
			stageName, suffix := parts[0], parts[1]
			if cfg.Stage[stageName] == nil {
				cfg.Stage[stageName] = map[string]string{}
			}
			cfg.Stage[stageName][suffix] = value
		default:
			return fmt.Errorf("unrecognized config key %q (must start with pipeline. or stage.)", key)
		}
	}
	return nil
}

func applyPipelineKey(p *Pipeline, key, value string) error {
	if !knownPipelineKeys[key] {
		return fmt.Errorf("unknown pipeline config key %q", key)
	}
	switch key {
	case "stop_on_first_critical_failure":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("pipeline.%s: %w", key, err)
		}
		p.StopOnFirstCriticalFailure = b
	case "default_stage_timeout_seconds":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("pipeline.%s: %w", key, err)
		}
		p.DefaultStageTimeoutSeconds = n
	case "cache_enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("pipeline.%s: %w", key, err)
		}
		p.CacheEnabled = b
	}
	return nil
}

// StageValue looks up a single stage.<name>.<key> escape-hatch entry.
func (c Config) StageValue(stageName, key string) (string, bool) {
	kv, ok := c.Stage[stageName]
	if !ok {
		return "", false
	}
	v, ok := kv[key]
	return v, ok
}

// StageEnabled reports whether a stage is enabled: it returns false only
// when stage.<name>.enabled parses as a boolean false; absent or any other
// value means enabled (§4.6's config-based optional-stage override).
func (c Config) StageEnabled(stageName string) bool {
	v, ok := c.StageValue(stageName, "enabled")
	if !ok {
		return true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}

// StageTimeoutSeconds resolves stage.<name>.timeout_seconds, falling back
// to fallback (the registry's own per-stage default) and only reaching for
// pipeline.default_stage_timeout_seconds when the stage has no configured
// default of its own (§6.5: the pipeline-level key is an integer fallback
// for a StageSpec that doesn't specify one, not an override of one that
// does).
func (c Config) StageTimeoutSeconds(stageName string, fallback int) int {
	if v, ok := c.StageValue(stageName, "timeout_seconds"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	if fallback > 0 {
		return fallback
	}
	return c.Pipeline.DefaultStageTimeoutSeconds
}
