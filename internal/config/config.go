// Package config loads the orchestrator's RuntimeConfig, grounded on the
// teacher's internal/config/loader.go provenance-tagged loader and
// cmd/cobra_cli.go's viper wiring. Precedence, lowest to highest: built-in
// defaults, an orchestrator.yaml file, ORC_-prefixed environment variables,
// then CLI flags bound onto the supplied *pflag.FlagSet.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cklxx/taskgraph/internal/runtime/engine"
)

// ValueSource names where a configuration field's effective value came from.
type ValueSource string

const (
	SourceDefault ValueSource = "default"
	SourceFile    ValueSource = "file"
	SourceEnv     ValueSource = "environment"
	SourceFlag    ValueSource = "flag"
)

// RuntimeConfig is the orchestrator's full user-configurable surface: engine
// settings, the LLM provider the agent wrapper calls through, and the
// front door's listen/metrics addresses.
type RuntimeConfig struct {
	MaxConcurrentAgents        int           `json:"max_concurrent_agents" yaml:"max_concurrent_agents"`
	MaxConsecutiveCallsPerTree int           `json:"max_consecutive_calls_per_tree" yaml:"max_consecutive_calls_per_tree"`
	ManualSteppingEnabled      bool          `json:"manual_stepping_enabled" yaml:"manual_stepping_enabled"`
	AutoTriggerEnabled         bool          `json:"auto_trigger_enabled" yaml:"auto_trigger_enabled"`
	EventProcessingInterval    time.Duration `json:"event_processing_interval" yaml:"event_processing_interval"`
	MaxTaskDepth               int           `json:"max_task_depth" yaml:"max_task_depth"`
	MaxSubtasksPerTask         int           `json:"max_subtasks_per_task" yaml:"max_subtasks_per_task"`
	TaskTimeout                time.Duration `json:"task_timeout" yaml:"task_timeout"`

	LLMProvider string `json:"llm_provider" yaml:"llm_provider"`
	LLMModel    string `json:"llm_model" yaml:"llm_model"`
	LLMBaseURL  string `json:"llm_base_url" yaml:"llm_base_url"`
	LLMAPIKey   string `json:"llm_api_key" yaml:"llm_api_key"`

	ListenAddr   string `json:"listen_addr" yaml:"listen_addr"`
	MetricsAddr  string `json:"metrics_addr" yaml:"metrics_addr"`
	OTLPEndpoint string `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	OTLPInsecure bool   `json:"otlp_insecure" yaml:"otlp_insecure"`
	Environment  string `json:"environment" yaml:"environment"`
}

// Metadata carries per-field provenance, mirroring the teacher's
// config.Metadata (Sources/Source/LoadedAt).
type Metadata struct {
	sources  map[string]ValueSource
	loadedAt time.Time
}

// Source returns field's origin, or SourceDefault if it was never touched.
func (m Metadata) Source(field string) ValueSource {
	if src, ok := m.sources[field]; ok {
		return src
	}
	return SourceDefault
}

// Sources returns a copy of the full provenance map.
func (m Metadata) Sources() map[string]ValueSource {
	out := make(map[string]ValueSource, len(m.sources))
	for k, v := range m.sources {
		out[k] = v
	}
	return out
}

func (m Metadata) LoadedAt() time.Time { return m.loadedAt }

// defaults mirrors engine.DefaultSettings()'s values plus the front-door and
// provider defaults, so a bare `orchestratord` run with no file/env/flags
// still boots against the scripted fake provider.
func defaults() RuntimeConfig {
	s := engine.DefaultSettings()
	return RuntimeConfig{
		MaxConcurrentAgents:        s.MaxConcurrentAgents,
		MaxConsecutiveCallsPerTree: s.MaxConsecutiveCallsPerTree,
		ManualSteppingEnabled:      s.ManualSteppingEnabled,
		AutoTriggerEnabled:         s.AutoTriggerEnabled,
		EventProcessingInterval:    s.EventProcessingInterval,
		MaxTaskDepth:               s.MaxTaskDepth,
		MaxSubtasksPerTask:         s.MaxSubtasksPerTask,
		TaskTimeout:                s.TaskTimeout,

		LLMProvider: "mock",
		LLMModel:    "gpt-4o-mini",
		LLMBaseURL:  "https://api.openai.com/v1",

		ListenAddr:  ":8080",
		MetricsAddr: ":9090",
		Environment: "development",
	}
}

// Options carries the loader's merge sources: an explicit file path, and a
// flag set whose bound flags (if any were Changed by the user) take highest
// precedence.
type Options struct {
	ConfigPath string
	Flags      *pflag.FlagSet
}

// field describes one RuntimeConfig entry for the generic bind loop below:
// its viper/yaml key, its flag name (if bound on Options.Flags), and setters
// reading the resolved value off v into cfg.
type field struct {
	key      string
	flagName string
	apply    func(v *viper.Viper, cfg *RuntimeConfig)
}

func fieldTable() []field {
	return []field{
		{"max_concurrent_agents", "max-concurrent-agents", func(v *viper.Viper, c *RuntimeConfig) { c.MaxConcurrentAgents = v.GetInt("max_concurrent_agents") }},
		{"max_consecutive_calls_per_tree", "max-consecutive-calls", func(v *viper.Viper, c *RuntimeConfig) {
			c.MaxConsecutiveCallsPerTree = v.GetInt("max_consecutive_calls_per_tree")
		}},
		{"manual_stepping_enabled", "manual-stepping", func(v *viper.Viper, c *RuntimeConfig) { c.ManualSteppingEnabled = v.GetBool("manual_stepping_enabled") }},
		{"auto_trigger_enabled", "auto-trigger", func(v *viper.Viper, c *RuntimeConfig) { c.AutoTriggerEnabled = v.GetBool("auto_trigger_enabled") }},
		{"event_processing_interval", "event-interval", func(v *viper.Viper, c *RuntimeConfig) {
			c.EventProcessingInterval = v.GetDuration("event_processing_interval")
		}},
		{"max_task_depth", "max-task-depth", func(v *viper.Viper, c *RuntimeConfig) { c.MaxTaskDepth = v.GetInt("max_task_depth") }},
		{"max_subtasks_per_task", "max-subtasks", func(v *viper.Viper, c *RuntimeConfig) { c.MaxSubtasksPerTask = v.GetInt("max_subtasks_per_task") }},
		{"task_timeout", "task-timeout", func(v *viper.Viper, c *RuntimeConfig) { c.TaskTimeout = v.GetDuration("task_timeout") }},

		{"llm_provider", "llm-provider", func(v *viper.Viper, c *RuntimeConfig) { c.LLMProvider = v.GetString("llm_provider") }},
		{"llm_model", "llm-model", func(v *viper.Viper, c *RuntimeConfig) { c.LLMModel = v.GetString("llm_model") }},
		{"llm_base_url", "llm-base-url", func(v *viper.Viper, c *RuntimeConfig) { c.LLMBaseURL = v.GetString("llm_base_url") }},
		{"llm_api_key", "llm-api-key", func(v *viper.Viper, c *RuntimeConfig) { c.LLMAPIKey = v.GetString("llm_api_key") }},

		{"listen_addr", "listen", func(v *viper.Viper, c *RuntimeConfig) { c.ListenAddr = v.GetString("listen_addr") }},
		{"metrics_addr", "metrics-addr", func(v *viper.Viper, c *RuntimeConfig) { c.MetricsAddr = v.GetString("metrics_addr") }},
		{"otlp_endpoint", "otlp-endpoint", func(v *viper.Viper, c *RuntimeConfig) { c.OTLPEndpoint = v.GetString("otlp_endpoint") }},
		{"otlp_insecure", "otlp-insecure", func(v *viper.Viper, c *RuntimeConfig) { c.OTLPInsecure = v.GetBool("otlp_insecure") }},
		{"environment", "environment", func(v *viper.Viper, c *RuntimeConfig) { c.Environment = v.GetString("environment") }},
	}
}

// Load merges defaults, an optional orchestrator.yaml, ORC_-prefixed
// environment variables, and any flags Changed on opts.Flags, recording the
// provenance of every field that moved off its default.
func Load(opts Options) (RuntimeConfig, Metadata, error) {
	cfg := defaults()
	meta := Metadata{sources: map[string]ValueSource{}, loadedAt: time.Now()}

	v := viper.New()
	v.SetEnvPrefix("ORC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		for _, f := range fieldTable() {
			if fl := opts.Flags.Lookup(f.flagName); fl != nil {
				if err := v.BindPFlag(f.key, fl); err != nil {
					return RuntimeConfig{}, Metadata{}, err
				}
			}
		}
	}

	if opts.ConfigPath != "" {
		v.SetConfigFile(opts.ConfigPath)
	} else {
		v.SetConfigName("orchestrator")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		fileLoaded = false
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && opts.ConfigPath != "" {
			return RuntimeConfig{}, Metadata{}, err
		}
	}

	for _, f := range fieldTable() {
		if !v.IsSet(f.key) {
			continue
		}
		f.apply(v, &cfg)

		switch {
		case opts.Flags != nil && flagChanged(opts.Flags, f.flagName):
			meta.sources[f.key] = SourceFlag
		case envSet(f.key):
			meta.sources[f.key] = SourceEnv
		case fileLoaded:
			meta.sources[f.key] = SourceFile
		default:
			meta.sources[f.key] = SourceDefault
		}
	}

	return cfg, meta, nil
}

func flagChanged(flags *pflag.FlagSet, name string) bool {
	fl := flags.Lookup(name)
	return fl != nil && fl.Changed
}

func envSet(key string) bool {
	_, ok := os.LookupEnv("ORC_" + strings.ToUpper(key))
	return ok
}

// EngineSettings projects cfg's engine-relevant fields onto engine.Settings.
func (c RuntimeConfig) EngineSettings() engine.Settings {
	return engine.Settings{
		MaxConcurrentAgents:        c.MaxConcurrentAgents,
		MaxConsecutiveCallsPerTree: c.MaxConsecutiveCallsPerTree,
		ManualSteppingEnabled:      c.ManualSteppingEnabled,
		AutoTriggerEnabled:         c.AutoTriggerEnabled,
		EventProcessingInterval:    c.EventProcessingInterval,
		MaxTaskDepth:               c.MaxTaskDepth,
		MaxSubtasksPerTask:         c.MaxSubtasksPerTask,
		TaskTimeout:                c.TaskTimeout,
	}
}
