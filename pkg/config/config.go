// Package config loads switchboard settings from config.yaml, SWITCHBOARD_*
// environment variables and bound command-line flags through viper.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/jingkaihe/switchboard/pkg/executor"
	"github.com/jingkaihe/switchboard/pkg/matcher"
	"github.com/jingkaihe/switchboard/pkg/performer"
	"github.com/jingkaihe/switchboard/pkg/planstore"
	"github.com/jingkaihe/switchboard/pkg/registry"
)

// EnvPrefix prefixes every environment variable, e.g. SWITCHBOARD_LOG_LEVEL.
const EnvPrefix = "SWITCHBOARD"

// Config is the full switchboard configuration.
type Config struct {
	Registry  RegistryConfig  `mapstructure:"registry"`
	Matcher   MatcherConfig   `mapstructure:"matcher"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Performer PerformerConfig `mapstructure:"performer"`
	Store     StoreConfig     `mapstructure:"store"`
	Server    ServerConfig    `mapstructure:"server"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	LogLevel  string          `mapstructure:"log_level"`
	LogFormat string          `mapstructure:"log_format"`

	// Profile names an entry of Profiles to overlay on the settings above.
	Profile  string                    `mapstructure:"profile"`
	Profiles map[string]map[string]any `mapstructure:"profiles"`
}

// RegistryConfig locates agent and skill definitions. Empty AgentDirs and
// SkillDirs mean the standard ./.switchboard and ~/.switchboard locations.
type RegistryConfig struct {
	AgentDirs []string `mapstructure:"agent_dirs"`
	SkillDirs []string `mapstructure:"skill_dirs"`
	// Files are YAML catalogs loaded after the markdown directories.
	Files []string `mapstructure:"files"`
	Watch bool     `mapstructure:"watch"`
}

// MatcherConfig tunes trigger scoring.
type MatcherConfig struct {
	TriggerWeight    float64  `mapstructure:"trigger_weight"`
	FocusWeight      float64  `mapstructure:"focus_weight"`
	MinScore         float64  `mapstructure:"min_score"`
	CategoryPriority []string `mapstructure:"category_priority"`
}

// ExecutorConfig bounds step execution.
type ExecutorConfig struct {
	StepTimeout      time.Duration `mapstructure:"step_timeout"`
	StrictBoundaries bool          `mapstructure:"strict_boundaries"`
}

// EngineConfig controls handoff chains.
type EngineConfig struct {
	MaxHandoffDepth int  `mapstructure:"max_handoff_depth"`
	FollowHandoffs  bool `mapstructure:"follow_handoffs"`
}

// PerformerConfig selects who performs step instructions.
type PerformerConfig struct {
	Kind    string   `mapstructure:"kind"`
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// StoreConfig selects the plan store.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// ServerConfig is the listen address of `switchboard serve`.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// TracingConfig enables OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	SamplerType  string  `mapstructure:"sampler"`
	SamplerRatio float64 `mapstructure:"ratio"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	m := matcher.DefaultOptions()
	v.SetDefault("registry.agent_dirs", []string{})
	v.SetDefault("registry.skill_dirs", []string{})
	v.SetDefault("registry.files", []string{})
	v.SetDefault("registry.watch", false)
	v.SetDefault("matcher.trigger_weight", m.TriggerWeight)
	v.SetDefault("matcher.focus_weight", m.FocusWeight)
	v.SetDefault("matcher.min_score", m.MinScore)
	v.SetDefault("matcher.category_priority", []string{})
	v.SetDefault("executor.step_timeout", executor.DefaultStepTimeout)
	v.SetDefault("executor.strict_boundaries", false)
	v.SetDefault("engine.max_handoff_depth", 3)
	v.SetDefault("engine.follow_handoffs", false)
	v.SetDefault("performer.kind", performer.KindDryRun)
	v.SetDefault("performer.command", "")
	v.SetDefault("performer.args", []string{})
	v.SetDefault("store.backend", planstore.BackendSQLite)
	v.SetDefault("store.path", "")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8421)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sampler", "ratio")
	v.SetDefault("tracing.ratio", 1.0)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "fmt")
	v.SetDefault("profile", "")
}

// Init prepares v the way the CLI uses it: defaults, SWITCHBOARD_ env
// variables, and config.yaml from ~/.switchboard or the working directory.
// A missing config file is not an error.
func Init(v *viper.Viper) error {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.switchboard")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "failed to read config file")
	}
	return nil
}

// Load unmarshals v into a Config and applies the active profile.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, errors.Wrap(err, "failed to unmarshal configuration")
	}

	if name := cfg.Profile; name != "" && name != "default" {
		profile, ok := cfg.Profiles[name]
		if !ok {
			return cfg, errors.Errorf("profile %q is not defined", name)
		}
		if err := applyProfile(&cfg, profile); err != nil {
			return cfg, errors.Wrapf(err, "failed to apply profile %q", name)
		}
	}

	return cfg, cfg.Validate()
}

func applyProfile(cfg *Config, profile map[string]any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		ZeroFields:       false,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to create profile decoder")
	}
	return decoder.Decode(profile)
}

// Validate rejects settings no component could run with.
func (c Config) Validate() error {
	switch {
	case c.Matcher.MinScore < 0:
		return errors.New("matcher.min_score must not be negative")
	case c.Matcher.TriggerWeight < 0 || c.Matcher.FocusWeight < 0:
		return errors.New("matcher weights must not be negative")
	case c.Executor.StepTimeout <= 0:
		return errors.New("executor.step_timeout must be positive")
	case c.Engine.MaxHandoffDepth < 0:
		return errors.New("engine.max_handoff_depth must not be negative")
	case c.Performer.Kind == performer.KindCommand && c.Performer.Command == "":
		return errors.New("performer.command is required when performer.kind is command")
	}
	for _, name := range c.Matcher.CategoryPriority {
		if _, err := registry.ParseCategory(name); err != nil {
			return errors.Wrap(err, "matcher.category_priority")
		}
	}
	return nil
}

// MatcherOptions converts the matcher settings. Unknown categories, which
// Validate rejects, are dropped.
func (c Config) MatcherOptions() matcher.Options {
	var priority []registry.Category
	for _, name := range c.Matcher.CategoryPriority {
		if cat, err := registry.ParseCategory(name); err == nil {
			priority = append(priority, cat)
		}
	}
	return matcher.Options{
		TriggerWeight:    c.Matcher.TriggerWeight,
		FocusWeight:      c.Matcher.FocusWeight,
		MinScore:         c.Matcher.MinScore,
		CategoryPriority: priority,
	}
}

// PlanStore converts the store settings.
func (c Config) PlanStore() planstore.Config {
	return planstore.Config{Backend: c.Store.Backend, Path: c.Store.Path}
}
