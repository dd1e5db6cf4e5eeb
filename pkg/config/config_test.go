package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/switchboard/pkg/registry"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 1.0, cfg.Matcher.TriggerWeight)
	assert.Equal(t, 0.25, cfg.Matcher.FocusWeight)
	assert.Equal(t, 0.5, cfg.Matcher.MinScore)
	assert.Equal(t, 5*time.Minute, cfg.Executor.StepTimeout)
	assert.Equal(t, 3, cfg.Engine.MaxHandoffDepth)
	assert.Equal(t, "dry-run", cfg.Performer.Kind)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, 8421, cfg.Server.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
registry:
  agent_dirs: [./agents]
  watch: true
matcher:
  min_score: 2
  category_priority: [quality, implementation]
executor:
  step_timeout: 30s
  strict_boundaries: true
performer:
  kind: command
  command: ./run-step.sh
  args: [--verbose]
profile: ci
profiles:
  ci:
    log_level: debug
    executor:
      step_timeout: 2m
`), 0o644))

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, []string{"./agents"}, cfg.Registry.AgentDirs)
	assert.True(t, cfg.Registry.Watch)
	assert.Equal(t, 2.0, cfg.Matcher.MinScore)
	assert.True(t, cfg.Executor.StrictBoundaries)
	assert.Equal(t, "./run-step.sh", cfg.Performer.Command)
	assert.Equal(t, []string{"--verbose"}, cfg.Performer.Args)

	// the ci profile overrides these
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2*time.Minute, cfg.Executor.StepTimeout)

	opts := cfg.MatcherOptions()
	assert.Equal(t, []registry.Category{registry.CategoryQuality, registry.CategoryImplementation}, opts.CategoryPriority)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SWITCHBOARD_MATCHER_MIN_SCORE", "1.5")
	t.Setenv("SWITCHBOARD_LOG_FORMAT", "json")

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 1.5, cfg.Matcher.MinScore)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestInitWithoutConfigFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	v := viper.New()
	require.NoError(t, Init(v))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
}

func TestLoadUnknownProfile(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("profile", "missing")

	_, err := Load(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(v *viper.Viper)
		problem string
	}{
		{"negative threshold", func(v *viper.Viper) { v.Set("matcher.min_score", -1) }, "min_score"},
		{"zero timeout", func(v *viper.Viper) { v.Set("executor.step_timeout", "0s") }, "step_timeout"},
		{"negative depth", func(v *viper.Viper) { v.Set("engine.max_handoff_depth", -1) }, "max_handoff_depth"},
		{"command without path", func(v *viper.Viper) { v.Set("performer.kind", "command") }, "performer.command"},
		{"unknown category", func(v *viper.Viper) { v.Set("matcher.category_priority", []string{"wizardry"}) }, "wizardry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			SetDefaults(v)
			tt.mutate(v)

			_, err := Load(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.problem)
		})
	}
}
