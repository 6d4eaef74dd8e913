package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veronica-labs/veronica/pkg/config"
)

func TestEnvironmentDefaults(t *testing.T) {
	t.Setenv("SAFE_MODE", "")
	t.Setenv("EVENTS_DISABLED", "")
	t.Setenv("SECURITY_LEVEL", "")
	config.ResetEnvCache()

	env := config.Environment()
	assert.False(t, env.SafeMode)
	assert.False(t, env.EventsDisabled)
	assert.Equal(t, config.LevelDev, env.SecurityLevel)
}

func TestEnvironmentReadsOnce(t *testing.T) {
	t.Setenv("SAFE_MODE", "true")
	t.Setenv("SECURITY_LEVEL", "prod")
	config.ResetEnvCache()
	t.Cleanup(config.ResetEnvCache)

	env := config.Environment()
	assert.True(t, env.SafeMode)
	assert.Equal(t, config.LevelProd, env.SecurityLevel)

	// Later mutations are invisible until the cache is reset.
	t.Setenv("SAFE_MODE", "false")
	assert.True(t, config.Environment().SafeMode)

	config.ResetEnvCache()
	assert.False(t, config.Environment().SafeMode)
}

const validProfile = `
name: strict
version: 1.2.0
max_cost_usd: 0.50
max_steps: 25
max_retries_total: 3
timeout_ms: 30000
window:
  max_calls: 5
  window_ms: 60000
  degrade_threshold: 0.8
breaker:
  failure_threshold: 3
  recovery_timeout_ms: 60000
ladder:
  model_downgrade: 0.8
  context_trim: 0.85
  rate_limit: 0.9
  fallback_models:
    gpt-large: gpt-small
`

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_strict.yaml"), []byte(validProfile), 0o644))

	p, err := config.LoadProfile(dir, "STRICT")
	require.NoError(t, err)
	assert.Equal(t, "strict", p.Name)
	assert.Equal(t, "1.2.0", p.Version)
	assert.InDelta(t, 0.50, p.MaxCostUSD, 1e-9)
	assert.Equal(t, 25, p.MaxSteps)
	assert.Equal(t, 5, p.Window.MaxCalls)
	assert.Equal(t, "gpt-small", p.Ladder.FallbackModels["gpt-large"])
}

func TestParseProfileRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"missing version":  "name: x\nmax_cost_usd: 1\nmax_steps: 5\n",
		"zero cost":        "name: x\nversion: 1.0.0\nmax_cost_usd: 0\nmax_steps: 5\n",
		"bad version":      "name: x\nversion: latest\nmax_cost_usd: 1\nmax_steps: 5\n",
		"zero steps":       "name: x\nversion: 1.0.0\nmax_cost_usd: 1\nmax_steps: 0\n",
		"threshold over 1": "name: x\nversion: 1.0.0\nmax_cost_usd: 1\nmax_steps: 5\nwindow:\n  degrade_threshold: 1.5\n",
		"negative timeout": "name: x\nversion: 1.0.0\nmax_cost_usd: 1\nmax_steps: 5\ntimeout_ms: -1\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.ParseProfile([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadAllProfiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_strict.yaml"), []byte(validProfile), 0o644))
	loose := "name: loose\nversion: 0.1.0\nmax_cost_usd: 10\nmax_steps: 500\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_loose.yaml"), []byte(loose), 0o644))

	profiles, err := config.LoadAllProfiles(dir)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Contains(t, profiles, "strict")
	assert.Contains(t, profiles, "loose")
}
