package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, ProviderAnthropic, cfg.Interpreter.Provider)
	assert.Equal(t, ProviderOpenAI, cfg.Scorer.Provider)
	assert.Equal(t, 50.0, cfg.Pipeline.FitScoreThreshold)
	assert.Equal(t, 25, cfg.Search.MaxResults)
	assert.Equal(t, 64, cfg.Bus.SubscriberBuffer)
	assert.Equal(t, filepath.Join(dir, "data", "jobpilot.db"), cfg.DatabaseFile)
}

func TestLoadParsesYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	content := `
pipeline:
  stall_threshold: 2h
  fit_score_threshold: 70
  max_concurrent: 5
command:
  confidence_threshold: 0.9
  max_history_tokens: 4000
search:
  platforms: [linkedin]
  max_results: 10
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFilename), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Hour, cfg.Pipeline.StallThreshold)
	assert.Equal(t, 70.0, cfg.Pipeline.FitScoreThreshold)
	assert.Equal(t, 5, cfg.Pipeline.MaxConcurrent)
	assert.Equal(t, 0.9, cfg.Command.ConfidenceThreshold)
	assert.Equal(t, []string{"linkedin"}, cfg.Search.Platforms)
}

func TestLoadRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	content := `
interpreter:
  provider: something-else
  model: foo
  max_tokens: 100
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFilename), []byte(content), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown LLM provider")
}

func TestEnvOverridesAPIKeys(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-anthropic")
	t.Setenv("OPENAI_API_KEY", "sk-test-openai")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "sk-test-anthropic", cfg.Interpreter.APIKey)
	assert.Equal(t, "sk-test-openai", cfg.Scorer.APIKey)
}

func TestValidateRejectsUnknownPlatform(t *testing.T) {
	cfg := Default(t.TempDir())
	cfg.Search.Platforms = []string{"monster"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown platform")
}
