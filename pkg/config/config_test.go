package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("LLM_MODEL", "")
	t.Setenv("REVIEW_TEMPERATURE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "claude-opus-5", cfg.LLMModel)
	assert.Equal(t, 0.2, cfg.ReviewTemperature)
	assert.Equal(t, 3, cfg.MaxRetriesPerPersona)
}

func TestLoadRejectsOutOfRangeTemperature(t *testing.T) {
	t.Setenv("REVIEW_TEMPERATURE", "4.2")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadHonorsExplicitExpandModelOverride(t *testing.T) {
	t.Setenv("LLM_MODEL", "claude-sonnet-5")
	t.Setenv("EXPAND_MODEL", "claude-opus-5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "claude-opus-5", cfg.ExpandModel)
	assert.Equal(t, "claude-sonnet-5", cfg.ReviewModel)
}
