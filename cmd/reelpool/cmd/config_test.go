package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/reelpool/internal/config"
)

func TestToMap_HumanReadableValues(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	m := toMap(cfg)

	pool, ok := m["pool"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 5, pool["capacity"])
	assert.Equal(t, "30s", pool["failure_backoff"])

	pressure, ok := m["pressure"].(map[string]any)
	require.True(t, ok)
	sampler, ok := pressure["sampler"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "512MB", sampler["warning_available"])
	assert.Equal(t, "@every 5s", sampler["schedule"])
}
