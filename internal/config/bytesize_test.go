package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected ByteSize
		wantErr  bool
	}{
		{"raw bytes", "268435456", 256 * MB, false},
		{"warning default", "512MB", 512 * MB, false},
		{"binary suffix", "256MiB", 256 * MB, false},
		{"short suffix", "768m", 768 * MB, false},
		{"spaced and mixed case", " 1.5 Gb ", GB + 512*MB, false},
		{"playlist size", "256KB", 256 * KB, false},
		{"zero disables", "0", 0, false},
		{"unknown unit", "5XB", 0, true},
		{"negative", "-1MB", 0, true},
		{"words", "lots", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, err := ParseByteSize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, size)
		})
	}
}

// decodeYAML runs content through the same viper decode path Load uses.
func decodeYAML(t *testing.T, content string) (*Config, error) {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(content)))
	return Decode(v)
}

func TestByteSize_SamplerThresholdsDecode(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		warning  ByteSize
		critical ByteSize
	}{
		{
			name:     "defaults",
			yaml:     "pool:\n  capacity: 5\n",
			warning:  512 * MB,
			critical: 256 * MB,
		},
		{
			name:     "human readable",
			yaml:     "pressure:\n  sampler:\n    warning_available: 2GB\n    critical_available: 1.5GB\n",
			warning:  2 * GB,
			critical: GB + 512*MB,
		},
		{
			name:     "raw byte counts",
			yaml:     "pressure:\n  sampler:\n    warning_available: 805306368\n    critical_available: 402653184\n",
			warning:  768 * MB,
			critical: 384 * MB,
		},
		{
			name:     "critical disabled",
			yaml:     "pressure:\n  sampler:\n    critical_available: \"0\"\n",
			warning:  512 * MB,
			critical: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := decodeYAML(t, tt.yaml)
			require.NoError(t, err)
			assert.Equal(t, tt.warning, cfg.Pressure.Sampler.WarningAvailable)
			assert.Equal(t, tt.critical, cfg.Pressure.Sampler.CriticalAvailable)
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestByteSize_InvalidThresholdFailsDecode(t *testing.T) {
	_, err := decodeYAML(t, "pressure:\n  sampler:\n    warning_available: plenty\n")
	assert.Error(t, err)
}

func TestByteSize_ThresholdOrderValidated(t *testing.T) {
	cfg, err := decodeYAML(t, "pressure:\n  sampler:\n    warning_available: 256MB\n    critical_available: 512MB\n")
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "critical_available")

	cfg.Pressure.Sampler.Enabled = false
	assert.NoError(t, cfg.Validate(), "ordering only matters while sampling")
}

func TestByteSize_ThresholdEnvOverride(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("pressure:\n  sampler:\n    warning_available: 1GB\n"), 0o600))

	t.Setenv("REELPOOL_PRESSURE_SAMPLER_WARNING_AVAILABLE", "768MB")
	t.Setenv("REELPOOL_PRESSURE_SAMPLER_CRITICAL_AVAILABLE", "134217728")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, 768*MB, cfg.Pressure.Sampler.WarningAvailable)
	assert.Equal(t, 128*MB, cfg.Pressure.Sampler.CriticalAvailable)
	assert.Equal(t, uint64(768<<20), uint64(cfg.Pressure.Sampler.WarningAvailable.Bytes()))
}

func TestByteSize_JSON(t *testing.T) {
	var b ByteSize
	require.NoError(t, json.Unmarshal([]byte(`"512 MB"`), &b))
	assert.Equal(t, 512*MB, b)

	require.NoError(t, json.Unmarshal([]byte(`268435456`), &b))
	assert.Equal(t, 256*MB, b)

	data, err := json.Marshal(384 * MB)
	require.NoError(t, err)
	assert.Equal(t, `"384MB"`, string(data))
}

func TestByteSize_String(t *testing.T) {
	tests := []struct {
		size     ByteSize
		expected string
	}{
		{500, "500B"},
		{256 * KB, "256KB"},
		{512 * MB, "512MB"},
		{GB + 512*MB, "1.5GB"},
		{0, "0B"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.size.String())
		})
	}
}
