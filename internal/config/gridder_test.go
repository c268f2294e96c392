package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyGridderConfigDefaults(t *testing.T) {
	cfg := EmptyGridderConfig()

	assert.Equal(t, 1.0, cfg.GetDeltaPADeg())
	assert.Equal(t, 0.1, cfg.GetRotationPAToleranceDeg())
	assert.Equal(t, 5.0, cfg.GetPABucketDeg())
	assert.Equal(t, "LINEAR", cfg.GetInterpolation())
	assert.Equal(t, 20, cfg.GetOversampling())
	assert.Equal(t, 0.05, cfg.GetPBLimit())
	assert.True(t, cfg.GetFFTNormalize())
	assert.False(t, cfg.GetDoPointingCorrection())
	assert.Equal(t, "cfcache", cfg.GetCacheDir())
	assert.False(t, cfg.GetCompressCache())
	assert.Equal(t, "", cfg.GetSensitivityQualifier())
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	require.NotNil(t, cfg.DeltaPADeg)
	assert.Equal(t, 1.0, cfg.GetDeltaPADeg())
	assert.Equal(t, "LINEAR", cfg.GetInterpolation())
}

func TestLoadGridderConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "gridder.json")

	testJSON := `{
  "delta_pa_deg": 2.5,
  "interpolation": "nearest",
  "cache_dir": "/tmp/cf",
  "compress_cache": true,
  "sensitivity_qualifier": "tt0"
}`
	require.NoError(t, os.WriteFile(configPath, []byte(testJSON), 0o644))

	cfg, err := LoadGridderConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, 2.5, cfg.GetDeltaPADeg())
	assert.Equal(t, "NEAREST", cfg.GetInterpolation())
	assert.Equal(t, "/tmp/cf", cfg.GetCacheDir())
	assert.True(t, cfg.GetCompressCache())
	assert.Equal(t, "tt0", cfg.GetSensitivityQualifier())
	// Omitted fields keep defaults
	assert.Equal(t, 0.05, cfg.GetPBLimit())
}

func TestLoadGridderConfig_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("wrong extension", func(t *testing.T) {
		_, err := LoadGridderConfig(filepath.Join(tmpDir, "cfg.yaml"))
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadGridderConfig(filepath.Join(tmpDir, "missing.json"))
		assert.Error(t, err)
	})

	t.Run("bad json", func(t *testing.T) {
		p := filepath.Join(tmpDir, "bad.json")
		require.NoError(t, os.WriteFile(p, []byte("{"), 0o644))
		_, err := LoadGridderConfig(p)
		assert.Error(t, err)
	})

	t.Run("invalid value", func(t *testing.T) {
		p := filepath.Join(tmpDir, "invalid.json")
		require.NoError(t, os.WriteFile(p, []byte(`{"delta_pa_deg": 0}`), 0o644))
		_, err := LoadGridderConfig(p)
		assert.ErrorContains(t, err, "delta_pa_deg")
	})
}

func TestValidate(t *testing.T) {
	neg := -1.0
	one := 1.0
	zero := 0
	bad := "CUBIC"

	tests := []struct {
		name string
		cfg  GridderConfig
		ok   bool
	}{
		{"empty", GridderConfig{}, true},
		{"negative tolerance", GridderConfig{RotationPAToleranceDeg: &neg}, false},
		{"zero bucket", GridderConfig{PABucketDeg: new(float64)}, false},
		{"bad interpolation", GridderConfig{Interpolation: &bad}, false},
		{"zero oversampling", GridderConfig{Oversampling: &zero}, false},
		{"pb limit one", GridderConfig{PBLimit: &one}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
