// Package config loads gridder tuning parameters from JSON.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultConfigPath is the path to the canonical gridder defaults file.
// This is the single source of truth for all default gridding values.
const DefaultConfigPath = "config/gridder.defaults.json"

// GridderConfig represents the root configuration for the A-Projection
// gridder. Every field is optional; the Get* methods supply defaults for
// fields that are omitted from the JSON file.
type GridderConfig struct {
	// Parallactic-angle thresholds
	DeltaPADeg             *float64 `json:"delta_pa_deg,omitempty"`              // PA step that triggers weight accumulation
	RotationPAToleranceDeg *float64 `json:"rotation_pa_tolerance_deg,omitempty"` // PA step that triggers CF re-rotation
	PABucketDeg            *float64 `json:"pa_bucket_deg,omitempty"`             // width of cached CF PA buckets

	// Convolution function handling
	Interpolation *string `json:"interpolation,omitempty"` // "LINEAR" or "NEAREST"
	Oversampling  *int    `json:"oversampling,omitempty"`

	// Image normalisation
	PBLimit      *float64 `json:"pb_limit,omitempty"`
	FFTNormalize *bool    `json:"fft_normalize,omitempty"`

	// Pointing
	DoPointingCorrection *bool `json:"do_pointing_correction,omitempty"`

	// Cache
	CacheDir             *string `json:"cache_dir,omitempty"`
	CompressCache        *bool   `json:"compress_cache,omitempty"` // zstd-compress cached kernels
	SensitivityQualifier *string `json:"sensitivity_qualifier,omitempty"`
}

// EmptyGridderConfig returns a GridderConfig with all fields set to nil.
func EmptyGridderConfig() *GridderConfig {
	return &GridderConfig{}
}

// LoadGridderConfig loads a GridderConfig from a JSON file.
// The file must have a .json extension and be under the max file size.
// Fields omitted from the JSON file fall back to defaults, so partial
// configs are safe.
func LoadGridderConfig(path string) (*GridderConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyGridderConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *GridderConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,       // from cmd/awimager
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadGridderConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *GridderConfig) Validate() error {
	if c.DeltaPADeg != nil && *c.DeltaPADeg <= 0 {
		return fmt.Errorf("delta_pa_deg must be positive, got %f", *c.DeltaPADeg)
	}
	if c.RotationPAToleranceDeg != nil && *c.RotationPAToleranceDeg < 0 {
		return fmt.Errorf("rotation_pa_tolerance_deg must be non-negative, got %f", *c.RotationPAToleranceDeg)
	}
	if c.PABucketDeg != nil && *c.PABucketDeg <= 0 {
		return fmt.Errorf("pa_bucket_deg must be positive, got %f", *c.PABucketDeg)
	}
	if c.Interpolation != nil {
		switch strings.ToUpper(*c.Interpolation) {
		case "LINEAR", "NEAREST":
		default:
			return fmt.Errorf("interpolation must be LINEAR or NEAREST, got %q", *c.Interpolation)
		}
	}
	if c.Oversampling != nil && *c.Oversampling < 1 {
		return fmt.Errorf("oversampling must be at least 1, got %d", *c.Oversampling)
	}
	if c.PBLimit != nil && (*c.PBLimit < 0 || *c.PBLimit >= 1) {
		return fmt.Errorf("pb_limit must be in [0, 1), got %f", *c.PBLimit)
	}
	return nil
}

// GetDeltaPADeg returns the weight-accumulation PA threshold in degrees.
func (c *GridderConfig) GetDeltaPADeg() float64 {
	if c.DeltaPADeg == nil {
		return 1.0
	}
	return *c.DeltaPADeg
}

// GetRotationPAToleranceDeg returns the CF re-rotation tolerance in degrees.
func (c *GridderConfig) GetRotationPAToleranceDeg() float64 {
	if c.RotationPAToleranceDeg == nil {
		return 0.1
	}
	return *c.RotationPAToleranceDeg
}

// GetPABucketDeg returns the PA bucket width used to key cached CFs.
func (c *GridderConfig) GetPABucketDeg() float64 {
	if c.PABucketDeg == nil {
		return 5.0
	}
	return *c.PABucketDeg
}

// GetInterpolation returns the CF rotation interpolation scheme.
func (c *GridderConfig) GetInterpolation() string {
	if c.Interpolation == nil || *c.Interpolation == "" {
		return "LINEAR"
	}
	return strings.ToUpper(*c.Interpolation)
}

// GetOversampling returns the CF oversampling factor.
func (c *GridderConfig) GetOversampling() int {
	if c.Oversampling == nil {
		return 20
	}
	return *c.Oversampling
}

// GetPBLimit returns the sensitivity cutoff below which pixels are blanked.
func (c *GridderConfig) GetPBLimit() float64 {
	if c.PBLimit == nil {
		return 0.05
	}
	return *c.PBLimit
}

// GetFFTNormalize reports whether FFTs are normalised by the grid size.
func (c *GridderConfig) GetFFTNormalize() bool {
	if c.FFTNormalize == nil {
		return true
	}
	return *c.FFTNormalize
}

// GetDoPointingCorrection reports whether pointing offsets are applied.
func (c *GridderConfig) GetDoPointingCorrection() bool {
	if c.DoPointingCorrection == nil {
		return false
	}
	return *c.DoPointingCorrection
}

// GetCacheDir returns the convolution-function cache directory.
func (c *GridderConfig) GetCacheDir() string {
	if c.CacheDir == nil || *c.CacheDir == "" {
		return "cfcache"
	}
	return *c.CacheDir
}

// GetCompressCache reports whether cached kernel files are compressed.
func (c *GridderConfig) GetCompressCache() bool {
	if c.CompressCache == nil {
		return false
	}
	return *c.CompressCache
}

// GetSensitivityQualifier returns the qualifier used to tag cached
// sensitivity images (e.g. a Taylor term or facet name).
func (c *GridderConfig) GetSensitivityQualifier() string {
	if c.SensitivityQualifier == nil {
		return ""
	}
	return *c.SensitivityQualifier
}
