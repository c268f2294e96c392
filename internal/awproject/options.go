package awproject

import (
	"fmt"

	"github.com/banshee-data/awimager/internal/cfrotate"
	"github.com/banshee-data/awimager/internal/config"
)

// Options holds the machine's tuning. Build it with NewOptions.
type Options struct {
	DeltaPADeg             float64
	RotationPAToleranceDeg float64
	Interpolation          cfrotate.Interpolation
	PBLimit                float64
	DoPointingCorrection   bool
	SensitivityQualifier   string

	// BaselineClass selects the cached kernel family. All baselines share
	// class 0 for a homogeneous array.
	BaselineClass int
}

// NewOptions converts a gridder config into machine options.
func NewOptions(cfg *config.GridderConfig) (Options, error) {
	if err := cfg.Validate(); err != nil {
		return Options{}, err
	}
	interp, err := cfrotate.ParseInterpolation(cfg.GetInterpolation())
	if err != nil {
		return Options{}, fmt.Errorf("invalid gridder config: %w", err)
	}
	return Options{
		DeltaPADeg:             cfg.GetDeltaPADeg(),
		RotationPAToleranceDeg: cfg.GetRotationPAToleranceDeg(),
		Interpolation:          interp,
		PBLimit:                cfg.GetPBLimit(),
		DoPointingCorrection:   cfg.GetDoPointingCorrection(),
		SensitivityQualifier:   cfg.GetSensitivityQualifier(),
	}, nil
}
