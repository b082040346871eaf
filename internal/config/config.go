// Package config defines the strongly typed configuration for PSF-matching
// kernel fits. Every recognized option carries its type, default, and valid
// range; Validate runs once at construction and downstream stages never
// mutate the config.
package config

import (
	"fmt"
	"math"

	"diffim/internal/kernel"
)

// Sigma2Fwhm converts a Gaussian sigma to its full width at half maximum.
const Sigma2Fwhm = 2.3548200450309493 // 2*sqrt(2*ln 2)

// BasisType selects the kernel expansion basis.
type BasisType string

const (
	BasisAlardLupton   BasisType = "alardLupton"
	BasisDeltaFunction BasisType = "deltaFunction"
)

// RegularizationType selects the smoothness penalty flavor for the
// delta-function basis.
type RegularizationType string

const (
	RegularizationCentral RegularizationType = "centralDifference"
	RegularizationForward RegularizationType = "forwardDifference"
)

// Config holds every option of the kernel solver.
type Config struct {
	// Kernel geometry.
	KernelBasisSet        BasisType `yaml:"kernelBasisSet"`
	KernelSize            int       `yaml:"kernelSize"` // odd, full width in pixels
	KernelSizeFwhmScaling float64   `yaml:"kernelSizeFwhmScaling"`
	KernelSizeMin         int       `yaml:"kernelSizeMin"`
	KernelSizeMax         int       `yaml:"kernelSizeMax"`
	ScaleByFwhm           bool      `yaml:"scaleByFwhm"`

	// Alard-Lupton basis.
	AlardNGauss         int       `yaml:"alardNGauss"`
	AlardSigGauss       []float64 `yaml:"alardSigGauss"`
	AlardDegGauss       []int     `yaml:"alardDegGauss"`
	AlardSigFwhmScaling []float64 `yaml:"alardSigFwhmScaling"`

	// Regularization, delta-function basis only.
	UseRegularization            bool               `yaml:"useRegularization"`
	RegularizationType           RegularizationType `yaml:"regularizationType"`
	CentralRegularizationStencil int                `yaml:"centralRegularizationStencil"` // 5 or 9
	ForwardRegularizationOrders  []int              `yaml:"forwardRegularizationOrders"`  // subset of {1,2,3}
	RegularizationBorderPenalty  float64            `yaml:"regularizationBorderPenalty"`
	RegularizationScaling        float64            `yaml:"regularizationScaling"`

	// Per-candidate fitting.
	ConstantVarianceWeighting bool `yaml:"constantVarianceWeighting"`
	IterateSingleKernel       bool `yaml:"iterateSingleKernel"`

	// Candidate acceptance clipping, each stage independently toggleable.
	SingleKernelClipping     bool    `yaml:"singleKernelClipping"`
	KernelSumClipping        bool    `yaml:"kernelSumClipping"`
	SpatialKernelClipping    bool    `yaml:"spatialKernelClipping"`
	CandidateResidualMeanMax float64 `yaml:"candidateResidualMeanMax"`
	CandidateResidualStdMax  float64 `yaml:"candidateResidualStdMax"`
	MaxKsumSigma             float64 `yaml:"maxKsumSigma"`

	// Spatial fitting.
	SpatialKernelOrder     int  `yaml:"spatialKernelOrder"`
	SpatialBgOrder         int  `yaml:"spatialBgOrder"`
	SizeCellX              int  `yaml:"sizeCellX"`
	SizeCellY              int  `yaml:"sizeCellY"`
	MaxSpatialIterations   int  `yaml:"maxSpatialIterations"`
	UsePcaForSpatialKernel bool `yaml:"usePcaForSpatialKernel"`
	NEigenComponents       int  `yaml:"nEigenComponents"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		KernelBasisSet:        BasisAlardLupton,
		KernelSize:            19,
		KernelSizeFwhmScaling: 6.0,
		KernelSizeMin:         7,
		KernelSizeMax:         31,
		ScaleByFwhm:           true,

		AlardNGauss:         3,
		AlardSigGauss:       []float64{0.7, 1.5, 3.0},
		AlardDegGauss:       []int{4, 3, 2},
		AlardSigFwhmScaling: []float64{0.5, 1.0, 2.0},

		UseRegularization:            true,
		RegularizationType:           RegularizationCentral,
		CentralRegularizationStencil: 9,
		ForwardRegularizationOrders:  []int{1, 2},
		RegularizationBorderPenalty:  3.0,
		RegularizationScaling:        1.0,

		SingleKernelClipping:     true,
		KernelSumClipping:        true,
		SpatialKernelClipping:    true,
		CandidateResidualMeanMax: 0.25,
		CandidateResidualStdMax:  1.50,
		MaxKsumSigma:             3.0,

		SpatialKernelOrder:     2,
		SpatialBgOrder:         1,
		SizeCellX:              128,
		SizeCellY:              128,
		MaxSpatialIterations:   3,
		UsePcaForSpatialKernel: false,
		NEigenComponents:       3,
	}
}

// Validate checks every option against its valid range, wrapping
// kernel.ErrConfig on the first violation.
func (c *Config) Validate() error {
	switch c.KernelBasisSet {
	case BasisAlardLupton, BasisDeltaFunction:
	default:
		return fmt.Errorf("%w: kernelBasisSet %q not in {%q, %q}",
			kernel.ErrConfig, c.KernelBasisSet, BasisAlardLupton, BasisDeltaFunction)
	}
	if c.KernelSize < 3 || c.KernelSize%2 == 0 {
		return fmt.Errorf("%w: kernelSize %d must be odd and >= 3", kernel.ErrConfig, c.KernelSize)
	}
	if c.KernelSizeMin < 3 || c.KernelSizeMax < c.KernelSizeMin {
		return fmt.Errorf("%w: kernelSize bounds [%d, %d] invalid",
			kernel.ErrConfig, c.KernelSizeMin, c.KernelSizeMax)
	}
	if c.KernelSizeFwhmScaling <= 0 {
		return fmt.Errorf("%w: kernelSizeFwhmScaling %g must be positive",
			kernel.ErrConfig, c.KernelSizeFwhmScaling)
	}

	if c.KernelBasisSet == BasisAlardLupton {
		if c.AlardNGauss < 1 {
			return fmt.Errorf("%w: alardNGauss %d must be >= 1", kernel.ErrConfig, c.AlardNGauss)
		}
		if len(c.AlardSigGauss) != c.AlardNGauss {
			return fmt.Errorf("%w: alardSigGauss has %d entries for %d gaussians",
				kernel.ErrConfig, len(c.AlardSigGauss), c.AlardNGauss)
		}
		if len(c.AlardDegGauss) != c.AlardNGauss {
			return fmt.Errorf("%w: alardDegGauss has %d entries for %d gaussians",
				kernel.ErrConfig, len(c.AlardDegGauss), c.AlardNGauss)
		}
		if c.ScaleByFwhm && len(c.AlardSigFwhmScaling) != c.AlardNGauss {
			return fmt.Errorf("%w: alardSigFwhmScaling has %d entries for %d gaussians",
				kernel.ErrConfig, len(c.AlardSigFwhmScaling), c.AlardNGauss)
		}
		for i, s := range c.AlardSigGauss {
			if s <= 0 {
				return fmt.Errorf("%w: alardSigGauss[%d] = %g must be positive",
					kernel.ErrConfig, i, s)
			}
		}
		for i, d := range c.AlardDegGauss {
			if d < 0 {
				return fmt.Errorf("%w: alardDegGauss[%d] = %d must be >= 0",
					kernel.ErrConfig, i, d)
			}
		}
	}

	if c.KernelBasisSet == BasisDeltaFunction && c.UseRegularization {
		switch c.RegularizationType {
		case RegularizationCentral:
			if c.CentralRegularizationStencil != 5 && c.CentralRegularizationStencil != 9 {
				return fmt.Errorf("%w: centralRegularizationStencil %d not in {5, 9}",
					kernel.ErrConfig, c.CentralRegularizationStencil)
			}
		case RegularizationForward:
			if len(c.ForwardRegularizationOrders) == 0 {
				return fmt.Errorf("%w: forwardRegularizationOrders is empty", kernel.ErrConfig)
			}
			for _, o := range c.ForwardRegularizationOrders {
				if o < 1 || o > 3 {
					return fmt.Errorf("%w: forwardRegularizationOrders entry %d not in {1, 2, 3}",
						kernel.ErrConfig, o)
				}
			}
		default:
			return fmt.Errorf("%w: regularizationType %q not in {%q, %q}",
				kernel.ErrConfig, c.RegularizationType, RegularizationCentral, RegularizationForward)
		}
		if c.RegularizationBorderPenalty < 0 {
			return fmt.Errorf("%w: regularizationBorderPenalty %g must be >= 0",
				kernel.ErrConfig, c.RegularizationBorderPenalty)
		}
		if c.RegularizationScaling < 0 {
			return fmt.Errorf("%w: regularizationScaling %g must be >= 0",
				kernel.ErrConfig, c.RegularizationScaling)
		}
	}

	if c.CandidateResidualMeanMax <= 0 {
		return fmt.Errorf("%w: candidateResidualMeanMax %g must be positive",
			kernel.ErrConfig, c.CandidateResidualMeanMax)
	}
	if c.CandidateResidualStdMax <= 0 {
		return fmt.Errorf("%w: candidateResidualStdMax %g must be positive",
			kernel.ErrConfig, c.CandidateResidualStdMax)
	}
	if c.MaxKsumSigma <= 0 {
		return fmt.Errorf("%w: maxKsumSigma %g must be positive", kernel.ErrConfig, c.MaxKsumSigma)
	}

	if c.SpatialKernelOrder < 0 {
		return fmt.Errorf("%w: spatialKernelOrder %d must be >= 0", kernel.ErrConfig, c.SpatialKernelOrder)
	}
	if c.SpatialBgOrder < 0 {
		return fmt.Errorf("%w: spatialBgOrder %d must be >= 0", kernel.ErrConfig, c.SpatialBgOrder)
	}
	if c.SizeCellX < 1 || c.SizeCellY < 1 {
		return fmt.Errorf("%w: cell size %dx%d must be positive",
			kernel.ErrConfig, c.SizeCellX, c.SizeCellY)
	}
	if c.MaxSpatialIterations < 1 {
		return fmt.Errorf("%w: maxSpatialIterations %d must be >= 1",
			kernel.ErrConfig, c.MaxSpatialIterations)
	}
	if c.UsePcaForSpatialKernel && c.NEigenComponents < 1 {
		return fmt.Errorf("%w: nEigenComponents %d must be >= 1",
			kernel.ErrConfig, c.NEigenComponents)
	}
	return nil
}

// ApplyFwhm rescales the kernel geometry and Alard-Lupton widths for the
// PSF full width at half maximum of the images being matched. Kernel size
// is clamped to [KernelSizeMin, KernelSizeMax] and forced odd.
func (c *Config) ApplyFwhm(fwhm float64) error {
	if fwhm <= 0 {
		return fmt.Errorf("%w: fwhm %g must be positive", kernel.ErrConfig, fwhm)
	}
	if !c.ScaleByFwhm {
		return nil
	}

	size := c.KernelSizeFwhmScaling * fwhm
	size = math.Min(size, float64(c.KernelSizeMax))
	size = math.Max(size, float64(c.KernelSizeMin))
	kSize := int(size)
	if kSize%2 == 0 {
		kSize++
	}
	c.KernelSize = kSize

	if c.KernelBasisSet == BasisAlardLupton {
		sigma := fwhm / Sigma2Fwhm
		sigs := make([]float64, len(c.AlardSigFwhmScaling))
		for i, scale := range c.AlardSigFwhmScaling {
			sigs[i] = scale * sigma
		}
		c.AlardSigGauss = sigs
	}
	return nil
}
