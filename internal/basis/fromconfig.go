package basis

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"diffim/internal/config"
	"diffim/internal/kernel"
)

// FromConfig builds the kernel basis selected by the config, plus the
// regularization penalty for the delta-function basis when enabled (nil
// otherwise; the Alard-Lupton basis is smooth by construction).
func FromConfig(cfg *config.Config) (kernel.BasisList, *mat.Dense, error) {
	switch cfg.KernelBasisSet {
	case config.BasisAlardLupton:
		bl, err := MakeAlardLupton(cfg.KernelSize/2, cfg.AlardNGauss, cfg.AlardSigGauss, cfg.AlardDegGauss)
		return bl, nil, err

	case config.BasisDeltaFunction:
		bl, err := MakeDeltaFunction(cfg.KernelSize, cfg.KernelSize)
		if err != nil {
			return nil, nil, err
		}
		if !cfg.UseRegularization {
			return bl, nil, nil
		}
		var h *mat.Dense
		switch cfg.RegularizationType {
		case config.RegularizationCentral:
			h, err = MakeCentralDifference(cfg.KernelSize, cfg.KernelSize,
				cfg.CentralRegularizationStencil, cfg.RegularizationBorderPenalty)
		case config.RegularizationForward:
			h, err = MakeForwardDifference(cfg.KernelSize, cfg.KernelSize,
				cfg.ForwardRegularizationOrders, cfg.RegularizationBorderPenalty)
		default:
			err = fmt.Errorf("%w: regularizationType %q", kernel.ErrConfig, cfg.RegularizationType)
		}
		if err != nil {
			return nil, nil, err
		}
		return bl, h, nil

	default:
		return nil, nil, fmt.Errorf("%w: kernelBasisSet %q", kernel.ErrConfig, cfg.KernelBasisSet)
	}
}
