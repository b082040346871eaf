// Command diffim PSF-matches a template image to a science image and
// subtracts them, printing residual statistics and writing quality ratings
// to the log.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"diffim/internal/basis"
	"diffim/internal/cellset"
	"diffim/internal/config"
	"diffim/internal/image"
	"diffim/internal/kernel"
	"diffim/internal/quality"
	"diffim/internal/report"
	"diffim/internal/solver"
	"diffim/internal/spatial"
	"diffim/internal/subtract"
	"diffim/internal/version"
	"diffim/pkg/geometry"
)

func main() {
	templatePath := flag.String("t", "", "Path to template image (the one convolved)")
	sciencePath := flag.String("s", "", "Path to science image (the one matched to)")
	configPath := flag.String("c", "", "Optional YAML config file")
	fwhm := flag.Float64("fwhm", 3.5, "PSF full width at half maximum in pixels")
	gain := flag.Float64("gain", 1.0, "Detector gain for the synthesized variance plane")
	stampSize := flag.Int("stamp", 0, "Candidate stamp size in pixels (0 = 3x kernel size)")
	reportPath := flag.String("o", "", "Optional path for the JSON run report")
	verbose := flag.Bool("v", false, "Verbose logging")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("diffim %s (%s, built %s)\n", version.Version, version.GitCommit, version.BuildTime)
		return
	}

	if *templatePath == "" || *sciencePath == "" {
		fmt.Println("Usage: diffim -t <template> -s <science> [-c <config.yaml>] [-fwhm <px>]")
		os.Exit(1)
	}

	log, err := newLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg := config.Default()
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cfg.ApplyFwhm(*fwhm); err != nil {
		fmt.Fprintf(os.Stderr, "Bad fwhm: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Bad config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("=== Loading template: %s ===\n", *templatePath)
	template, err := image.LoadMasked(*templatePath, *gain)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load template: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("=== Loading science: %s ===\n", *sciencePath)
	science, err := image.LoadMasked(*sciencePath, *gain)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load science: %v\n", err)
		os.Exit(1)
	}
	if template.Width() != science.Width() || template.Height() != science.Height() {
		fmt.Fprintf(os.Stderr, "Image dimensions differ: %dx%d vs %dx%d (expected pre-registered images)\n",
			template.Width(), template.Height(), science.Width(), science.Height())
		os.Exit(1)
	}

	fmt.Printf("\n=== Building %s basis, kernel size %d ===\n", cfg.KernelBasisSet, cfg.KernelSize)
	basisList, penalty, err := basis.FromConfig(&cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build basis: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Basis kernels: %d\n", len(basisList))

	var functor *solver.Functor
	if penalty != nil {
		functor, err = solver.NewRegularized(basisList, penalty, cfg.RegularizationScaling, log)
	} else {
		functor, err = solver.New(basisList, log)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create solver: %v\n", err)
		os.Exit(1)
	}

	cells, err := cellset.New(template.Bounds(), cfg.SizeCellX, cfg.SizeCellY)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create cell set: %v\n", err)
		os.Exit(1)
	}

	// No external footprint list here, so place one candidate at the
	// center of each grid cell, model-to-model style.
	size := *stampSize
	if size <= 0 {
		size = 3 * cfg.KernelSize
	}
	n, err := placeGridCandidates(cells, template, science, size, cfg.SizeCellX, cfg.SizeCellY)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to place candidates: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\n=== Placed %d candidates on a %d-cell grid ===\n", n, cells.NumCells())

	fmt.Printf("\n=== Fitting spatial kernel ===\n")
	model, err := spatial.FitFromCandidates(cells, functor, &cfg, log)
	if err != nil {
		if errors.Is(err, kernel.ErrNoGoodCandidates) {
			fmt.Fprintf(os.Stderr, "No good candidates: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "Spatial fit failed: %v\n", err)
		}
		os.Exit(1)
	}
	fmt.Printf("Used %d candidates for the spatial fit\n", cells.CountGood())

	fmt.Printf("\n=== Convolving and subtracting ===\n")
	diffim, err := subtract.ConvolveAndSubtractSpatial(template, science, model)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Subtraction failed: %v\n", err)
		os.Exit(1)
	}
	stats, err := subtract.ImageStatistics(diffim, diffim.Bounds())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Statistics failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Difference image residuals: %.3f +/- %.3f sigma (%d px)\n",
		stats.Mean, stats.RMS, stats.N)

	ratings, err := quality.MakeRatingVector(cells, model)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Quality assessment failed: %v\n", err)
		os.Exit(1)
	}
	quality.ZapSink{Log: log}.Record(ratings)
	if len(ratings) > 0 {
		fmt.Printf("Kernel sum across image: %.3f +/- %.3f\n",
			ratings[0].Value, ratings[0].Uncertainty)
	}

	if *reportPath != "" {
		rep := buildReport(*reportPath, *templatePath, *sciencePath, *fwhm, &cfg, cells, ratings, stats)
		if err := rep.Save(*reportPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write report: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote run report to %s\n", *reportPath)
	}
}

func buildReport(reportPath, templatePath, sciencePath string, fwhm float64, cfg *config.Config,
	cells *cellset.SpatialCellSet, ratings []quality.Rating, stats subtract.Stats) *report.File {
	rep := report.New()
	rep.SetImagePaths(reportPath, templatePath, sciencePath)
	rep.Fwhm = fwhm
	rep.KernelBasisSet = string(cfg.KernelBasisSet)
	rep.KernelSize = cfg.KernelSize
	rep.NCandidates = cells.Len()
	rep.NGood = cells.CountGood()
	if len(ratings) > 0 {
		rep.KernelSum = ratings[0].Value
		rep.KernelSumErr = ratings[0].Uncertainty
	}
	rep.ResidualMean = stats.Mean
	rep.ResidualRMS = stats.RMS
	rep.ResidualNpix = stats.N

	for _, cand := range cells.Candidates(true) {
		rc := report.Candidate{
			ID:     cand.ID,
			X:      cand.X,
			Y:      cand.Y,
			Status: cand.Status.String(),
		}
		if cand.Fit != nil {
			rc.KernelSum = cand.Fit.KernelSum
			rc.ResidualMean = cand.DiffimMean
			rc.ResidualRMS = cand.DiffimRMS
		}
		rep.Candidates = append(rep.Candidates, rc)
	}
	return rep
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	return cfg.Build()
}

// placeGridCandidates inserts one candidate stamp pair at the center of
// each cell, clipped to the image interior. Returns the number placed.
func placeGridCandidates(cells *cellset.SpatialCellSet, template, science *image.MaskedImage, stampSize, cellW, cellH int) (int, error) {
	bounds := cells.Bounds()
	half := stampSize / 2

	var n int
	for cy := bounds.Y + cellH/2; cy+half < bounds.Y+bounds.Height; cy += cellH {
		if cy-half < bounds.Y {
			continue
		}
		for cx := bounds.X + cellW/2; cx+half < bounds.X+bounds.Width; cx += cellW {
			if cx-half < bounds.X {
				continue
			}
			r := geometry.NewRectInt(cx-half, cy-half, stampSize, stampSize)
			tmi := template.SubImage(r)
			smi := science.SubImage(r)
			if _, err := cells.Insert(float64(cx), float64(cy), tmi, smi); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}
