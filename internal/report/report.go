// Package report provides persistence for differencing run results.
package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// File records the inputs, configuration, and outcome of one PSF-matching
// run (.diffrun.json).
type File struct {
	Version  int       `json:"version"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`

	// Image paths (relative to the report file)
	TemplateImagePath string `json:"template_image,omitempty"`
	ScienceImagePath  string `json:"science_image,omitempty"`

	// Fit setup
	Fwhm           float64 `json:"fwhm,omitempty"`
	KernelBasisSet string  `json:"kernel_basis_set"`
	KernelSize     int     `json:"kernel_size"`

	// Outcome
	NCandidates  int     `json:"n_candidates"`
	NGood        int     `json:"n_good"`
	KernelSum    float64 `json:"kernel_sum"`
	KernelSumErr float64 `json:"kernel_sum_err,omitempty"`
	ResidualMean float64 `json:"residual_mean"`
	ResidualRMS  float64 `json:"residual_rms"`
	ResidualNpix int     `json:"residual_npix"`

	Candidates []Candidate `json:"candidates,omitempty"`
}

// Candidate is the per-candidate summary kept in the report.
type Candidate struct {
	ID           int     `json:"id"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Status       string  `json:"status"`
	KernelSum    float64 `json:"kernel_sum,omitempty"`
	ResidualMean float64 `json:"residual_mean,omitempty"`
	ResidualRMS  float64 `json:"residual_rms,omitempty"`
}

// New creates a report for a fresh run.
func New() *File {
	now := time.Now()
	return &File{
		Version:  1,
		Created:  now,
		Modified: now,
	}
}

// Load loads a report from a file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	return &f, nil
}

// Save saves the report to a file.
func (f *File) Save(path string) error {
	f.Modified = time.Now()

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// SetImagePaths records the input image paths relative to the report file.
func (f *File) SetImagePaths(reportPath, templatePath, sciencePath string) {
	f.TemplateImagePath = relTo(reportPath, templatePath)
	f.ScienceImagePath = relTo(reportPath, sciencePath)
	f.Modified = time.Now()
}

// TemplatePath returns the absolute path to the template image.
func (f *File) TemplatePath(reportPath string) string {
	return absFrom(reportPath, f.TemplateImagePath)
}

// SciencePath returns the absolute path to the science image.
func (f *File) SciencePath(reportPath string) string {
	return absFrom(reportPath, f.ScienceImagePath)
}

func relTo(reportPath, path string) string {
	rel, err := filepath.Rel(filepath.Dir(reportPath), path)
	if err != nil {
		return path
	}
	return rel
}

func absFrom(reportPath, path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(filepath.Dir(reportPath), path)
}
