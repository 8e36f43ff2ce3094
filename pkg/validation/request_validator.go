package validation

import (
	"fmt"

	apperrors "go-image-filter/internal/errors"
	"go-image-filter/pkg/models"
)

// Limits accepted by the processing backend
const (
	MinKernelSize = 3
	MaxKernelSize = 15
	MinSigma      = 0.1
	MaxSigma      = 10.0
	MaxThreshold  = 255
)

// ValidateAlgorithm parses value into a supported algorithm
func ValidateAlgorithm(value string) (models.Algorithm, error) {
	if value == "" {
		return models.AlgorithmNone, apperrors.NewValidationError("algorithm is required", nil)
	}
	algorithm, err := models.ParseAlgorithm(value)
	if err != nil {
		return models.AlgorithmNone, apperrors.NewValidationError(
			fmt.Sprintf("algorithm %q is not supported, use median or canny", value), err)
	}
	return algorithm, nil
}

// ValidateKernelSize accepts only the kernel sizes offered to users
func ValidateKernelSize(size int) error {
	if !models.ValidKernelSize(size) {
		return apperrors.NewValidationError(
			fmt.Sprintf("kernel_size must be one of %v (got %d)", models.KernelSizes, size), nil)
	}
	return nil
}

// ValidateBackendKernelSize applies the backend range: odd and within [3, 15]
func ValidateBackendKernelSize(size int) error {
	if size < MinKernelSize || size > MaxKernelSize {
		return apperrors.NewValidationError(
			fmt.Sprintf("kernel_size must be between %d and %d (got %d)", MinKernelSize, MaxKernelSize, size), nil)
	}
	if size%2 == 0 {
		return apperrors.NewValidationError(fmt.Sprintf("kernel_size must be odd (got %d)", size), nil)
	}
	return nil
}

// ValidateCanny checks optional edge-detection parameters; nil is valid
func ValidateCanny(params *models.CannyParams) error {
	if params == nil {
		return nil
	}
	if params.Sigma != 0 && (params.Sigma < MinSigma || params.Sigma > MaxSigma) {
		return apperrors.NewValidationError(
			fmt.Sprintf("sigma must be between %.1f and %.1f", MinSigma, MaxSigma), nil)
	}
	for name, v := range map[string]int{"low_threshold": params.LowThreshold, "high_threshold": params.HighThreshold} {
		if v < 0 || v > MaxThreshold {
			return apperrors.NewValidationError(fmt.Sprintf("%s must be between 0 and %d", name, MaxThreshold), nil)
		}
	}
	if params.LowThreshold != 0 && params.HighThreshold != 0 && params.LowThreshold >= params.HighThreshold {
		return apperrors.NewValidationError("low_threshold must be less than high_threshold", nil)
	}
	return nil
}
