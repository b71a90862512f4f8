package models

import "fmt"

// DeformMethod selects how the frame pair is resampled between passes.
type DeformMethod int

const (
	// DeformSymmetric resamples each frame by half the deformation field in
	// opposite directions, so correlation measures residual motion around
	// the midpoint of the pair.
	DeformSymmetric DeformMethod = iota

	// DeformSecondImage resamples only the second frame by the full field.
	DeformSecondImage
)

// String returns the configuration name of the method.
func (m DeformMethod) String() string {
	switch m {
	case DeformSymmetric:
		return "symmetric"
	case DeformSecondImage:
		return "second image"
	default:
		return fmt.Sprintf("DeformMethod(%d)", int(m))
	}
}

// ParseDeformMethod converts a configuration string into a DeformMethod.
func ParseDeformMethod(s string) (DeformMethod, error) {
	switch s {
	case "symmetric":
		return DeformSymmetric, nil
	case "second image", "second_image":
		return DeformSecondImage, nil
	default:
		return 0, &ConfigError{Reason: fmt.Sprintf("deformation method is not valid: %q", s)}
	}
}

// ValidationMethod selects the outlier test applied to a pass's field.
type ValidationMethod int

const (
	// ValidationNone disables outlier detection.
	ValidationNone ValidationMethod = iota

	// ValidationSig2Noise flags entries whose correlation quality falls
	// below the threshold.
	ValidationSig2Noise

	// ValidationLocalMedian flags entries deviating from the median of
	// their valid neighbors by more than the threshold.
	ValidationLocalMedian

	// ValidationGlobalVelocity flags entries whose velocity magnitude
	// exceeds the threshold.
	ValidationGlobalVelocity

	// ValidationGlobalStd flags entries further than threshold standard
	// deviations from the global mean of each component.
	ValidationGlobalStd
)

// String returns the configuration name of the method.
func (m ValidationMethod) String() string {
	switch m {
	case ValidationNone:
		return "none"
	case ValidationSig2Noise:
		return "sig2noise"
	case ValidationLocalMedian:
		return "local_median"
	case ValidationGlobalVelocity:
		return "global_velocity"
	case ValidationGlobalStd:
		return "global_std"
	default:
		return fmt.Sprintf("ValidationMethod(%d)", int(m))
	}
}

// ParseValidationMethod converts a configuration string into a ValidationMethod.
func ParseValidationMethod(s string) (ValidationMethod, error) {
	switch s {
	case "", "none":
		return ValidationNone, nil
	case "sig2noise":
		return ValidationSig2Noise, nil
	case "local_median", "localmedian":
		return ValidationLocalMedian, nil
	case "global_velocity", "mean_velocity":
		return ValidationGlobalVelocity, nil
	case "global_std":
		return ValidationGlobalStd, nil
	default:
		return 0, &ConfigError{Reason: fmt.Sprintf("validation method is not valid: %q", s)}
	}
}

// PassConfig holds the immutable parameters of one interrogation pass.
// The ordered sequence of PassConfig values is fixed before a run starts;
// no component observes configuration belonging to a different pass.
type PassConfig struct {
	// WindowSize is the interrogation window side length in pixels
	WindowSize int

	// Overlap is the shared extent between adjacent windows in pixels
	Overlap int

	// Method selects the window deformation strategy for this pass
	Method DeformMethod

	// FieldOrder is the interpolation order used to densify the sparse
	// field (0 nearest, 1 linear, >= 2 spline)
	FieldOrder int

	// ResampleOrder is the interpolation order used when warping frames
	// (0 nearest, 1 bilinear, >= 2 bicubic); independent of FieldOrder
	ResampleOrder int

	// Validation selects the outlier test; Threshold is its parameter
	Validation ValidationMethod
	Threshold  float64

	// ReplaceKernel and ReplaceIterations control local-mean replacement
	// of flagged entries
	ReplaceKernel     int
	ReplaceIterations int

	// Smooth enables field smoothing after replacement with the given
	// penalty strength
	Smooth        bool
	SmoothPenalty float64
}
