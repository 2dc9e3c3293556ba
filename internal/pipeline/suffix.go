package pipeline

import (
	"fmt"
	"strconv"
)

// Step names accepted in pipeline definitions.
const (
	// Functional steps
	StepAdjustMeanIntensity = "adjust_mean_intensity"
	StepMotionCorrection    = "motion_correction"
	StepSliceTiming         = "slice_timing"
	StepHighpassFilter      = "highpass_filter"
	StepSmoothTemporal      = "smooth_temporal"
	StepSmoothSpatial       = "smooth_spatial"

	// Anatomical steps
	StepTransformSag        = "transform_sag"
	StepTransformIsoVoxel   = "transform_iso_voxel"
	StepIntensityCorrection = "correct_intensity_inhomogeneities"

	// Normalization steps
	StepTalairach = "normalize_talairach"
	StepMNI       = "normalize_mni"
)

// KnownStep reports whether the step name is in the registry.
func KnownStep(name string) bool {
	switch name {
	case StepAdjustMeanIntensity, StepMotionCorrection, StepSliceTiming,
		StepHighpassFilter, StepSmoothTemporal, StepSmoothSpatial,
		StepTransformSag, StepTransformIsoVoxel, StepIntensityCorrection,
		StepTalairach, StepMNI:
		return true
	}
	return false
}

// SuffixFor returns the filename suffix a step appends to its output.
// Several suffixes encode an option value, matching the names the
// processing engine writes.
func SuffixFor(step Step) (string, error) {
	switch step.Name {
	case StepAdjustMeanIntensity:
		return "_AMI", nil
	case StepMotionCorrection:
		// Sinc interpolation of the full time course is the default and
		// yields the TS-marked suffix.
		if optBool(step.Options, "volumeWise") {
			return "_3DMC", nil
		}
		return "_3DMCTS", nil
	case StepSliceTiming:
		return "_SCCTBL", nil
	case StepHighpassFilter:
		cycles := optInt(step.Options, "cycles", 3)
		return fmt.Sprintf("_THPGLMF%dc", cycles), nil
	case StepSmoothTemporal:
		return "_TS", nil
	case StepSmoothSpatial:
		fwhm := optFloat(step.Options, "fwhm", 4.0)
		return fmt.Sprintf("_SD3DVSS%.2fmm", fwhm), nil
	case StepTransformSag:
		return "_SAG", nil
	case StepTransformIsoVoxel:
		res := optFloat(step.Options, "targetRes", 1.0)
		return fmt.Sprintf("_ISO-%.1f", res), nil
	case StepIntensityCorrection:
		return "_IIHC", nil
	case StepTalairach:
		return "_aTal", nil
	case StepMNI:
		return "_MNI", nil
	}
	return "", &PipelineError{Type: UnknownStep, Message: step.Name}
}

func optBool(opts map[string]any, key string) bool {
	if v, ok := opts[key].(bool); ok {
		return v
	}
	return false
}

func optInt(opts map[string]any, key string, def int) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func optFloat(opts map[string]any, key string, def float64) float64 {
	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
