// Package pipeline plans preprocessing workflows over converted data.
// Definitions come from a YAML file: which steps run, in which order,
// and with which options. A plan resolves each entity set's input file
// and the chain of output names the steps will produce.
package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PipelineErrorType represents the type of pipeline error.
type PipelineErrorType string

const (
	DefinitionNotFound PipelineErrorType = "DEFINITION_NOT_FOUND"
	InvalidDefinition  PipelineErrorType = "INVALID_DEFINITION"
	UnknownStep        PipelineErrorType = "UNKNOWN_STEP"
	MissingInput       PipelineErrorType = "MISSING_INPUT"
)

// PipelineError represents an error in pipeline definition or planning.
type PipelineError struct {
	Type    PipelineErrorType
	Path    string
	Message string
}

func (e *PipelineError) Error() string {
	switch e.Type {
	case DefinitionNotFound:
		return fmt.Sprintf("pipeline definition not found: %s", e.Path)
	case InvalidDefinition:
		return fmt.Sprintf("invalid pipeline definition: %s", e.Message)
	case UnknownStep:
		return fmt.Sprintf("unknown pipeline step: %s", e.Message)
	case MissingInput:
		return fmt.Sprintf("no input file found: %s", e.Message)
	default:
		return fmt.Sprintf("pipeline error: %s", e.Message)
	}
}

// Step is one preprocessing operation with its options.
type Step struct {
	Name    string         `yaml:"name"`
	Enabled bool           `yaml:"enabled"`
	Options map[string]any `yaml:"options,omitempty"`
}

// StageDefinition configures one modality's preprocessing stage.
type StageDefinition struct {
	// ResumeSuffix names an intermediate file to resume from, e.g.
	// "_3DMCTS_SCCTBL". Empty means start from the raw conversion.
	ResumeSuffix string `yaml:"resumeSuffix,omitempty"`
	// SkipIfExists skips a step whose output file is already present.
	SkipIfExists bool   `yaml:"skipIfExists,omitempty"`
	Steps        []Step `yaml:"steps"`
}

// Definition is the full pipeline configuration.
type Definition struct {
	Func StageDefinition `yaml:"func"`
	Anat StageDefinition `yaml:"anat"`
}

// EnabledSteps returns the stage's enabled steps in definition order.
func (d StageDefinition) EnabledSteps() []Step {
	var steps []Step
	for _, s := range d.Steps {
		if s.Enabled {
			steps = append(steps, s)
		}
	}
	return steps
}

// LoadDefinition reads and validates a YAML pipeline definition.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &PipelineError{Type: DefinitionNotFound, Path: path}
		}
		return nil, &PipelineError{Type: DefinitionNotFound, Path: path, Message: err.Error()}
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, &PipelineError{Type: InvalidDefinition, Message: err.Error()}
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks each step name against the suffix registry.
func (d *Definition) Validate() error {
	for _, stage := range []struct {
		name string
		def  StageDefinition
	}{{"func", d.Func}, {"anat", d.Anat}} {
		for _, s := range stage.def.Steps {
			if s.Name == "" {
				return &PipelineError{
					Type:    InvalidDefinition,
					Message: fmt.Sprintf("%s stage has a step with no name", stage.name),
				}
			}
			if !KnownStep(s.Name) {
				return &PipelineError{Type: UnknownStep, Message: s.Name}
			}
		}
	}
	return nil
}

// DefaultDefinition mirrors the standard preprocessing setup: motion
// correction, slice timing and high-pass filtering for functional runs,
// sagittal transform, isovoxel resampling and intensity correction for
// anatomy.
func DefaultDefinition() *Definition {
	return &Definition{
		Func: StageDefinition{
			SkipIfExists: true,
			Steps: []Step{
				{Name: StepAdjustMeanIntensity, Enabled: false},
				{Name: StepMotionCorrection, Enabled: true, Options: map[string]any{
					"intrasession": true,
					"refVolume":    "first",
					"refRun":       1,
				}},
				{Name: StepSliceTiming, Enabled: true, Options: map[string]any{
					"interpolation": "cubic_spline",
				}},
				{Name: StepHighpassFilter, Enabled: true, Options: map[string]any{
					"cycles": 3,
				}},
				{Name: StepSmoothTemporal, Enabled: false},
				{Name: StepSmoothSpatial, Enabled: false},
			},
		},
		Anat: StageDefinition{
			SkipIfExists: true,
			Steps: []Step{
				{Name: StepTransformSag, Enabled: true},
				{Name: StepTransformIsoVoxel, Enabled: true, Options: map[string]any{
					"targetRes": 1.0,
				}},
				{Name: StepIntensityCorrection, Enabled: true},
			},
		},
	}
}
