package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"bidsbv/internal/bids"
	"bidsbv/internal/bvio"
	"bidsbv/internal/layout"
)

// InputKind says where a plan's starting file comes from.
type InputKind string

const (
	// InputPreprocessed resumes from an intermediate file already in
	// the preprocessing folder.
	InputPreprocessed InputKind = "PREPROCESSED"
	// InputRawConversion copies the raw converted file out of
	// rawdata_bv.
	InputRawConversion InputKind = "RAW_CONVERSION"
	// InputRawNIfTI converts the raw NIfTI from rawdata.
	InputRawNIfTI InputKind = "RAW_NIFTI"
)

// Action is one planned step application with its resolved output path.
type Action struct {
	Step   Step
	Output string
}

// Plan is the resolved work for one entity set.
type Plan struct {
	Entities  bids.Entities
	Workflow  layout.Workflow
	Input     string
	InputKind InputKind
	// Start is the working copy inside the preprocessing folder that
	// the first step reads.
	Start        string
	Actions      []Action
	SkipIfExists bool
}

// FinalOutput returns the path the last step writes, or the start file
// when no steps are enabled.
func (p *Plan) FinalOutput() string {
	if len(p.Actions) == 0 {
		return p.Start
	}
	return p.Actions[len(p.Actions)-1].Output
}

// Planner resolves pipeline definitions into per-entity plans.
type Planner struct {
	layout layout.Layout
	def    *Definition
}

// NewPlanner creates a Planner over the dataset root.
func NewPlanner(root string, def *Definition) *Planner {
	return &Planner{layout: layout.New(root), def: def}
}

// PlanFor resolves the input file and step chain for one entity set.
// Input resolution follows the resume convention: an existing
// preprocessed file wins, then the rawdata_bv conversion, then the raw
// NIfTI. Nothing found is a MissingInput error.
func (p *Planner) PlanFor(e bids.Entities) (*Plan, error) {
	stage, workflow, err := p.stageFor(e)
	if err != nil {
		return nil, err
	}

	start, err := p.layout.DerivativePath(e, workflow, stage.ResumeSuffix)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Entities:     e,
		Workflow:     workflow,
		Start:        start,
		SkipIfExists: stage.SkipIfExists,
	}

	if err := p.resolveInput(e, stage, plan); err != nil {
		return nil, err
	}

	chain := stage.ResumeSuffix
	for _, step := range stage.EnabledSteps() {
		suffix, err := SuffixFor(step)
		if err != nil {
			return nil, err
		}
		chain += suffix
		output, err := p.layout.DerivativePath(e, workflow, chain)
		if err != nil {
			return nil, err
		}
		plan.Actions = append(plan.Actions, Action{Step: step, Output: output})
	}
	return plan, nil
}

func (p *Planner) stageFor(e bids.Entities) (StageDefinition, layout.Workflow, error) {
	datatype, err := layout.DatatypeFor(e.Suffix)
	if err != nil {
		return StageDefinition{}, layout.Workflow{}, err
	}
	switch datatype {
	case "func":
		return p.def.Func, layout.FuncPreprocessing, nil
	case "anat":
		return p.def.Anat, layout.AnatPreprocessing, nil
	}
	return StageDefinition{}, layout.Workflow{}, &PipelineError{
		Type:    InvalidDefinition,
		Message: fmt.Sprintf("no stage for datatype %q", datatype),
	}
}

func (p *Planner) resolveInput(e bids.Entities, stage StageDefinition, plan *Plan) error {
	// A resume suffix demands the intermediate file; nothing else can
	// substitute for it.
	if stage.ResumeSuffix != "" {
		if fileExists(plan.Start) {
			plan.Input = plan.Start
			plan.InputKind = InputPreprocessed
			return nil
		}
		return &PipelineError{
			Type:    MissingInput,
			Message: fmt.Sprintf("resume file %s does not exist", plan.Start),
		}
	}

	if fileExists(plan.Start) {
		plan.Input = plan.Start
		plan.InputKind = InputPreprocessed
		return nil
	}

	rawConv, err := p.layout.DerivativePath(e, layout.RawConversion, "")
	if err != nil {
		return err
	}
	if fileExists(rawConv) {
		plan.Input = rawConv
		plan.InputKind = InputRawConversion
		return nil
	}

	rawNii, err := p.layout.RawPath(e)
	if err != nil {
		return err
	}
	if fileExists(rawNii) {
		plan.Input = rawNii
		plan.InputKind = InputRawNIfTI
		return nil
	}

	return &PipelineError{
		Type: MissingInput,
		Message: fmt.Sprintf("%s: checked %s, %s and %s",
			e.Name(), plan.Start, rawConv, rawNii),
	}
}

// StepRunner executes one planned step, reading input and writing
// output.
type StepRunner interface {
	RunStep(step Step, input, output string) error
}

// StepRunnerFunc adapts a function to the StepRunner interface.
type StepRunnerFunc func(step Step, input, output string) error

func (f StepRunnerFunc) RunStep(step Step, input, output string) error {
	return f(step, input, output)
}

// RunResult reports what Execute did for one plan.
type RunResult struct {
	Ran     []string
	Skipped []string
	Err     error
}

// Execute runs a plan's actions in order. A failing step aborts the
// rest of this plan's chain; callers processing many plans continue
// with the next one.
func Execute(plan *Plan, runner StepRunner) RunResult {
	var result RunResult
	current := plan.Input
	for _, action := range plan.Actions {
		if plan.SkipIfExists && outputUsable(action.Output) {
			result.Skipped = append(result.Skipped, action.Step.Name)
			current = action.Output
			continue
		}
		if err := runner.RunStep(action.Step, current, action.Output); err != nil {
			result.Err = fmt.Errorf("step %s failed: %w", action.Step.Name, err)
			return result
		}
		result.Ran = append(result.Ran, action.Step.Name)
		current = action.Output
	}
	return result
}

// ChainFromName extracts the accumulated suffix chain from a derivative
// filename stem, given its parsed entities. "sub-01_bold_3DMCTS_SCCTBL"
// yields "_3DMCTS_SCCTBL".
func ChainFromName(stem string, e bids.Entities) string {
	base := e.Name()
	if strings.HasPrefix(stem, base) {
		return stem[len(base):]
	}
	return ""
}

// LatestIntermediate scans the plan's workflow folder for the most
// advanced existing intermediate of the entity set. The returned chain
// is empty for the bare working copy; ok is false when nothing matches.
func LatestIntermediate(plan *Plan) (path, chain string, ok bool) {
	dir := filepath.Dir(plan.Start)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", false
	}

	base := plan.Entities.Name()
	best := -1
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		stem, _ := bids.SplitExtension(entry.Name())
		if stem != base && !strings.HasPrefix(stem, base+"_") {
			continue
		}
		c := ChainFromName(stem, plan.Entities)
		if n := strings.Count(c, "_"); n > best {
			best = n
			path = filepath.Join(dir, entry.Name())
			chain = c
		}
	}
	return path, chain, best >= 0
}

// outputUsable reports whether an existing step output can be reused.
// VMR outputs are opened to rule out truncated leftovers from an
// interrupted run.
func outputUsable(path string) bool {
	if !fileExists(path) {
		return false
	}
	if strings.EqualFold(filepath.Ext(path), ".vmr") {
		if _, err := bvio.ReadVMR(path); err != nil {
			return false
		}
	}
	return true
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
