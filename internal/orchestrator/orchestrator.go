// Package orchestrator coordinates the raw-to-BrainVoyager conversion
// workflow: map the rawdata tree, invoke the converter per pair, and
// record everything in the run log.
package orchestrator

import (
	"fmt"

	"bidsbv/internal/config"
	"bidsbv/internal/convert"
	"bidsbv/internal/layout"
	"bidsbv/internal/mapper"
	"bidsbv/internal/output"
	"bidsbv/internal/runlog"
)

// Result represents the outcome of converting a single file.
type Result struct {
	SourcePath      string
	DestinationPath string
	Success         bool
	Error           error
}

// Summary represents the overall results of a conversion run.
type Summary struct {
	RunID        runlog.RunID
	TotalFiles   int
	SuccessCount int
	ErrorCount   int
	Mismatches   []mapper.Mismatch
	Skipped      int
	Results      []Result
}

// AppVersion is stamped into the run log; the main package overrides it
// at build time.
var AppVersion = "dev"

// Options configures a conversion run.
type Options struct {
	Filter   mapper.Filter
	Workflow layout.Workflow
	// DryRun maps without invoking the converter or writing a run log.
	DryRun bool
	Out    *output.Output
}

// Run executes the conversion workflow for the configured dataset.
func Run(cfg *config.Configuration, opts Options) (*Summary, error) {
	if opts.Out == nil {
		opts.Out = output.New(output.Config{})
	}
	if opts.Workflow == (layout.Workflow{}) {
		opts.Workflow = layout.RawConversion
	}

	m := mapper.New(cfg.DatasetRoot).
		WithWorkflow(opts.Workflow).
		WithFilter(opts.Filter)
	mapped, err := m.Map()
	if err != nil {
		return nil, fmt.Errorf("failed to map rawdata: %w", err)
	}

	summary := &Summary{
		TotalFiles: len(mapped.Pairs),
		Mismatches: mapped.Mismatches,
		Skipped:    mapped.Skipped,
	}

	if opts.DryRun {
		for _, pair := range mapped.Pairs {
			summary.Results = append(summary.Results, Result{
				SourcePath:      pair.Source,
				DestinationPath: pair.Destination,
			})
		}
		return summary, nil
	}

	log, err := runlog.StartRun(*cfg.Runlog, AppVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to start run log: %w", err)
	}
	summary.RunID = log.RunID()

	for _, mm := range mapped.Mismatches {
		opts.Out.Error("pattern mismatch: %s: %v", mm.Path, mm.Err)
		log.PatternMismatch(mm.Path, mm.Err.Error())
	}

	registry := convert.NewRegistry()
	opts.Out.StartProgress(len(mapped.Pairs))
	for i, pair := range mapped.Pairs {
		opts.Out.UpdateProgress(i+1, "")
		result := processPair(registry, pair, log, opts.Out)
		summary.Results = append(summary.Results, result)
		if result.Success {
			summary.SuccessCount++
		} else {
			summary.ErrorCount++
		}
	}
	opts.Out.EndProgress()

	status := runlog.RunStatusCompleted
	if summary.HasErrors() {
		status = runlog.RunStatusFailed
	}
	endErr := log.EndRun(status, runlog.RunSummary{
		TotalFiles: summary.TotalFiles + len(summary.Mismatches) + summary.Skipped,
		Converted:  summary.SuccessCount,
		Skipped:    summary.Skipped,
		Mismatched: len(summary.Mismatches),
		Errors:     summary.ErrorCount,
	})
	if endErr != nil {
		opts.Out.Error("failed to close run log: %v", endErr)
	}

	return summary, nil
}

// processPair converts one pair and records the outcome.
func processPair(registry *convert.Registry, pair layout.PathPair, log *runlog.Writer, out *output.Output) Result {
	if err := registry.Invoke(pair); err != nil {
		out.Error("%s: %v", pair.Source, err)
		log.Error(pair.Source, "convert", err)
		return Result{
			SourcePath:      pair.Source,
			DestinationPath: pair.Destination,
			Error:           err,
		}
	}

	out.Verbose("converted %s -> %s", pair.Source, pair.Destination)
	log.Convert(pair.Source, pair.Destination, runlog.StatusSuccess)
	return Result{
		SourcePath:      pair.Source,
		DestinationPath: pair.Destination,
		Success:         true,
	}
}

// HasErrors returns true if there were any errors during the run.
func (s *Summary) HasErrors() bool {
	return s.ErrorCount > 0 || len(s.Mismatches) > 0
}

// PrintSummary returns a formatted summary string.
func (s *Summary) PrintSummary() string {
	return fmt.Sprintf("Converted %d/%d files: %d errors, %d pattern mismatches, %d skipped",
		s.SuccessCount, s.TotalFiles, s.ErrorCount, len(s.Mismatches), s.Skipped)
}
