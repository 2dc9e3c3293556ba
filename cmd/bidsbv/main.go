// Package main provides the CLI entry point for bidsbv.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"bidsbv/internal/bids"
	"bidsbv/internal/bvio"
	"bidsbv/internal/config"
	"bidsbv/internal/convert"
	"bidsbv/internal/design"
	"bidsbv/internal/dicomsort"
	"bidsbv/internal/discovery"
	"bidsbv/internal/layout"
	"bidsbv/internal/mapper"
	"bidsbv/internal/orchestrator"
	"bidsbv/internal/output"
	"bidsbv/internal/pipeline"
	"bidsbv/internal/runlog"
	"bidsbv/internal/watcher"
)

const usage = `Usage: bidsbv <command> [options]

Commands:
  convert   Convert rawdata files into the BrainVoyager derivatives tree
  map       Print the source/destination pairs without converting
  import    Tidy DICOM series under sourcedata (noise volumes to last5vols)
  events    Convert a stimulation protocol (.prt) to a BIDS events table
  sdm       Build a design matrix (.sdm) from a stimulation protocol
  plan      Show the preprocessing plan for the dataset
  preprocess  Run the preprocessing plan through an external step command
  watch     Watch rawdata and convert files as they arrive
  status    Show recent run results from the run log

Run 'bidsbv <command> -h' for command options.`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "convert":
		err = cmdConvert(os.Args[2:], false)
	case "map":
		err = cmdConvert(os.Args[2:], true)
	case "import":
		err = cmdImport(os.Args[2:])
	case "events":
		err = cmdEvents(os.Args[2:])
	case "sdm":
		err = cmdSDM(os.Args[2:])
	case "plan":
		err = cmdPlan(os.Args[2:])
	case "preprocess":
		err = cmdPreprocess(os.Args[2:])
	case "watch":
		err = cmdWatch(os.Args[2:])
	case "status":
		err = cmdStatus(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n%s\n", os.Args[1], usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// commonFlags registers the flags shared by dataset-level commands.
type commonFlags struct {
	root       string
	configPath string
	subject    string
	session    string
	task       string
	run        int
	verbose    bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.root, "root", ".", "dataset root directory")
	fs.StringVar(&c.configPath, "config", "", "project configuration file (JSON)")
	fs.StringVar(&c.subject, "sub", "", "restrict to one subject label")
	fs.StringVar(&c.session, "ses", "", "restrict to one session label")
	fs.StringVar(&c.task, "task", "", "restrict to one task name")
	fs.IntVar(&c.run, "run", 0, "restrict to one run index")
	fs.BoolVar(&c.verbose, "v", false, "verbose output")
}

func (c *commonFlags) load() (*config.Configuration, error) {
	if c.configPath != "" {
		cfg, err := config.Load(c.configPath)
		if err != nil {
			return nil, err
		}
		return cfg, nil
	}
	cfg, err := config.LoadOrCreate(filepath.Join(c.root, "bidsbv.json"), c.root)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// anchorRunlog resolves a relative run-log directory against the
// dataset root so every command reads and writes the same logs.
func anchorRunlog(cfg *config.Configuration) {
	if !filepath.IsAbs(cfg.Runlog.LogDirectory) {
		cfg.Runlog.LogDirectory = filepath.Join(cfg.DatasetRoot, cfg.Runlog.LogDirectory)
	}
}

func (c *commonFlags) filter(cfg *config.Configuration) mapper.Filter {
	f := mapper.Filter{
		Subject: cfg.Filters.Subject,
		Session: cfg.Filters.Session,
		Task:    cfg.Filters.Task,
		Run:     cfg.Filters.Run,
	}
	if c.subject != "" {
		f.Subject = c.subject
	}
	if c.session != "" {
		f.Session = c.session
	}
	if c.task != "" {
		f.Task = c.task
	}
	if c.run != 0 {
		f.Run = c.run
	}
	return f
}

func (c *commonFlags) output() *output.Output {
	cfg := output.DefaultConfig()
	cfg.Verbose = c.verbose
	return output.New(cfg)
}

// resolveAcquisition fills in missing TR and volume-count values, in
// order: explicit flags, the FMR header of the matching converted
// functional run, the project configuration, and finally the
// interactive prompt. The protocol's entity set comes from the source
// file name; non-entity names skip the reference lookup.
func resolveAcquisition(cfg *config.Configuration, src string, tr, vols int, needVols bool, out *output.Output) (int, int, error) {
	if tr > 0 && (vols > 0 || !needVols) {
		return tr, vols, nil
	}

	if e, _, err := bids.ParseFilename(filepath.Base(src)); err == nil {
		refTR, refVols, err := discovery.AcquisitionFromReference(cfg.DatasetRoot, e)
		if err == nil {
			out.Verbose("acquisition from functional reference: TR %dms, %d volumes", refTR, refVols)
			if tr == 0 {
				tr = refTR
			}
			if vols == 0 {
				vols = refVols
			}
		} else {
			out.Verbose("no functional reference for %s: %v", e.Name(), err)
		}
	}

	if tr == 0 {
		tr = cfg.Acquisition.TRMillis
	}
	if vols == 0 {
		vols = cfg.Acquisition.NrVolumes
	}
	if tr > 0 && (vols > 0 || !needVols) {
		return tr, vols, nil
	}

	if !discovery.IsInteractive() {
		return 0, 0, fmt.Errorf("acquisition timing unknown; pass -tr and -vols or configure it")
	}
	prompter := discovery.NewAcquisitionPrompter(os.Stdin, os.Stdout)
	if !needVols {
		vols = 1
	}
	return prompter.PromptAcquisition(tr, vols)
}

func cmdConvert(args []string, dryRun bool) error {
	name := "convert"
	if dryRun {
		name = "map"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	fs.Parse(args)

	cfg, err := common.load()
	if err != nil {
		return err
	}
	anchorRunlog(cfg)
	out := common.output()

	summary, err := orchestrator.Run(cfg, orchestrator.Options{
		Filter: common.filter(cfg),
		DryRun: dryRun,
		Out:    out,
	})
	if err != nil {
		return err
	}

	if dryRun {
		for _, r := range summary.Results {
			out.Info("%s -> %s", r.SourcePath, r.DestinationPath)
		}
		for _, mm := range summary.Mismatches {
			out.Error("pattern mismatch: %s: %v", mm.Path, mm.Err)
		}
	}
	out.Info("%s", summary.PrintSummary())

	if summary.HasErrors() {
		os.Exit(1)
	}
	return nil
}

func cmdImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	threshold := fs.Int("threshold", 10, "minimum series length before trailing volumes move")
	trail := fs.Int("trail", 5, "number of trailing noise volumes to relocate")
	fs.Parse(args)

	cfg, err := common.load()
	if err != nil {
		return err
	}
	out := common.output()

	sourceDir := layout.New(cfg.DatasetRoot).SourceDir()
	result, err := dicomsort.MoveNoiseVolumes(sourceDir, dicomsort.Options{
		Threshold:  *threshold,
		TrailCount: *trail,
	})
	if err != nil {
		return err
	}

	for dir, files := range result.Directories {
		out.Verbose("%s: moved %d files to %s", dir, len(files), dicomsort.NoiseSubdir)
		hints, herr := dicomsort.ReadEntityHints(filepath.Join(dir, dicomsort.NoiseSubdir, files[0]))
		if herr != nil {
			continue
		}
		out.Verbose("%s: patient %s, series %q", dir, hints.PatientID, hints.SeriesDescription)
	}
	out.Info("Relocated %d noise volumes in %d directories",
		result.TotalMoved, len(result.Directories))
	return nil
}

func cmdEvents(args []string) error {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	trMillis := fs.Int("tr", 0, "repetition time in ms (required for volume-resolution protocols)")
	outPath := fs.String("o", "", "output events.tsv path (default: alongside input)")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("events expects exactly one .prt input")
	}
	src := fs.Arg(0)

	cfg, err := common.load()
	if err != nil {
		return err
	}
	out := common.output()

	p, err := bvio.ReadPRT(src)
	if err != nil {
		return err
	}

	tr := *trMillis
	if !p.IsMillisec() && tr == 0 {
		tr, _, err = resolveAcquisition(cfg, src, 0, 0, false, out)
		if err != nil {
			return fmt.Errorf("protocol uses volume resolution: %w", err)
		}
	}

	events, err := design.EventsFromProtocol(p, tr)
	if err != nil {
		return err
	}

	dst := *outPath
	if dst == "" {
		dst = strings.TrimSuffix(src, filepath.Ext(src)) + ".tsv"
	}
	if err := bvio.WriteEvents(dst, events); err != nil {
		return err
	}
	fmt.Printf("Wrote %d events to %s\n", len(events), dst)
	return nil
}

func cmdSDM(args []string) error {
	fs := flag.NewFlagSet("sdm", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	trMillis := fs.Int("tr", 0, "repetition time in ms")
	nrVolumes := fs.Int("vols", 0, "number of functional volumes")
	confounds := fs.String("confounds", "", "nuisance .sdm (such as motion parameters) to append as confounds")
	parametric := fs.Bool("parametric", false, "add parametric predictors for varying weights")
	standardize := fs.String("standardize", "none", "parametric weight standardization: none, demean, zscore")
	removeRest := fs.Bool("remove-rest", false, "drop the rest condition before modeling")
	restIndex := fs.Int("rest-index", 0, "rest condition index (0 = first, -1 = last)")
	scale := fs.Bool("scale", false, "scale predictors to unit amplitude")
	outPath := fs.String("o", "", "output .sdm path (default: alongside input)")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("sdm expects exactly one .prt input")
	}
	src := fs.Arg(0)

	cfg, err := common.load()
	if err != nil {
		return err
	}
	out := common.output()

	p, err := bvio.ReadPRT(src)
	if err != nil {
		return err
	}

	tr, vols, err := resolveAcquisition(cfg, src, *trMillis, *nrVolumes, true, out)
	if err != nil {
		return err
	}

	opts := design.DefaultOptions()
	opts.TRMillis = tr
	opts.NrVolumes = vols
	opts.Parametric = *parametric
	opts.RemoveRestCondition = *removeRest
	opts.RestConditionIndex = *restIndex
	opts.ScalePredictors = *scale
	switch *standardize {
	case "none":
		opts.Standardize = design.WeightsRaw
	case "demean":
		opts.Standardize = design.WeightsDemeaned
	case "zscore":
		opts.Standardize = design.WeightsZScored
	default:
		return fmt.Errorf("unknown standardization %q", *standardize)
	}

	dm, err := design.BuildSDM(p, opts)
	if err != nil {
		return err
	}

	if *confounds != "" {
		motion, err := bvio.ReadSDM(*confounds)
		if err != nil {
			return err
		}
		if err := design.AppendConfounds(dm, motion); err != nil {
			return err
		}
	}

	dst := *outPath
	if dst == "" {
		dst = strings.TrimSuffix(src, filepath.Ext(src)) + ".sdm"
	}
	if err := bvio.WriteSDM(dst, dm); err != nil {
		return err
	}
	fmt.Printf("Wrote %d predictors x %d data points to %s\n",
		dm.NrOfPredictors(), dm.NrOfDataPoints, dst)
	return nil
}

func cmdPlan(args []string) error {
	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	pipelinePath := fs.String("pipeline", "", "pipeline definition file (YAML)")
	fs.Parse(args)

	cfg, err := common.load()
	if err != nil {
		return err
	}
	out := common.output()

	def := pipeline.DefaultDefinition()
	defPath := *pipelinePath
	if defPath == "" {
		defPath = cfg.PipelineFile
	}
	if defPath != "" {
		def, err = pipeline.LoadDefinition(defPath)
		if err != nil {
			return err
		}
	}

	ix, err := discovery.BuildIndex(cfg.DatasetRoot)
	if err != nil {
		return err
	}

	if flows, err := discovery.Workflows(cfg.DatasetRoot); err == nil {
		for _, w := range flows {
			out.Verbose("derivatives workflow: %s", w.Folder())
		}
	}

	planner := pipeline.NewPlanner(cfg.DatasetRoot, def)
	filter := common.filter(cfg)
	planned, failed := 0, 0
	for _, e := range ix.Sets {
		if e.Suffix == "events" || !filter.Matches(e) {
			continue
		}
		plan, err := planner.PlanFor(e)
		if err != nil {
			out.Error("%s: %v", e.Name(), err)
			failed++
			continue
		}
		planned++
		out.Info("%s (%s input)", e.Name(), plan.InputKind)
		if _, chain, ok := pipeline.LatestIntermediate(plan); ok && chain != "" {
			out.Info("  resume from existing intermediate %s%s", e.Name(), chain)
		}
		for _, action := range plan.Actions {
			out.Info("  %-34s -> %s", action.Step.Name, filepath.Base(action.Output))
		}
	}
	out.Info("Planned %d entity sets, %d without input", planned, failed)

	if failed > 0 {
		os.Exit(1)
	}
	return nil
}

func cmdPreprocess(args []string) error {
	fs := flag.NewFlagSet("preprocess", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	pipelinePath := fs.String("pipeline", "", "pipeline definition file (YAML)")
	execTemplate := fs.String("exec", "", "step command template with {step}, {input} and {output} placeholders")
	fs.Parse(args)

	if *execTemplate == "" {
		return fmt.Errorf("preprocess requires -exec with a step command template")
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}
	out := common.output()

	def := pipeline.DefaultDefinition()
	defPath := *pipelinePath
	if defPath == "" {
		defPath = cfg.PipelineFile
	}
	if defPath != "" {
		def, err = pipeline.LoadDefinition(defPath)
		if err != nil {
			return err
		}
	}

	ix, err := discovery.BuildIndex(cfg.DatasetRoot)
	if err != nil {
		return err
	}

	runner := pipeline.CommandRunner{Template: *execTemplate}
	planner := pipeline.NewPlanner(cfg.DatasetRoot, def)
	filter := common.filter(cfg)
	ran, skipped, failed := 0, 0, 0
	for _, e := range ix.Sets {
		if e.Suffix == "events" || !filter.Matches(e) {
			continue
		}
		plan, err := planner.PlanFor(e)
		if err != nil {
			out.Error("%s: %v", e.Name(), err)
			failed++
			continue
		}
		result := pipeline.Execute(plan, runner)
		ran += len(result.Ran)
		skipped += len(result.Skipped)
		for _, name := range result.Ran {
			out.Verbose("%s: ran %s", e.Name(), name)
		}
		for _, name := range result.Skipped {
			out.Verbose("%s: kept existing output of %s", e.Name(), name)
		}
		if result.Err != nil {
			out.Error("%s: %v", e.Name(), result.Err)
			failed++
		}
	}
	out.Info("Ran %d steps, skipped %d, %d entity sets failed", ran, skipped, failed)

	if failed > 0 {
		os.Exit(1)
	}
	return nil
}

func cmdWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	fs.Parse(args)

	cfg, err := common.load()
	if err != nil {
		return err
	}
	out := common.output()

	anchorRunlog(cfg)
	l := layout.New(cfg.DatasetRoot)
	m := mapper.New(cfg.DatasetRoot)
	filter := common.filter(cfg)
	registry := convert.NewRegistry()
	log, err := runlog.StartRun(*cfg.Runlog, orchestrator.AppVersion)
	if err != nil {
		return err
	}

	var converted, mismatched, errors int
	handler := func(path string) (bool, bool, error) {
		if !mapper.IsRawSource(filepath.Base(path)) {
			log.Skip(path, runlog.ReasonUnknownExtension)
			return false, false, nil
		}
		e, _, perr := bids.ParseFilename(filepath.Base(path))
		if perr != nil {
			out.Error("pattern mismatch: %s: %v", path, perr)
			log.PatternMismatch(path, perr.Error())
			mismatched++
			return false, true, nil
		}
		if !filter.Matches(e) {
			log.Skip(path, runlog.ReasonFilteredOut)
			return false, false, nil
		}
		pair, merr := m.MapEntity(e)
		if merr != nil {
			out.Error("%s: %v", path, merr)
			log.Error(path, "map", merr)
			errors++
			return false, false, merr
		}
		// Map from the actual arrival path, not the canonical raw path.
		pair.Source = path
		if cerr := registry.Invoke(pair); cerr != nil {
			out.Error("%s: %v", path, cerr)
			log.Error(path, "convert", cerr)
			errors++
			return false, false, cerr
		}
		out.Info("converted %s -> %s", path, pair.Destination)
		log.Convert(path, pair.Destination, runlog.StatusSuccess)
		converted++
		return true, false, nil
	}

	wcfg := watcher.DefaultWatchConfig()
	if cfg.Watch != nil {
		wcfg.DebounceMillis = cfg.Watch.DebounceMillis
		wcfg.StabilityMillis = cfg.Watch.StabilityMillis
		if len(cfg.Watch.IgnorePatterns) > 0 {
			wcfg.IgnorePatterns = cfg.Watch.IgnorePatterns
		}
	}

	w := watcher.New(wcfg, handler)
	if err := w.Start([]string{l.RawDir()}); err != nil {
		log.EndRun(runlog.RunStatusFailed, runlog.RunSummary{})
		return err
	}
	out.Info("Watching %s (Ctrl-C to stop)", l.RawDir())

	waitForInterrupt()

	summary := w.Stop()
	status := runlog.RunStatusCompleted
	if errors > 0 {
		status = runlog.RunStatusFailed
	}
	log.EndRun(status, runlog.RunSummary{
		TotalFiles: converted + mismatched + errors + summary.FilesSkipped,
		Converted:  converted,
		Skipped:    summary.FilesSkipped,
		Mismatched: mismatched,
		Errors:     errors,
	})
	out.Info("Watched for %s: %d converted, %d mismatched, %d skipped, %d errors",
		summary.Duration.Round(time.Second), summary.FilesConverted, summary.Mismatches,
		summary.FilesSkipped, summary.Errors)

	if errors > 0 || mismatched > 0 {
		os.Exit(1)
	}
	return nil
}

func waitForInterrupt() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	signal.Stop(sig)
}

func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	limit := fs.Int("n", 5, "number of recent runs to show")
	prune := fs.Bool("prune", false, "prune run logs past the retention limits")
	fs.Parse(args)

	cfg, err := common.load()
	if err != nil {
		return err
	}
	anchorRunlog(cfg)
	out := common.output()

	reader := runlog.NewReader(cfg.Runlog.LogDirectory)
	runs, err := reader.ListRuns()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		out.Info("No runs recorded in %s", cfg.Runlog.LogDirectory)
		return nil
	}

	start := len(runs) - *limit
	if start < 0 {
		start = 0
	}
	for _, run := range runs[start:] {
		out.Info("%s  %s  %-11s  %d converted, %d skipped, %d mismatched, %d errors",
			run.StartTime.Format("2006-01-02 15:04:05"), run.RunID, run.Status,
			run.Summary.Converted, run.Summary.Skipped,
			run.Summary.Mismatched, run.Summary.Errors)
	}

	if *prune {
		result, err := runlog.NewRetentionManager(*cfg.Runlog).Prune()
		if err != nil {
			return err
		}
		out.Info("Pruned %d runs (%d bytes)", len(result.PrunedRuns), result.TotalBytesFreed)
	}
	return nil
}
