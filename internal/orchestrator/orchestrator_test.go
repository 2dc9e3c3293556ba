package orchestrator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bidsbv/internal/bvio"
	"bidsbv/internal/config"
	"bidsbv/internal/mapper"
	"bidsbv/internal/output"
	"bidsbv/internal/runlog"
)

// makeDataset builds a dataset root with an events file (convertible
// without imaging fixtures) and one junk-named file.
func makeDataset(t *testing.T) *config.Configuration {
	t.Helper()
	root := t.TempDir()

	funcDir := filepath.Join(root, "rawdata", "sub-01", "ses-01", "func")
	if err := os.MkdirAll(funcDir, 0755); err != nil {
		t.Fatal(err)
	}
	events := []bvio.Event{
		{Onset: 0, Duration: 20, TrialType: "Rest"},
		{Onset: 20, Duration: 20, TrialType: "Faces"},
	}
	eventsPath := filepath.Join(funcDir, "sub-01_ses-01_task-loc_run-01_events.tsv")
	if err := bvio.WriteEvents(eventsPath, events); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(funcDir, "badly named.tsv"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Configuration{DatasetRoot: root}
	cfg.ApplyDefaults()
	cfg.Runlog.LogDirectory = filepath.Join(root, ".bidsbv", "runs")
	return cfg
}

func TestRunConvertsAndLogs(t *testing.T) {
	cfg := makeDataset(t)
	var errOut strings.Builder
	out := output.New(output.Config{ErrWriter: &errOut})

	summary, err := Run(cfg, Options{Out: out})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if summary.TotalFiles != 1 || summary.SuccessCount != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if len(summary.Mismatches) != 1 {
		t.Fatalf("got %d mismatches, want 1", len(summary.Mismatches))
	}
	if summary.HasErrors() == false {
		t.Error("HasErrors = false with a pattern mismatch present")
	}
	if !strings.Contains(errOut.String(), "pattern mismatch") {
		t.Errorf("stderr = %q", errOut.String())
	}

	// The destination landed in rawdata_bv.
	dst := summary.Results[0].DestinationPath
	if !strings.Contains(dst, filepath.Join("derivatives", "rawdata_bv")) || !strings.HasSuffix(dst, ".prt") {
		t.Errorf("destination = %q", dst)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Errorf("destination not written: %v", err)
	}

	// The run log recorded the conversion and the mismatch.
	runs, err := runlog.NewReader(cfg.Runlog.LogDirectory).ListRuns()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].RunID != summary.RunID {
		t.Errorf("run ID mismatch: %s vs %s", runs[0].RunID, summary.RunID)
	}
	if runs[0].Summary.Converted != 1 || runs[0].Summary.Mismatched != 1 {
		t.Errorf("logged summary = %+v", runs[0].Summary)
	}
	if runs[0].Status != runlog.RunStatusFailed {
		t.Errorf("run status = %s, want FAILED with a mismatch", runs[0].Status)
	}
}

func TestRunDryRun(t *testing.T) {
	cfg := makeDataset(t)

	summary, err := Run(cfg, Options{DryRun: true})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.TotalFiles != 1 || summary.SuccessCount != 0 {
		t.Errorf("summary = %+v", summary)
	}

	// Nothing written: no derivatives, no run log.
	if _, err := os.Stat(filepath.Join(cfg.DatasetRoot, "derivatives")); !os.IsNotExist(err) {
		t.Error("dry run created derivatives")
	}
	runs, err := runlog.NewReader(cfg.Runlog.LogDirectory).ListRuns()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Errorf("dry run wrote %d run logs", len(runs))
	}
}

func TestRunIdempotentRerun(t *testing.T) {
	cfg := makeDataset(t)

	first, err := Run(cfg, Options{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := Run(cfg, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if second.SuccessCount != first.SuccessCount {
		t.Errorf("rerun converted %d, first run %d", second.SuccessCount, first.SuccessCount)
	}
}

func TestRunFilter(t *testing.T) {
	cfg := makeDataset(t)

	summary, err := Run(cfg, Options{
		Filter: mapper.Filter{Subject: "99"},
		DryRun: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if summary.TotalFiles != 0 {
		t.Errorf("filter for absent subject matched %d files", summary.TotalFiles)
	}
}

func TestRunMissingRawdata(t *testing.T) {
	cfg := &config.Configuration{DatasetRoot: t.TempDir()}
	cfg.ApplyDefaults()

	if _, err := Run(cfg, Options{DryRun: true}); err == nil {
		t.Error("Run succeeded with no rawdata tree")
	}
}

func TestPrintSummary(t *testing.T) {
	s := &Summary{TotalFiles: 3, SuccessCount: 2, ErrorCount: 1, Skipped: 4}
	got := s.PrintSummary()
	if !strings.Contains(got, "2/3") || !strings.Contains(got, "1 errors") {
		t.Errorf("PrintSummary = %q", got)
	}
}
