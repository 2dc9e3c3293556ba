package runlog

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"
)

func TestGenerateRunID(t *testing.T) {
	uuidPattern := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

	seen := make(map[RunID]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateRunID()
		if err != nil {
			t.Fatalf("GenerateRunID returned error: %v", err)
		}
		if !uuidPattern.MatchString(string(id)) {
			t.Fatalf("run ID %q is not a UUID v4", id)
		}
		if seen[id] {
			t.Fatalf("duplicate run ID %q", id)
		}
		seen[id] = true
	}
}

func TestRunLifecycle(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.LogDirectory = dir

	w, err := StartRun(cfg, "1.0.0")
	if err != nil {
		t.Fatalf("StartRun returned error: %v", err)
	}

	if err := w.Convert("/raw/a.nii.gz", "/bv/a.vmr", StatusSuccess); err != nil {
		t.Fatal(err)
	}
	if err := w.Skip("/raw/a.json", ReasonUnknownExtension); err != nil {
		t.Fatal(err)
	}
	if err := w.PatternMismatch("/raw/junk.nii.gz", "missing sub- entity"); err != nil {
		t.Fatal(err)
	}
	if err := w.Error("/raw/b.nii.gz", "convert", errors.New("decode failed")); err != nil {
		t.Fatal(err)
	}

	summary := RunSummary{TotalFiles: 4, Converted: 1, Skipped: 1, Mismatched: 1, Errors: 1}
	if err := w.EndRun(RunStatusCompleted, summary); err != nil {
		t.Fatalf("EndRun returned error: %v", err)
	}

	reader := NewReader(dir)
	events, err := reader.Events(w.RunID())
	if err != nil {
		t.Fatalf("Events returned error: %v", err)
	}
	if len(events) != 6 {
		t.Fatalf("got %d events, want 6", len(events))
	}
	if events[0].EventType != EventRunStart {
		t.Errorf("first event = %s, want RUN_START", events[0].EventType)
	}
	if events[5].EventType != EventRunEnd {
		t.Errorf("last event = %s, want RUN_END", events[5].EventType)
	}
	if events[4].ErrorDetails == nil || events[4].ErrorDetails.Operation != "convert" {
		t.Errorf("error event missing details: %+v", events[4])
	}

	runs, err := reader.ListRuns()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	run := runs[0]
	if run.Status != RunStatusCompleted {
		t.Errorf("run status = %s, want COMPLETED", run.Status)
	}
	if run.Summary != summary {
		t.Errorf("run summary = %+v, want %+v", run.Summary, summary)
	}
	if run.EndTime == nil {
		t.Error("run has no end time")
	}
	if run.AppVersion != "1.0.0" {
		t.Errorf("app version = %q", run.AppVersion)
	}
}

func TestInterruptedRun(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.LogDirectory = dir

	w, err := StartRun(cfg, "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Convert("/raw/a.nii.gz", "/bv/a.vmr", StatusSuccess); err != nil {
		t.Fatal(err)
	}
	// No EndRun call: the process died mid-run.

	run, err := NewReader(dir).LatestRun()
	if err != nil {
		t.Fatal(err)
	}
	if run == nil {
		t.Fatal("LatestRun found nothing")
	}
	if run.Status != RunStatusInterrupted {
		t.Errorf("run status = %s, want INTERRUPTED", run.Status)
	}
	if run.Summary.Converted != 1 || run.Summary.TotalFiles != 1 {
		t.Errorf("reconstructed summary = %+v", run.Summary)
	}
}

func TestListRunsMissingDirectory(t *testing.T) {
	runs, err := NewReader(filepath.Join(t.TempDir(), "nope")).ListRuns()
	if err != nil {
		t.Fatalf("ListRuns returned error: %v", err)
	}
	if runs != nil {
		t.Errorf("got %d runs, want none", len(runs))
	}
}

func TestListRunsSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.LogDirectory = dir

	w, err := StartRun(cfg, "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if err := w.EndRun(RunStatusCompleted, RunSummary{}); err != nil {
		t.Fatal(err)
	}

	corrupt := filepath.Join(dir, "runlog-not-a-real-run.jsonl")
	if err := os.WriteFile(corrupt, []byte("{garbage\n"), 0644); err != nil {
		t.Fatal(err)
	}

	runs, err := NewReader(dir).ListRuns()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Errorf("got %d runs, want 1", len(runs))
	}
}

// writeRunFileAt creates a completed run file whose start time is the
// given moment.
func writeRunFileAt(t *testing.T, dir string, start time.Time) RunID {
	t.Helper()
	id, err := GenerateRunID()
	if err != nil {
		t.Fatal(err)
	}
	end := start.Add(time.Minute)
	content := `{"timestamp":"` + start.Format(time.RFC3339) + `","runId":"` + string(id) + `","eventType":"RUN_START","status":"SUCCESS","metadata":{"appVersion":"1.0.0"}}
{"timestamp":"` + end.Format(time.RFC3339) + `","runId":"` + string(id) + `","eventType":"RUN_END","status":"SUCCESS","metadata":{"status":"COMPLETED","totalFiles":"0"}}
`
	if err := os.WriteFile(filepath.Join(dir, runFilename(id)), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return id
}

func TestRetentionPrunesOldRuns(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UTC()

	oldRun := writeRunFileAt(t, dir, now.Add(-120*24*time.Hour))
	newRun := writeRunFileAt(t, dir, now.Add(-1*24*time.Hour))

	cfg := Config{LogDirectory: dir, RetentionDays: 90, MinRetentionDays: 7}
	result, err := NewRetentionManager(cfg).Prune()
	if err != nil {
		t.Fatalf("Prune returned error: %v", err)
	}
	if len(result.PrunedRuns) != 1 || result.PrunedRuns[0] != oldRun {
		t.Errorf("pruned runs = %v, want [%s]", result.PrunedRuns, oldRun)
	}
	if result.TotalBytesFreed == 0 {
		t.Error("no bytes reported freed")
	}
	if _, err := os.Stat(filepath.Join(dir, runFilename(newRun))); err != nil {
		t.Errorf("recent run was removed: %v", err)
	}
}

func TestRetentionMinimumAgeProtection(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UTC()

	// More runs than the limit, but all too young to prune.
	for i := 0; i < 3; i++ {
		writeRunFileAt(t, dir, now.Add(-time.Duration(i)*24*time.Hour))
	}

	cfg := Config{LogDirectory: dir, RetentionRuns: 1, MinRetentionDays: 7}
	result, err := NewRetentionManager(cfg).Prune()
	if err != nil {
		t.Fatal(err)
	}
	if len(result.PrunedRuns) != 0 {
		t.Errorf("pruned %d runs inside the minimum retention window", len(result.PrunedRuns))
	}
}

func TestRetentionRunCountLimit(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UTC()

	oldest := writeRunFileAt(t, dir, now.Add(-60*24*time.Hour))
	writeRunFileAt(t, dir, now.Add(-40*24*time.Hour))
	writeRunFileAt(t, dir, now.Add(-20*24*time.Hour))

	cfg := Config{LogDirectory: dir, RetentionRuns: 2, MinRetentionDays: 7}
	result, err := NewRetentionManager(cfg).Prune()
	if err != nil {
		t.Fatal(err)
	}
	if len(result.PrunedRuns) != 1 || result.PrunedRuns[0] != oldest {
		t.Errorf("pruned runs = %v, want oldest only", result.PrunedRuns)
	}
}

func TestRetentionUnlimited(t *testing.T) {
	dir := t.TempDir()
	writeRunFileAt(t, dir, time.Now().UTC().Add(-365*24*time.Hour))

	cfg := Config{LogDirectory: dir}
	toPrune, err := NewRetentionManager(cfg).CheckRetention()
	if err != nil {
		t.Fatal(err)
	}
	if toPrune != nil {
		t.Errorf("unlimited retention marked %d runs", len(toPrune))
	}
}
