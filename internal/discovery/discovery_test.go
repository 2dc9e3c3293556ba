package discovery

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"bidsbv/internal/bids"
	"bidsbv/internal/bvio"
	"bidsbv/internal/layout"
)

func makeRawTree(t *testing.T, files ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, rel := range files {
		full := filepath.Join(root, "rawdata", filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestBuildIndex(t *testing.T) {
	root := makeRawTree(t,
		"sub-01/ses-01/anat/sub-01_ses-01_T1w.nii.gz",
		"sub-01/ses-01/func/sub-01_ses-01_task-faces_run-01_bold.nii.gz",
		"sub-01/ses-01/func/sub-01_ses-01_task-faces_run-01_events.tsv",
		"sub-01/ses-02/func/sub-01_ses-02_task-rest_run-01_bold.nii.gz",
		"sub-02/ses-01/anat/sub-02_ses-01_T1w.nii.gz",
		"sub-02/ses-01/anat/notes.txt",
	)

	ix, err := BuildIndex(root)
	if err != nil {
		t.Fatalf("BuildIndex returned error: %v", err)
	}

	if !reflect.DeepEqual(ix.Subjects, []string{"01", "02"}) {
		t.Errorf("subjects = %v", ix.Subjects)
	}
	if !reflect.DeepEqual(ix.Sessions["01"], []string{"01", "02"}) {
		t.Errorf("sessions for 01 = %v", ix.Sessions["01"])
	}
	if len(ix.Sets) != 5 {
		t.Errorf("got %d entity sets, want 5 (notes.txt ignored)", len(ix.Sets))
	}
	if !reflect.DeepEqual(ix.Tasks(), []string{"faces", "rest"}) {
		t.Errorf("tasks = %v", ix.Tasks())
	}
}

func TestFuncReference(t *testing.T) {
	root := makeRawTree(t,
		"sub-01/ses-01/func/sub-01_ses-01_task-faces_run-01_bold.nii.gz",
		"sub-01/ses-01/func/sub-01_ses-01_task-faces_run-01_events.tsv",
		"sub-01/ses-01/func/sub-01_ses-01_task-faces_run-02_events.tsv",
	)

	ix, err := BuildIndex(root)
	if err != nil {
		t.Fatal(err)
	}

	events := bids.Entities{Subject: "01", Session: "01", Task: "faces", Run: 1, Suffix: "events"}
	ref, ok := ix.FuncReference(events)
	if !ok {
		t.Fatal("no functional reference found for run-01 events")
	}
	if ref.Suffix != "bold" || ref.Run != 1 {
		t.Errorf("reference = %+v", ref)
	}

	// run-02 has no matching bold file.
	events.Run = 2
	if _, ok := ix.FuncReference(events); ok {
		t.Error("found a reference for run-02, want none")
	}
}

func TestFilterSets(t *testing.T) {
	root := makeRawTree(t,
		"sub-01/ses-01/anat/sub-01_ses-01_T1w.nii.gz",
		"sub-01/ses-01/func/sub-01_ses-01_task-faces_run-01_events.tsv",
	)
	ix, err := BuildIndex(root)
	if err != nil {
		t.Fatal(err)
	}
	events := ix.FilterSets("events")
	if len(events) != 1 || events[0].Suffix != "events" {
		t.Errorf("FilterSets(events) = %v", events)
	}
}

func TestPromptAcquisition(t *testing.T) {
	var out strings.Builder
	p := NewAcquisitionPrompter(strings.NewReader("2000\n200\n"), &out)

	tr, vols, err := p.PromptAcquisition(0, 0)
	if err != nil {
		t.Fatalf("PromptAcquisition returned error: %v", err)
	}
	if tr != 2000 || vols != 200 {
		t.Errorf("got TR=%d vols=%d", tr, vols)
	}
	if !strings.Contains(out.String(), "TR in ms") {
		t.Errorf("prompt output = %q", out.String())
	}
}

func TestPromptAcquisitionDefaults(t *testing.T) {
	p := NewAcquisitionPrompter(strings.NewReader("\n\n"), &strings.Builder{})
	tr, vols, err := p.PromptAcquisition(1500, 300)
	if err != nil {
		t.Fatal(err)
	}
	if tr != 1500 || vols != 300 {
		t.Errorf("defaults not kept: TR=%d vols=%d", tr, vols)
	}
}

func TestPromptAcquisitionReprompts(t *testing.T) {
	var out strings.Builder
	p := NewAcquisitionPrompter(strings.NewReader("abc\n2000\n200\n"), &out)
	tr, _, err := p.PromptAcquisition(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if tr != 2000 {
		t.Errorf("TR = %d after reprompt", tr)
	}
	if !strings.Contains(out.String(), "Invalid value") {
		t.Error("no reprompt message printed")
	}
}

func TestPromptAcquisitionGivesUp(t *testing.T) {
	p := NewAcquisitionPrompter(strings.NewReader("abc\n-3\n"), &strings.Builder{})
	if _, _, err := p.PromptAcquisition(0, 0); err == nil {
		t.Error("expected error after two invalid inputs")
	}
}

func TestAcquisitionFromReference(t *testing.T) {
	root := makeRawTree(t,
		"sub-01/ses-01/func/sub-01_ses-01_task-faces_run-01_bold.nii.gz",
		"sub-01/ses-01/func/sub-01_ses-01_task-faces_run-01_events.tsv",
	)

	fmrPath := filepath.Join(root, "derivatives", "rawdata_bv",
		"sub-01", "ses-01", "func", "sub-01_ses-01_task-faces_run-01_bold.fmr")
	if err := os.MkdirAll(filepath.Dir(fmrPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := bvio.WriteFMR(fmrPath, &bvio.FMR{
		NrOfVolumes: 240,
		NrOfSlices:  32,
		TR:          2000,
		ResolutionX: 64,
		ResolutionY: 64,
	}); err != nil {
		t.Fatal(err)
	}

	events := bids.Entities{Subject: "01", Session: "01", Task: "faces", Run: 1, Suffix: "events"}
	tr, vols, err := AcquisitionFromReference(root, events)
	if err != nil {
		t.Fatalf("AcquisitionFromReference returned error: %v", err)
	}
	if tr != 2000 || vols != 240 {
		t.Errorf("got TR=%d vols=%d, want 2000/240", tr, vols)
	}
}

func TestAcquisitionFromReferenceMissingRun(t *testing.T) {
	root := makeRawTree(t,
		"sub-01/ses-01/func/sub-01_ses-01_task-faces_run-01_events.tsv",
	)
	events := bids.Entities{Subject: "01", Session: "01", Task: "faces", Run: 1, Suffix: "events"}
	if _, _, err := AcquisitionFromReference(root, events); err == nil {
		t.Error("expected an error without a matching bold run")
	}
}

func TestAcquisitionFromReferenceUnconverted(t *testing.T) {
	// The bold run exists in rawdata but was never converted, so there
	// is no FMR header to read.
	root := makeRawTree(t,
		"sub-01/ses-01/func/sub-01_ses-01_task-faces_run-01_bold.nii.gz",
		"sub-01/ses-01/func/sub-01_ses-01_task-faces_run-01_events.tsv",
	)
	events := bids.Entities{Subject: "01", Session: "01", Task: "faces", Run: 1, Suffix: "events"}
	if _, _, err := AcquisitionFromReference(root, events); err == nil {
		t.Error("expected an error for an unconverted bold run")
	}
}

func TestWorkflows(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{
		"rawdata_bv",
		"workflow_id-3_type-1_name-func-preprocessing",
		"sourcedata-leftovers",
	} {
		if err := os.MkdirAll(filepath.Join(root, "derivatives", dir), 0755); err != nil {
			t.Fatal(err)
		}
	}

	flows, err := Workflows(root)
	if err != nil {
		t.Fatalf("Workflows returned error: %v", err)
	}
	if len(flows) != 2 {
		t.Fatalf("got %d workflows, want 2: %v", len(flows), flows)
	}
	if flows[0] != layout.RawConversion {
		t.Errorf("flows[0] = %+v", flows[0])
	}
	if flows[1] != layout.FuncPreprocessing {
		t.Errorf("flows[1] = %+v", flows[1])
	}
}

func TestWorkflowsMissingDerivatives(t *testing.T) {
	flows, err := Workflows(t.TempDir())
	if err != nil {
		t.Fatalf("Workflows returned error: %v", err)
	}
	if flows != nil {
		t.Errorf("flows = %v, want nil", flows)
	}
}
