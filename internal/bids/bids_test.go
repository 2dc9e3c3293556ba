package bids

import (
	"errors"
	"testing"
)

func TestParseAnatomical(t *testing.T) {
	e, err := Parse("sub-01_ses-01_T1w")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if e.Subject != "01" || e.Session != "01" || e.Suffix != "T1w" {
		t.Errorf("unexpected entities: %+v", e)
	}
	if e.Task != "" || e.Run != 0 {
		t.Errorf("expected no task/run, got %+v", e)
	}
}

func TestParseFunctional(t *testing.T) {
	e, err := Parse("sub-03_ses-02_task-Localizer_run-01_bold")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if e.Subject != "03" {
		t.Errorf("Subject = %q, want %q", e.Subject, "03")
	}
	if e.Session != "02" {
		t.Errorf("Session = %q, want %q", e.Session, "02")
	}
	if e.Task != "Localizer" {
		t.Errorf("Task = %q, want %q", e.Task, "Localizer")
	}
	if e.Run != 1 {
		t.Errorf("Run = %d, want 1", e.Run)
	}
	if e.Suffix != "bold" {
		t.Errorf("Suffix = %q, want %q", e.Suffix, "bold")
	}
}

func TestParseTaskWithoutRun(t *testing.T) {
	e, err := Parse("sub-01_ses-04_task-blocked_events")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if e.Task != "blocked" || e.Run != 0 || e.Suffix != "events" {
		t.Errorf("unexpected entities: %+v", e)
	}
}

func TestParseRejectsInvalidNames(t *testing.T) {
	tests := []struct {
		name string
		stem string
	}{
		{"empty", ""},
		{"missing subject", "ses-01_task-x_run-01_bold"},
		{"missing session", "sub-01_task-x_run-01_bold"},
		{"missing suffix", "sub-01_ses-01_run-02"},
		{"out of order", "sub-01_task-x_ses-01_bold"},
		{"unknown key", "sub-01_ses-01_acq-highres_T1w"},
		{"empty value", "sub-_ses-01_T1w"},
		{"run not a number", "sub-01_ses-01_task-x_run-one_bold"},
		{"run zero", "sub-01_ses-01_task-x_run-00_bold"},
		{"duplicate entity", "sub-01_sub-02_ses-01_T1w"},
		{"too few tokens", "sub-01_T1w"},
		{"non-alphanumeric label", "sub-0.1_ses-01_T1w"},
		{"hyphenated task label", "sub-01_ses-01_task-Go-NoGo_run-01_bold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.stem)
			if err == nil {
				t.Fatalf("Parse(%q) succeeded, want PatternMismatch", tt.stem)
			}
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("Parse(%q) error is %T, want *ParseError", tt.stem, err)
			}
			if perr.Type != PatternMismatch {
				t.Errorf("error type = %s, want %s", perr.Type, PatternMismatch)
			}
		})
	}
}

func TestParseErrorSurfacesOffendingName(t *testing.T) {
	_, err := Parse("sub-01_ses-01_run-02")
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if perr.Name != "sub-01_ses-01_run-02" {
		t.Errorf("ParseError.Name = %q, want offending stem", perr.Name)
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		entities Entities
		want     string
	}{
		{Entities{Subject: "01", Session: "01", Suffix: "T1w"}, "sub-01_ses-01_T1w"},
		{Entities{Subject: "12", Session: "02", Task: "Localizer", Run: 2, Suffix: "bold"},
			"sub-12_ses-02_task-Localizer_run-02_bold"},
		{Entities{Subject: "01", Session: "04", Task: "blocked", Run: 10, Suffix: "events"},
			"sub-01_ses-04_task-blocked_run-10_events"},
	}

	for _, tt := range tests {
		if got := tt.entities.Name(); got != tt.want {
			t.Errorf("Name() = %q, want %q", got, tt.want)
		}
	}
}

func TestParseFilename(t *testing.T) {
	e, ext, err := ParseFilename("sub-01_ses-01_task-rest_run-01_bold.nii.gz")
	if err != nil {
		t.Fatalf("ParseFilename returned error: %v", err)
	}
	if ext != ".nii.gz" {
		t.Errorf("ext = %q, want %q", ext, ".nii.gz")
	}
	if e.Task != "rest" || e.Run != 1 {
		t.Errorf("unexpected entities: %+v", e)
	}
}

func TestSplitExtension(t *testing.T) {
	tests := []struct {
		filename string
		stem     string
		ext      string
	}{
		{"sub-01_ses-01_T1w.nii.gz", "sub-01_ses-01_T1w", ".nii.gz"},
		{"sub-01_ses-01_T1w.nii", "sub-01_ses-01_T1w", ".nii"},
		{"sub-01_ses-01_T1w.vmr", "sub-01_ses-01_T1w", ".vmr"},
		{"sub-01_ses-01_task-x_events.tsv", "sub-01_ses-01_task-x_events", ".tsv"},
		{"noextension", "noextension", ""},
		{".hidden", ".hidden", ""},
	}

	for _, tt := range tests {
		stem, ext := SplitExtension(tt.filename)
		if stem != tt.stem || ext != tt.ext {
			t.Errorf("SplitExtension(%q) = (%q, %q), want (%q, %q)",
				tt.filename, stem, ext, tt.stem, tt.ext)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := Entities{Subject: "01", Session: "01", Suffix: "T1w"}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}

	invalid := Entities{Session: "01", Suffix: "T1w"}
	if err := invalid.Validate(); err == nil {
		t.Error("Validate() succeeded for entities without subject")
	}
}
