// Package layout computes dataset paths for the BIDS raw-data tree and
// its derivative counterparts. All paths are derived from an explicit
// dataset root; the package holds no state of its own.
package layout

import (
	"fmt"
	"path/filepath"

	"bidsbv/internal/bids"
)

// MapErrorType represents the type of path mapping error.
type MapErrorType string

const (
	// UnknownSuffix indicates the entity suffix has no datatype folder
	// or extension mapping.
	UnknownSuffix MapErrorType = "UNKNOWN_SUFFIX"
)

// MapError represents a failure to map an entity set onto the layout.
type MapError struct {
	Type   MapErrorType
	Suffix string
}

func (e *MapError) Error() string {
	return fmt.Sprintf("%s: no mapping for suffix %q", e.Type, e.Suffix)
}

// PathPair is a computed (source, destination) pair. It is immutable
// once computed and consumed exactly once by the conversion step.
type PathPair struct {
	Source      string
	Destination string
}

// Layout maps entity sets onto the fixed dataset directory hierarchy
// rooted at Root.
type Layout struct {
	Root string
}

// New returns a Layout for the given dataset root.
func New(root string) Layout {
	return Layout{Root: root}
}

// RawDir returns the rawdata tree root.
func (l Layout) RawDir() string {
	return filepath.Join(l.Root, "rawdata")
}

// SourceDir returns the sourcedata tree root.
func (l Layout) SourceDir() string {
	return filepath.Join(l.Root, "sourcedata")
}

// DerivativesDir returns the derivatives tree root.
func (l Layout) DerivativesDir() string {
	return filepath.Join(l.Root, "derivatives")
}

// WorkflowDir returns the root of a workflow's derivatives subtree.
func (l Layout) WorkflowDir(w Workflow) string {
	return filepath.Join(l.DerivativesDir(), w.Folder())
}

// SessionDir returns the datatype folder for an entity set below the
// given tree root, e.g. <base>/sub-01/ses-01/anat.
func SessionDir(base string, e bids.Entities) (string, error) {
	datatype, err := DatatypeFor(e.Suffix)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "sub-"+e.Subject, "ses-"+e.Session, datatype), nil
}

// DatatypeFor returns the datatype folder for a suffix.
func DatatypeFor(suffix string) (string, error) {
	switch suffix {
	case "T1w", "T2w":
		return "anat", nil
	case "bold", "sbref", "events":
		return "func", nil
	}
	return "", &MapError{Type: UnknownSuffix, Suffix: suffix}
}

// RawExtension returns the rawdata file extension for a suffix.
func RawExtension(suffix string) (string, error) {
	switch suffix {
	case "T1w", "T2w", "bold", "sbref":
		return ".nii.gz", nil
	case "events":
		return ".tsv", nil
	}
	return "", &MapError{Type: UnknownSuffix, Suffix: suffix}
}

// DerivativeExtension returns the derivative file extension for a suffix.
func DerivativeExtension(suffix string) (string, error) {
	switch suffix {
	case "T1w", "T2w":
		return ".vmr", nil
	case "bold", "sbref":
		return ".fmr", nil
	case "events":
		return ".prt", nil
	}
	return "", &MapError{Type: UnknownSuffix, Suffix: suffix}
}

// RawPath returns the rawdata path for an entity set.
func (l Layout) RawPath(e bids.Entities) (string, error) {
	dir, err := SessionDir(l.RawDir(), e)
	if err != nil {
		return "", err
	}
	ext, err := RawExtension(e.Suffix)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, e.Name()+ext), nil
}

// DerivativePath returns the path of an entity set's derivative file in
// the given workflow subtree. The optional suffix chain (e.g. "_3DMCTS")
// is appended to the name stem before the extension.
func (l Layout) DerivativePath(e bids.Entities, w Workflow, chain string) (string, error) {
	dir, err := SessionDir(l.WorkflowDir(w), e)
	if err != nil {
		return "", err
	}
	ext, err := DerivativeExtension(e.Suffix)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, e.Name()+chain+ext), nil
}

// PairFor computes the (source, destination) path pair that converts an
// entity set's rawdata file into the given workflow subtree.
func (l Layout) PairFor(e bids.Entities, w Workflow) (PathPair, error) {
	src, err := l.RawPath(e)
	if err != nil {
		return PathPair{}, err
	}
	dst, err := l.DerivativePath(e, w, "")
	if err != nil {
		return PathPair{}, err
	}
	return PathPair{Source: src, Destination: dst}, nil
}
