// Package mapper turns the rawdata tree into an ordered list of
// conversion path pairs.
package mapper

import (
	"strings"

	"bidsbv/internal/bids"
	"bidsbv/internal/layout"
	"bidsbv/internal/scanner"
)

// Filter restricts mapping to matching entity sets. Empty fields match
// everything; Run 0 matches every run.
type Filter struct {
	Subject string
	Session string
	Task    string
	Run     int
}

// Matches reports whether the entity set passes the filter.
func (f Filter) Matches(e bids.Entities) bool {
	if f.Subject != "" && e.Subject != f.Subject {
		return false
	}
	if f.Session != "" && e.Session != f.Session {
		return false
	}
	if f.Task != "" && e.Task != f.Task {
		return false
	}
	if f.Run != 0 && e.Run != f.Run {
		return false
	}
	return true
}

// Mismatch records a file whose name did not parse as a valid entity
// set, keyed by its rawdata-relative path.
type Mismatch struct {
	Path string
	Err  error
}

// Result is the outcome of a mapping pass over the rawdata tree.
type Result struct {
	// Pairs holds the source/destination pairs in enumeration order.
	Pairs []layout.PathPair
	// Entities holds the parsed entity set for each pair, index-aligned
	// with Pairs.
	Entities []bids.Entities
	// Mismatches holds files whose names failed entity parsing.
	Mismatches []Mismatch
	// Skipped counts files ignored by the extension allowlist.
	Skipped int
}

// Mapper maps rawdata files to their destinations in a workflow
// subtree.
type Mapper struct {
	layout   layout.Layout
	workflow layout.Workflow
	filter   Filter
}

// New creates a mapper targeting the raw-conversion subtree
// (derivatives/rawdata_bv).
func New(root string) *Mapper {
	return &Mapper{
		layout:   layout.New(root),
		workflow: layout.RawConversion,
	}
}

// WithWorkflow targets a different workflow subtree.
func (m *Mapper) WithWorkflow(w layout.Workflow) *Mapper {
	m.workflow = w
	return m
}

// WithFilter restricts mapping to entity sets matching the filter.
func (m *Mapper) WithFilter(f Filter) *Mapper {
	m.filter = f
	return m
}

// Map walks the rawdata tree and produces one path pair per matching
// raw file. Files with extensions outside the raw set are skipped;
// names that fail entity parsing are reported as mismatches, not
// errors. A scan failure on the tree root aborts the pass.
func (m *Mapper) Map() (*Result, error) {
	entries, err := scanner.Scan(m.layout.RawDir())
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name, ".") {
			res.Skipped++
			continue
		}
		stem, ext := bids.SplitExtension(entry.Name)
		if !rawExtension(ext) {
			res.Skipped++
			continue
		}
		e, err := bids.Parse(stem)
		if err != nil {
			res.Mismatches = append(res.Mismatches, Mismatch{Path: entry.RelPath, Err: err})
			continue
		}
		if !m.filter.Matches(e) {
			continue
		}

		dst, err := m.layout.DerivativePath(e, m.workflow, "")
		if err != nil {
			res.Mismatches = append(res.Mismatches, Mismatch{Path: entry.RelPath, Err: err})
			continue
		}
		res.Pairs = append(res.Pairs, layout.PathPair{
			Source:      entry.FullPath,
			Destination: dst,
		})
		res.Entities = append(res.Entities, e)
	}
	return res, nil
}

// MapEntity computes the pair for a single entity set without touching
// the filesystem.
func (m *Mapper) MapEntity(e bids.Entities) (layout.PathPair, error) {
	return m.layout.PairFor(e, m.workflow)
}

// IsRawSource reports whether a file name carries one of the raw
// extensions the converter accepts. Hidden files never qualify.
func IsRawSource(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	_, ext := bids.SplitExtension(name)
	return rawExtension(ext)
}

func rawExtension(ext string) bool {
	switch ext {
	case ".nii.gz", ".nii", ".tsv":
		return true
	}
	return false
}
