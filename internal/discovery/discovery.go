// Package discovery indexes what a dataset actually contains. The
// index is filesystem-driven: subjects, sessions and entity sets come
// from the rawdata tree, not from any manifest.
package discovery

import (
	"fmt"
	"os"
	"sort"

	"bidsbv/internal/bids"
	"bidsbv/internal/bvio"
	"bidsbv/internal/layout"
	"bidsbv/internal/scanner"
)

// Index summarizes the entity sets present under rawdata.
type Index struct {
	// Subjects holds the subject labels in sorted order.
	Subjects []string
	// Sessions maps each subject to its sorted session labels.
	Sessions map[string][]string
	// Sets holds every parsed entity set in enumeration order.
	Sets []bids.Entities
}

// BuildIndex scans the rawdata tree and collects its entity sets.
// Files that fail entity parsing are ignored here; the mapper is where
// they get reported.
func BuildIndex(root string) (*Index, error) {
	entries, err := scanner.Scan(layout.New(root).RawDir())
	if err != nil {
		return nil, err
	}

	ix := &Index{Sessions: make(map[string][]string)}
	subjects := make(map[string]bool)
	sessions := make(map[string]map[string]bool)

	for _, entry := range entries {
		e, _, err := bids.ParseFilename(entry.Name)
		if err != nil {
			continue
		}
		ix.Sets = append(ix.Sets, e)
		subjects[e.Subject] = true
		if sessions[e.Subject] == nil {
			sessions[e.Subject] = make(map[string]bool)
		}
		sessions[e.Subject][e.Session] = true
	}

	for s := range subjects {
		ix.Subjects = append(ix.Subjects, s)
	}
	sort.Strings(ix.Subjects)
	for s, set := range sessions {
		for ses := range set {
			ix.Sessions[s] = append(ix.Sessions[s], ses)
		}
		sort.Strings(ix.Sessions[s])
	}
	return ix, nil
}

// Tasks returns the distinct task names in sorted order.
func (ix *Index) Tasks() []string {
	seen := make(map[string]bool)
	var tasks []string
	for _, e := range ix.Sets {
		if e.Task != "" && !seen[e.Task] {
			seen[e.Task] = true
			tasks = append(tasks, e.Task)
		}
	}
	sort.Strings(tasks)
	return tasks
}

// FuncReference returns the first bold run matching the given events
// entity set. Events files carry no acquisition timing of their own, so
// the matching functional run supplies TR and volume count.
func (ix *Index) FuncReference(events bids.Entities) (bids.Entities, bool) {
	for _, e := range ix.Sets {
		if e.Suffix != "bold" {
			continue
		}
		if e.Subject == events.Subject && e.Session == events.Session &&
			e.Task == events.Task && e.Run == events.Run {
			return e, true
		}
	}
	return bids.Entities{}, false
}

// AcquisitionFromReference reads TR and volume count from the converted
// functional run matching the given entity set. The run must already be
// converted: its FMR header under derivatives is the source of truth.
func AcquisitionFromReference(root string, e bids.Entities) (trMillis, nrVolumes int, err error) {
	ix, err := BuildIndex(root)
	if err != nil {
		return 0, 0, err
	}
	ref, ok := ix.FuncReference(e)
	if !ok {
		return 0, 0, fmt.Errorf("no functional run matches %s", e.Name())
	}

	fmrPath, err := layout.New(root).DerivativePath(ref, layout.RawConversion, "")
	if err != nil {
		return 0, 0, err
	}
	hdr, err := bvio.ReadFMRHeader(fmrPath)
	if err != nil {
		return 0, 0, err
	}
	return hdr.TR, hdr.NrOfVolumes, nil
}

// Workflows lists the workflow subtrees present under derivatives, in
// folder name order. Folders outside the naming convention are ignored.
func Workflows(root string) ([]layout.Workflow, error) {
	entries, err := os.ReadDir(layout.New(root).DerivativesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var flows []layout.Workflow
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if w, ok := layout.ParseWorkflowFolder(entry.Name()); ok {
			flows = append(flows, w)
		}
	}
	return flows, nil
}

// FilterSets returns the entity sets with the given suffix, in index
// order.
func (ix *Index) FilterSets(suffix string) []bids.Entities {
	var sets []bids.Entities
	for _, e := range ix.Sets {
		if e.Suffix == suffix {
			sets = append(sets, e)
		}
	}
	return sets
}
