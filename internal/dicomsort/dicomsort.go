// Package dicomsort tidies DICOM series directories under sourcedata.
// Scanners append noise volumes at the end of a series; those trailing
// files get moved into a subfolder so conversion only sees real data.
package dicomsort

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// NoiseSubdir is the folder that receives trailing noise volumes.
const NoiseSubdir = "last5vols"

// Options controls noise-volume relocation.
type Options struct {
	// Threshold is the minimum number of .dcm files a directory must
	// hold before any are relocated.
	Threshold int
	// TrailCount is how many trailing files to relocate.
	TrailCount int
}

// DefaultOptions matches the scanner convention of five noise volumes
// at the end of any series longer than ten files.
func DefaultOptions() Options {
	return Options{Threshold: 10, TrailCount: 5}
}

// MoveResult describes what one pass over a tree relocated.
type MoveResult struct {
	// Directories maps each processed directory to the files moved out
	// of it, in series order.
	Directories map[string][]string
	// TotalMoved is the number of files relocated.
	TotalMoved int
}

// SortSeries orders DICOM filenames the way the scanner wrote them.
// Instance counters live in the last characters of the name, so sorting
// by the trailing 8 characters recovers acquisition order.
func SortSeries(files []string) []string {
	sorted := make([]string, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool {
		return last8(sorted[i]) < last8(sorted[j])
	})
	return sorted
}

func last8(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[len(s)-8:]
}

// MoveNoiseVolumes walks every directory below root and relocates the
// trailing noise volumes of each large enough series into the
// last5vols subfolder. The pass is idempotent: already-relocated files
// no longer count toward the threshold.
func MoveNoiseVolumes(root string, opts Options) (*MoveResult, error) {
	result := &MoveResult{Directories: make(map[string][]string)}

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == NoiseSubdir {
			return filepath.SkipDir
		}

		moved, err := moveTrailing(path, opts)
		if err != nil {
			return err
		}
		if len(moved) > 0 {
			result.Directories[path] = moved
			result.TotalMoved += len(moved)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("noise volume pass failed: %w", err)
	}
	return result, nil
}

func moveTrailing(dir string, opts Options) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var series []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".dcm") {
			series = append(series, entry.Name())
		}
	}
	if len(series) <= opts.Threshold {
		return nil, nil
	}
	series = SortSeries(series)

	noiseDir := filepath.Join(dir, NoiseSubdir)
	if err := os.MkdirAll(noiseDir, 0755); err != nil {
		return nil, err
	}

	start := len(series) - opts.TrailCount
	if start < 0 {
		start = 0
	}
	var moved []string
	for _, name := range series[start:] {
		dst := filepath.Join(noiseDir, GenerateDuplicateName(noiseDir, name))
		if err := os.Rename(filepath.Join(dir, name), dst); err != nil {
			return moved, err
		}
		moved = append(moved, name)
	}
	return moved, nil
}

// EntityHints carries identifying DICOM tags useful for naming the
// converted outputs.
type EntityHints struct {
	PatientID         string
	SeriesDescription string
	ProtocolName      string
}

// ReadEntityHints extracts identifying tags from a DICOM file. Missing
// tags leave their fields empty rather than failing the read.
func ReadEntityHints(path string) (EntityHints, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return EntityHints{}, fmt.Errorf("failed to parse DICOM file: %w", err)
	}

	var hints EntityHints
	hints.PatientID = stringTag(&ds, tag.PatientID)
	hints.SeriesDescription = stringTag(&ds, tag.SeriesDescription)
	hints.ProtocolName = stringTag(&ds, tag.ProtocolName)
	return hints, nil
}

func stringTag(ds *dicom.Dataset, t tag.Tag) string {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return ""
	}
	vals := el.Value.GetValue()
	if ss, ok := vals.([]string); ok && len(ss) > 0 {
		return strings.TrimSpace(ss[0])
	}
	return ""
}
