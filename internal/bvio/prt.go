// Package bvio reads and writes the BrainVoyager sidecar file formats
// the conversion step produces and consumes: stimulation protocols (PRT),
// design matrices (SDM), BIDS events tables (TSV) and the minimal VMR/FMR
// headers needed to materialize converted volumes. No Go library covers
// these formats, so the codecs live here.
package bvio

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FormatErrorType represents the type of sidecar format error.
type FormatErrorType string

const (
	// MalformedFile indicates the file does not follow the expected format.
	MalformedFile FormatErrorType = "MALFORMED_FILE"
)

// FormatError represents a failure to decode a sidecar file.
type FormatError struct {
	Type   FormatErrorType
	Path   string
	Detail string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Type, e.Path, e.Detail)
}

// Time resolution values used by protocol files.
const (
	ResolutionVolumes = "Volumes"
	ResolutionMillis  = "msec"
)

// Condition is one experimental condition of a protocol: a name, the
// per-trial onset/offset intervals, an optional parametric weight per
// trial, and a display color.
type Condition struct {
	Name    string
	Starts  []int
	Stops   []int
	Weights []float64 // len 0 when the protocol carries no weights
	Color   [3]int
}

// NrOfTrials returns the number of intervals in the condition.
func (c Condition) NrOfTrials() int {
	return len(c.Starts)
}

// Protocol is a BrainVoyager stimulation protocol.
type Protocol struct {
	FileVersion       int
	Resolution        string // ResolutionVolumes or ResolutionMillis
	Experiment        string
	ParametricWeights bool
	Conditions        []Condition
}

// IsMillisec reports whether interval times are in milliseconds.
func (p *Protocol) IsMillisec() bool {
	return strings.EqualFold(p.Resolution, ResolutionMillis)
}

// ReadPRT parses a protocol file.
func ReadPRT(path string) (*Protocol, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	p := &Protocol{FileVersion: 2, Resolution: ResolutionVolumes}

	sc := bufio.NewScanner(f)
	lines := make([]string, 0, 64)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	nrOfConditions := -1
	i := 0
	for i < len(lines) {
		key, value, ok := splitHeaderLine(lines[i])
		if !ok {
			break
		}
		switch key {
		case "FileVersion":
			p.FileVersion, _ = strconv.Atoi(value)
		case "ResolutionOfTime":
			p.Resolution = value
		case "Experiment":
			p.Experiment = value
		case "ParametricWeights":
			p.ParametricWeights = value == "1"
		case "NrOfConditions":
			nrOfConditions, _ = strconv.Atoi(value)
		}
		i++
		if nrOfConditions >= 0 {
			break
		}
	}
	if nrOfConditions < 0 {
		return nil, &FormatError{Type: MalformedFile, Path: path, Detail: "missing NrOfConditions"}
	}

	for c := 0; c < nrOfConditions; c++ {
		if i >= len(lines) {
			return nil, &FormatError{
				Type:   MalformedFile,
				Path:   path,
				Detail: fmt.Sprintf("expected %d conditions, found %d", nrOfConditions, c),
			}
		}
		cond := Condition{Name: lines[i], Color: [3]int{255, 255, 255}}
		i++

		if i >= len(lines) {
			return nil, &FormatError{Type: MalformedFile, Path: path, Detail: "missing trial count for " + cond.Name}
		}
		nrOfTrials, err := strconv.Atoi(lines[i])
		if err != nil || nrOfTrials < 0 {
			return nil, &FormatError{Type: MalformedFile, Path: path, Detail: "bad trial count for " + cond.Name}
		}
		i++

		for t := 0; t < nrOfTrials; t++ {
			if i >= len(lines) {
				return nil, &FormatError{Type: MalformedFile, Path: path, Detail: "truncated intervals for " + cond.Name}
			}
			fields := strings.Fields(lines[i])
			if len(fields) < 2 {
				return nil, &FormatError{Type: MalformedFile, Path: path, Detail: "bad interval line: " + lines[i]}
			}
			start, err1 := strconv.Atoi(fields[0])
			stop, err2 := strconv.Atoi(fields[1])
			if err1 != nil || err2 != nil {
				return nil, &FormatError{Type: MalformedFile, Path: path, Detail: "bad interval line: " + lines[i]}
			}
			cond.Starts = append(cond.Starts, start)
			cond.Stops = append(cond.Stops, stop)
			if p.ParametricWeights {
				if len(fields) < 3 {
					return nil, &FormatError{Type: MalformedFile, Path: path, Detail: "missing parametric weight: " + lines[i]}
				}
				w, err := strconv.ParseFloat(fields[2], 64)
				if err != nil {
					return nil, &FormatError{Type: MalformedFile, Path: path, Detail: "bad parametric weight: " + lines[i]}
				}
				cond.Weights = append(cond.Weights, w)
			}
			i++
		}

		// Optional per-condition color line.
		if i < len(lines) && strings.HasPrefix(lines[i], "Color:") {
			fields := strings.Fields(strings.TrimPrefix(lines[i], "Color:"))
			if len(fields) == 3 {
				for k := 0; k < 3; k++ {
					cond.Color[k], _ = strconv.Atoi(fields[k])
				}
			}
			i++
		}

		p.Conditions = append(p.Conditions, cond)
	}

	return p, nil
}

// WritePRT writes a protocol file.
func WritePRT(path string, p *Protocol) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	version := p.FileVersion
	if version == 0 {
		version = 2
	}
	if p.ParametricWeights && version < 3 {
		version = 3
	}
	resolution := p.Resolution
	if resolution == "" {
		resolution = ResolutionVolumes
	}
	experiment := p.Experiment
	if experiment == "" {
		experiment = "untitled"
	}

	fmt.Fprintf(w, "\nFileVersion:        %d\n", version)
	fmt.Fprintf(w, "\nResolutionOfTime:   %s\n", resolution)
	fmt.Fprintf(w, "\nExperiment:         %s\n", experiment)
	fmt.Fprint(w, "\nBackgroundColor:    0 0 0\n")
	fmt.Fprint(w, "TextColor:          255 255 255\n")
	fmt.Fprint(w, "TimeCourseColor:    255 255 255\n")
	fmt.Fprint(w, "TimeCourseThick:    3\n")
	fmt.Fprint(w, "ReferenceFuncColor: 0 0 80\n")
	fmt.Fprint(w, "ReferenceFuncThick: 3\n")
	if p.ParametricWeights {
		fmt.Fprint(w, "\nParametricWeights:  1\n")
	}
	fmt.Fprintf(w, "\nNrOfConditions:  %d\n", len(p.Conditions))

	for _, cond := range p.Conditions {
		fmt.Fprintf(w, "\n%s\n%d\n", cond.Name, cond.NrOfTrials())
		for t := range cond.Starts {
			if p.ParametricWeights {
				weight := 1.0
				if t < len(cond.Weights) {
					weight = cond.Weights[t]
				}
				fmt.Fprintf(w, "%4d %4d %g\n", cond.Starts[t], cond.Stops[t], weight)
			} else {
				fmt.Fprintf(w, "%4d %4d\n", cond.Starts[t], cond.Stops[t])
			}
		}
		fmt.Fprintf(w, "Color: %d %d %d\n", cond.Color[0], cond.Color[1], cond.Color[2])
	}

	return w.Flush()
}

// splitHeaderLine splits a "Key: value" header line.
func splitHeaderLine(line string) (key, value string, ok bool) {
	colon := strings.Index(line, ":")
	if colon <= 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:colon]), strings.TrimSpace(line[colon+1:]), true
}
