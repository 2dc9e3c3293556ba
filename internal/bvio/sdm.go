package bvio

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Predictor is one column of a design matrix.
type Predictor struct {
	Name   string
	Color  [3]int
	Values []float64
}

// DesignMatrix is a single-study design matrix.
type DesignMatrix struct {
	FileVersion            int
	NrOfDataPoints         int
	IncludesConstant       bool
	FirstConfoundPredictor int
	Predictors             []Predictor
}

// NrOfPredictors returns the number of columns.
func (d *DesignMatrix) NrOfPredictors() int {
	return len(d.Predictors)
}

// WriteSDM writes a design matrix file: header block, one row of
// predictor colors, one row of quoted predictor names, then the value
// matrix with one data point per row.
func WriteSDM(path string, d *DesignMatrix) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	version := d.FileVersion
	if version == 0 {
		version = 1
	}
	includesConstant := 0
	if d.IncludesConstant {
		includesConstant = 1
	}

	fmt.Fprintf(w, "FileVersion:            %d\n\n", version)
	fmt.Fprintf(w, "NrOfPredictors:         %d\n", d.NrOfPredictors())
	fmt.Fprintf(w, "NrOfDataPoints:         %d\n", d.NrOfDataPoints)
	fmt.Fprintf(w, "IncludesConstant:       %d\n", includesConstant)
	fmt.Fprintf(w, "FirstConfoundPredictor: %d\n\n", d.FirstConfoundPredictor)

	for i, p := range d.Predictors {
		if i > 0 {
			fmt.Fprint(w, "   ")
		}
		fmt.Fprintf(w, "%d %d %d", p.Color[0], p.Color[1], p.Color[2])
	}
	fmt.Fprintln(w)
	for i, p := range d.Predictors {
		if i > 0 {
			fmt.Fprint(w, " ")
		}
		fmt.Fprintf(w, "%q", p.Name)
	}
	fmt.Fprintln(w)

	for row := 0; row < d.NrOfDataPoints; row++ {
		for col, p := range d.Predictors {
			if col > 0 {
				fmt.Fprint(w, " ")
			}
			value := 0.0
			if row < len(p.Values) {
				value = p.Values[row]
			}
			fmt.Fprintf(w, "%.9f", value)
		}
		fmt.Fprintln(w)
	}

	return w.Flush()
}

// ReadSDM parses a design matrix file.
func ReadSDM(path string) (*DesignMatrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

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

	d := &DesignMatrix{}
	nrOfPredictors := -1
	i := 0
	for i < len(lines) {
		key, value, ok := splitHeaderLine(lines[i])
		if !ok {
			break
		}
		switch key {
		case "FileVersion":
			d.FileVersion, _ = strconv.Atoi(value)
		case "NrOfPredictors":
			nrOfPredictors, _ = strconv.Atoi(value)
		case "NrOfDataPoints":
			d.NrOfDataPoints, _ = strconv.Atoi(value)
		case "IncludesConstant":
			d.IncludesConstant = value == "1"
		case "FirstConfoundPredictor":
			d.FirstConfoundPredictor, _ = strconv.Atoi(value)
		}
		i++
	}
	if nrOfPredictors < 0 {
		return nil, &FormatError{Type: MalformedFile, Path: path, Detail: "missing NrOfPredictors"}
	}

	// Color row: three integers per predictor.
	if i >= len(lines) {
		return nil, &FormatError{Type: MalformedFile, Path: path, Detail: "missing color row"}
	}
	colorFields := strings.Fields(lines[i])
	if len(colorFields) != nrOfPredictors*3 {
		return nil, &FormatError{Type: MalformedFile, Path: path, Detail: "bad color row"}
	}
	d.Predictors = make([]Predictor, nrOfPredictors)
	for p := 0; p < nrOfPredictors; p++ {
		for k := 0; k < 3; k++ {
			d.Predictors[p].Color[k], _ = strconv.Atoi(colorFields[p*3+k])
		}
	}
	i++

	// Name row: quoted predictor names.
	if i >= len(lines) {
		return nil, &FormatError{Type: MalformedFile, Path: path, Detail: "missing name row"}
	}
	names := parseQuotedNames(lines[i])
	if len(names) != nrOfPredictors {
		return nil, &FormatError{Type: MalformedFile, Path: path, Detail: "bad name row"}
	}
	for p, name := range names {
		d.Predictors[p].Name = name
	}
	i++

	// Value matrix.
	for ; i < len(lines); i++ {
		fields := strings.Fields(lines[i])
		if len(fields) != nrOfPredictors {
			return nil, &FormatError{Type: MalformedFile, Path: path, Detail: "bad value row: " + lines[i]}
		}
		for p, field := range fields {
			value, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, &FormatError{Type: MalformedFile, Path: path, Detail: "bad value: " + field}
			}
			d.Predictors[p].Values = append(d.Predictors[p].Values, value)
		}
	}

	if d.NrOfDataPoints == 0 && nrOfPredictors > 0 {
		d.NrOfDataPoints = len(d.Predictors[0].Values)
	}

	return d, nil
}

// parseQuotedNames extracts double-quoted names from a row.
func parseQuotedNames(line string) []string {
	var names []string
	for {
		open := strings.Index(line, `"`)
		if open < 0 {
			return names
		}
		line = line[open+1:]
		closing := strings.Index(line, `"`)
		if closing < 0 {
			return names
		}
		names = append(names, line[:closing])
		line = line[closing+1:]
	}
}
