package bvio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FMR is a functional multi-slice project: a text header whose voxel
// time courses live in a companion STC file next to it.
type FMR struct {
	FileVersion        int
	NrOfVolumes        int
	NrOfSlices         int
	NrOfSkippedVolumes int
	Prefix             string // STC file stem
	TR                 int    // milliseconds
	InterSliceTime     int    // milliseconds
	ResolutionX        int
	ResolutionY        int
	Data               []uint16 // x-fastest, per slice, per volume; may be nil
}

// WriteFMR writes the FMR text header and, when Data is present, the
// companion STC file alongside it.
func WriteFMR(path string, fmr *FMR) error {
	prefix := fmr.Prefix
	if prefix == "" {
		base := filepath.Base(path)
		prefix = strings.TrimSuffix(base, filepath.Ext(base))
	}
	version := fmr.FileVersion
	if version == 0 {
		version = 7
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "FileVersion:        %d\n", version)
	fmt.Fprintf(w, "NrOfVolumes:        %d\n", fmr.NrOfVolumes)
	fmt.Fprintf(w, "NrOfSlices:         %d\n", fmr.NrOfSlices)
	fmt.Fprintf(w, "NrOfSkippedVolumes: %d\n", fmr.NrOfSkippedVolumes)
	fmt.Fprintf(w, "Prefix:             \"%s\"\n", prefix)
	fmt.Fprintf(w, "TR:                 %d\n", fmr.TR)
	fmt.Fprintf(w, "InterSliceTime:     %d\n", fmr.InterSliceTime)
	fmt.Fprintf(w, "DataStorageFormat:  2\n")
	fmt.Fprintf(w, "DataType:           1\n")
	fmt.Fprintf(w, "ResolutionX:        %d\n", fmr.ResolutionX)
	fmt.Fprintf(w, "ResolutionY:        %d\n", fmr.ResolutionY)
	if err := w.Flush(); err != nil {
		return err
	}

	if fmr.Data == nil {
		return nil
	}

	expect := fmr.NrOfVolumes * fmr.NrOfSlices * fmr.ResolutionX * fmr.ResolutionY
	if len(fmr.Data) != expect {
		return &FormatError{
			Type:   MalformedFile,
			Path:   path,
			Detail: fmt.Sprintf("data length %d does not match header (want %d)", len(fmr.Data), expect),
		}
	}

	stcPath := filepath.Join(filepath.Dir(path), prefix+".stc")
	stc, err := os.Create(stcPath)
	if err != nil {
		return err
	}
	defer stc.Close()

	sw := bufio.NewWriter(stc)
	if err := binary.Write(sw, binary.LittleEndian, fmr.Data); err != nil {
		return err
	}
	return sw.Flush()
}

// ReadFMRHeader parses an FMR text header without loading the STC data.
func ReadFMRHeader(path string) (*FMR, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fmr := &FMR{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, value, ok := splitHeaderLine(strings.TrimSpace(sc.Text()))
		if !ok {
			continue
		}
		switch key {
		case "FileVersion":
			fmr.FileVersion, _ = strconv.Atoi(value)
		case "NrOfVolumes":
			fmr.NrOfVolumes, _ = strconv.Atoi(value)
		case "NrOfSlices":
			fmr.NrOfSlices, _ = strconv.Atoi(value)
		case "NrOfSkippedVolumes":
			fmr.NrOfSkippedVolumes, _ = strconv.Atoi(value)
		case "Prefix":
			fmr.Prefix = strings.Trim(value, `"`)
		case "TR":
			fmr.TR, _ = strconv.Atoi(value)
		case "InterSliceTime":
			fmr.InterSliceTime, _ = strconv.Atoi(value)
		case "ResolutionX":
			fmr.ResolutionX, _ = strconv.Atoi(value)
		case "ResolutionY":
			fmr.ResolutionY, _ = strconv.Atoi(value)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if fmr.NrOfVolumes == 0 && fmr.NrOfSlices == 0 {
		return nil, &FormatError{Type: MalformedFile, Path: path, Detail: "not an FMR header"}
	}
	return fmr, nil
}
