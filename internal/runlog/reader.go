package runlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Reader reconstructs run information from run log files.
type Reader struct {
	logDirectory string
}

// NewReader creates a Reader over the given log directory.
func NewReader(logDirectory string) *Reader {
	return &Reader{logDirectory: logDirectory}
}

// ListRuns returns info for every run found in the log directory,
// sorted by start time, oldest first. A missing directory yields an
// empty list, not an error.
func (r *Reader) ListRuns() ([]RunInfo, error) {
	entries, err := os.ReadDir(r.logDirectory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read log directory: %w", err)
	}

	var runs []RunInfo
	for _, entry := range entries {
		if entry.IsDir() || !isRunFile(entry.Name()) {
			continue
		}
		info, err := r.readRunFile(filepath.Join(r.logDirectory, entry.Name()))
		if err != nil {
			// A truncated or corrupt run file should not hide the
			// others.
			continue
		}
		runs = append(runs, *info)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartTime.Before(runs[j].StartTime)
	})
	return runs, nil
}

// LatestRun returns the most recently started run, or nil if the log
// directory holds none.
func (r *Reader) LatestRun() (*RunInfo, error) {
	runs, err := r.ListRuns()
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[len(runs)-1], nil
}

// Events returns every event recorded for the given run.
func (r *Reader) Events(id RunID) ([]Event, error) {
	path := filepath.Join(r.logDirectory, runFilename(id))
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("malformed event at %s:%d: %w", filepath.Base(path), lineNum, err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read run log: %w", err)
	}
	return events, nil
}

// readRunFile folds a run file's events into a RunInfo. A run whose
// file lacks a RUN_END event is reported as interrupted.
func (r *Reader) readRunFile(path string) (*RunInfo, error) {
	id := runIDFromFilename(filepath.Base(path))
	events, err := r.Events(id)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 || events[0].EventType != EventRunStart {
		return nil, fmt.Errorf("run file %s has no RUN_START event", filepath.Base(path))
	}

	info := &RunInfo{
		RunID:      events[0].RunID,
		StartTime:  events[0].Timestamp,
		Status:     RunStatusInterrupted,
		AppVersion: events[0].Metadata["appVersion"],
	}

	haveEndSummary := false
	for _, e := range events[1:] {
		switch e.EventType {
		case EventConvert:
			if e.Status == StatusSuccess {
				info.Summary.Converted++
			} else {
				info.Summary.Errors++
			}
		case EventSkip:
			info.Summary.Skipped++
		case EventPatternMismatch:
			info.Summary.Mismatched++
		case EventError:
			info.Summary.Errors++
		case EventRunEnd:
			end := e.Timestamp
			info.EndTime = &end
			info.Status = RunStatus(e.Metadata["status"])
			// The summary in RUN_END is authoritative when present.
			if s, ok := summaryFromMetadata(e.Metadata); ok {
				info.Summary = s
				haveEndSummary = true
			}
		}
	}
	if !haveEndSummary {
		info.Summary.TotalFiles = info.Summary.Converted + info.Summary.Skipped +
			info.Summary.Mismatched + info.Summary.Errors
	}
	if info.Status == RunStatusInterrupted || info.Status == "" {
		info.Status = RunStatusInterrupted
	}
	return info, nil
}

func summaryFromMetadata(md map[string]string) (RunSummary, bool) {
	if md == nil {
		return RunSummary{}, false
	}
	var s RunSummary
	var ok bool
	if v, err := strconv.Atoi(md["totalFiles"]); err == nil {
		s.TotalFiles = v
		ok = true
	}
	if v, err := strconv.Atoi(md["converted"]); err == nil {
		s.Converted = v
	}
	if v, err := strconv.Atoi(md["skipped"]); err == nil {
		s.Skipped = v
	}
	if v, err := strconv.Atoi(md["mismatched"]); err == nil {
		s.Mismatched = v
	}
	if v, err := strconv.Atoi(md["errors"]); err == nil {
		s.Errors = v
	}
	return s, ok
}

func isRunFile(name string) bool {
	return strings.HasPrefix(name, "runlog-") && strings.HasSuffix(name, ".jsonl")
}

func runIDFromFilename(name string) RunID {
	name = strings.TrimPrefix(name, "runlog-")
	name = strings.TrimSuffix(name, ".jsonl")
	return RunID(name)
}
