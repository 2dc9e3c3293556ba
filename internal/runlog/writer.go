package runlog

import (
	"bufio"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Writer appends events for a single run. Each run gets its own file,
// named runlog-<runID>.jsonl, so retention can prune whole runs.
type Writer struct {
	mu      sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	logPath string
	runID   RunID
}

// GenerateRunID generates a new UUID v4 format Run ID.
func GenerateRunID() (RunID, error) {
	uuid := make([]byte, 16)
	_, err := rand.Read(uuid)
	if err != nil {
		return "", fmt.Errorf("failed to generate UUID: %w", err)
	}

	// Set version (4) and variant (RFC 4122)
	uuid[6] = (uuid[6] & 0x0f) | 0x40
	uuid[8] = (uuid[8] & 0x3f) | 0x80

	return RunID(fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		uuid[0:4],
		uuid[4:6],
		uuid[6:8],
		uuid[8:10],
		uuid[10:16],
	)), nil
}

// StartRun creates the run file and writes the RUN_START event.
func StartRun(config Config, appVersion string) (*Writer, error) {
	if err := os.MkdirAll(config.LogDirectory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	runID, err := GenerateRunID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run ID: %w", err)
	}

	logPath := filepath.Join(config.LogDirectory, runFilename(runID))
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}

	w := &Writer{
		file:    file,
		writer:  bufio.NewWriter(file),
		logPath: logPath,
		runID:   runID,
	}

	start := Event{
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		EventType: EventRunStart,
		Status:    StatusSuccess,
		Metadata:  map[string]string{"appVersion": appVersion},
	}
	if err := w.writeEvent(start); err != nil {
		file.Close()
		os.Remove(logPath)
		return nil, fmt.Errorf("failed to write RUN_START event: %w", err)
	}
	return w, nil
}

// RunID returns the identifier of the run being written.
func (w *Writer) RunID() RunID {
	return w.runID
}

// Convert records a conversion outcome.
func (w *Writer) Convert(source, destination string, status OperationStatus) error {
	return w.writeEvent(Event{
		Timestamp:       time.Now().UTC(),
		RunID:           w.runID,
		EventType:       EventConvert,
		Status:          status,
		SourcePath:      source,
		DestinationPath: destination,
	})
}

// Skip records a skipped file.
func (w *Writer) Skip(source string, reason ReasonCode) error {
	return w.writeEvent(Event{
		Timestamp:  time.Now().UTC(),
		RunID:      w.runID,
		EventType:  EventSkip,
		Status:     StatusSkipped,
		SourcePath: source,
		ReasonCode: reason,
	})
}

// PatternMismatch records a file whose name did not parse.
func (w *Writer) PatternMismatch(source, detail string) error {
	return w.writeEvent(Event{
		Timestamp:  time.Now().UTC(),
		RunID:      w.runID,
		EventType:  EventPatternMismatch,
		Status:     StatusSkipped,
		SourcePath: source,
		Metadata:   map[string]string{"detail": detail},
	})
}

// Error records a failed operation.
func (w *Writer) Error(source, operation string, opErr error) error {
	details := &ErrorDetails{
		ErrorType:    fmt.Sprintf("%T", opErr),
		ErrorMessage: opErr.Error(),
		Operation:    operation,
	}
	return w.writeEvent(Event{
		Timestamp:    time.Now().UTC(),
		RunID:        w.runID,
		EventType:    EventError,
		Status:       StatusFailure,
		SourcePath:   source,
		ErrorDetails: details,
	})
}

// EndRun writes the RUN_END event with the final summary and closes the
// run file.
func (w *Writer) EndRun(status RunStatus, summary RunSummary) error {
	end := Event{
		Timestamp: time.Now().UTC(),
		RunID:     w.runID,
		EventType: EventRunEnd,
		Status:    runStatusToOperationStatus(status),
		Metadata: map[string]string{
			"status":     string(status),
			"totalFiles": fmt.Sprintf("%d", summary.TotalFiles),
			"converted":  fmt.Sprintf("%d", summary.Converted),
			"skipped":    fmt.Sprintf("%d", summary.Skipped),
			"mismatched": fmt.Sprintf("%d", summary.Mismatched),
			"errors":     fmt.Sprintf("%d", summary.Errors),
		},
	}
	if err := w.writeEvent(end); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to write RUN_END event: %w", err)
	}
	return w.file.Close()
}

// writeEvent marshals the event to a JSON line and flushes it to disk.
func (w *Writer) writeEvent(event Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := w.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if _, err := w.writer.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush event: %w", err)
	}
	return w.file.Sync()
}

func runStatusToOperationStatus(status RunStatus) OperationStatus {
	switch status {
	case RunStatusCompleted:
		return StatusSuccess
	default:
		return StatusFailure
	}
}

func runFilename(id RunID) string {
	return "runlog-" + string(id) + ".jsonl"
}
