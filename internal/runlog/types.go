// Package runlog records a per-run event log of conversion activity.
// Each run writes an append-only JSON Lines file, which makes reruns
// auditable and lets status reporting reconstruct what happened.
package runlog

import "time"

// RunID is a unique identifier for each program execution.
// It uses UUID v4 format: "xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx"
type RunID string

// EventType represents the type of run log event.
type EventType string

const (
	// Run lifecycle events
	EventRunStart EventType = "RUN_START"
	EventRunEnd   EventType = "RUN_END"

	// File operation events
	EventConvert         EventType = "CONVERT"
	EventSkip            EventType = "SKIP"
	EventPatternMismatch EventType = "PATTERN_MISMATCH"
	EventError           EventType = "ERROR"

	// System events
	EventRetentionPrune EventType = "RETENTION_PRUNE"
)

// OperationStatus represents the outcome of an operation.
type OperationStatus string

const (
	StatusSuccess OperationStatus = "SUCCESS"
	StatusFailure OperationStatus = "FAILURE"
	StatusSkipped OperationStatus = "SKIPPED"
)

// ReasonCode provides the detailed reason for a skip.
type ReasonCode string

const (
	ReasonUnknownExtension ReasonCode = "UNKNOWN_EXTENSION"
	ReasonFilteredOut      ReasonCode = "FILTERED_OUT"
	ReasonMissingSource    ReasonCode = "MISSING_SOURCE"
	ReasonUpToDate         ReasonCode = "UP_TO_DATE"
)

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusInProgress  RunStatus = "IN_PROGRESS"
	RunStatusCompleted   RunStatus = "COMPLETED"
	RunStatusFailed      RunStatus = "FAILED"
	RunStatusInterrupted RunStatus = "INTERRUPTED"
)

// ErrorDetails contains detailed information about an error.
type ErrorDetails struct {
	ErrorType    string `json:"errorType"`
	ErrorMessage string `json:"errorMessage"`
	Operation    string `json:"operation"`
}

// Event represents a single run log record.
type Event struct {
	Timestamp       time.Time         `json:"timestamp"`
	RunID           RunID             `json:"runId"`
	EventType       EventType         `json:"eventType"`
	Status          OperationStatus   `json:"status"`
	SourcePath      string            `json:"sourcePath,omitempty"`
	DestinationPath string            `json:"destinationPath,omitempty"`
	ReasonCode      ReasonCode        `json:"reasonCode,omitempty"`
	ErrorDetails    *ErrorDetails     `json:"errorDetails,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// RunSummary contains statistics for a completed run.
type RunSummary struct {
	TotalFiles int `json:"totalFiles"`
	Converted  int `json:"converted"`
	Skipped    int `json:"skipped"`
	Mismatched int `json:"mismatched"`
	Errors     int `json:"errors"`
}

// RunInfo contains metadata and summary for a run.
type RunInfo struct {
	RunID      RunID      `json:"runId"`
	StartTime  time.Time  `json:"startTime"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	Status     RunStatus  `json:"status"`
	AppVersion string     `json:"appVersion"`
	Summary    RunSummary `json:"summary"`
}

// Config holds configuration for the run log.
type Config struct {
	LogDirectory     string `json:"logDirectory"`
	RetentionDays    int    `json:"retentionDays"`    // 0 = unlimited
	RetentionRuns    int    `json:"retentionRuns"`    // 0 = unlimited
	MinRetentionDays int    `json:"minRetentionDays"` // Default: 7
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LogDirectory:     ".bidsbv/runs",
		RetentionDays:    90,
		RetentionRuns:    0,
		MinRetentionDays: 7,
	}
}
