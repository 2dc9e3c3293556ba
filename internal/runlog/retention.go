package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PruneResult contains the result of a pruning operation.
type PruneResult struct {
	PrunedRuns      []RunID
	SkippedRuns     []RunID
	TotalBytesFreed int64
}

// RetentionManager prunes old run files according to the configured
// limits. Runs younger than MinRetentionDays are never pruned.
type RetentionManager struct {
	config Config
	reader *Reader
}

// NewRetentionManager creates a RetentionManager with the given
// configuration.
func NewRetentionManager(config Config) *RetentionManager {
	return &RetentionManager{
		config: config,
		reader: NewReader(config.LogDirectory),
	}
}

// CheckRetention returns the runs that exceed the retention limits.
func (rm *RetentionManager) CheckRetention() ([]RunInfo, error) {
	if rm.config.RetentionDays == 0 && rm.config.RetentionRuns == 0 {
		return nil, nil
	}

	runs, err := rm.reader.ListRuns()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) == 0 {
		return nil, nil
	}

	now := time.Now()
	minDays := rm.config.MinRetentionDays
	if minDays == 0 {
		minDays = 7
	}
	minRetention := time.Duration(minDays) * 24 * time.Hour

	marked := make(map[RunID]bool)

	if rm.config.RetentionDays > 0 {
		limit := time.Duration(rm.config.RetentionDays) * 24 * time.Hour
		for _, run := range runs {
			if now.Sub(run.StartTime) > limit {
				marked[run.RunID] = true
			}
		}
	}

	// ListRuns sorts oldest first, so excess runs are the leading ones.
	if rm.config.RetentionRuns > 0 && len(runs) > rm.config.RetentionRuns {
		for _, run := range runs[:len(runs)-rm.config.RetentionRuns] {
			marked[run.RunID] = true
		}
	}

	var toPrune []RunInfo
	for _, run := range runs {
		if !marked[run.RunID] {
			continue
		}
		if now.Sub(run.StartTime) < minRetention {
			continue
		}
		toPrune = append(toPrune, run)
	}
	return toPrune, nil
}

// Prune removes run files that exceed the retention limits and returns
// what was removed.
func (rm *RetentionManager) Prune() (*PruneResult, error) {
	toPrune, err := rm.CheckRetention()
	if err != nil {
		return nil, err
	}

	result := &PruneResult{}
	for _, run := range toPrune {
		path := filepath.Join(rm.config.LogDirectory, runFilename(run.RunID))
		info, err := os.Stat(path)
		if err != nil {
			result.SkippedRuns = append(result.SkippedRuns, run.RunID)
			continue
		}
		if err := os.Remove(path); err != nil {
			result.SkippedRuns = append(result.SkippedRuns, run.RunID)
			continue
		}
		result.PrunedRuns = append(result.PrunedRuns, run.RunID)
		result.TotalBytesFreed += info.Size()
	}
	return result, nil
}
