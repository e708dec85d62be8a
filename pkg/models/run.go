package models

import "time"

// DuplicatePolicy controls what happens to files identified as duplicates
type DuplicatePolicy string

const (
	DuplicateMove   DuplicatePolicy = "move"
	DuplicateDelete DuplicatePolicy = "delete"
	DuplicateNone   DuplicatePolicy = "none"
)

// RunOptions is the engine-facing options surface for a single run
type RunOptions struct {
	Concurrency     int
	MaxAttempts     int
	AttemptTimeout  time.Duration
	ThrottleDelay   time.Duration
	DuplicatePolicy DuplicatePolicy
	DryRun          bool
	VerifyOnly      bool
	RetryFailedOnly bool
	PurgeDownloads  bool
}

// DefaultRunOptions returns the options used when nothing is configured
func DefaultRunOptions() RunOptions {
	return RunOptions{
		Concurrency:     4,
		MaxAttempts:     3,
		AttemptTimeout:  2 * time.Minute,
		ThrottleDelay:   250 * time.Millisecond,
		DuplicatePolicy: DuplicateMove,
	}
}

// RunSummary aggregates final item statuses for one run. It is computed by
// scanning the items after the last stage and is only persisted as part of
// the written report.
type RunSummary struct {
	RunID           string               `json:"run_id"`
	Total           int                  `json:"total"`
	Downloaded      int                  `json:"downloaded"`
	Processed       int                  `json:"processed"`
	MetadataWritten int                  `json:"metadata_written"`
	Deduped         int                  `json:"deduped"`
	Failed          int                  `json:"failed"`
	Skipped         int                  `json:"skipped"`
	Reattempts      int                  `json:"reattempts"`
	FailuresByStage map[FailureStage]int `json:"failures_by_stage"`
	StartedAt       time.Time            `json:"started_at"`
	FinishedAt      time.Time            `json:"finished_at"`
	Duration        time.Duration        `json:"duration"`
	ReportPath      string               `json:"report_path,omitempty"`
}

// Summarize computes a run summary from final item statuses. Counts are
// derived from a single scan so they can never exceed the item total.
func Summarize(runID string, items []*Item, startedAt, finishedAt time.Time) RunSummary {
	summary := RunSummary{
		RunID:           runID,
		Total:           len(items),
		FailuresByStage: make(map[FailureStage]int),
		StartedAt:       startedAt,
		FinishedAt:      finishedAt,
		Duration:        finishedAt.Sub(startedAt),
	}

	for _, item := range items {
		if item.Attempts > 1 {
			summary.Reattempts += item.Attempts - 1
		}

		switch item.Status {
		case StatusFailed:
			summary.Failed++
			stage := item.FailureStage
			if stage == "" {
				stage = StageOther
			}
			summary.FailuresByStage[stage]++
			continue
		case StatusSkipped:
			summary.Skipped++
			continue
		}

		// Forward statuses are cumulative: an item that reached dedup also
		// downloaded, composed and wrote metadata.
		switch item.Status {
		case StatusDeduped:
			summary.Deduped++
			fallthrough
		case StatusMetadata:
			summary.MetadataWritten++
			fallthrough
		case StatusProcessed:
			summary.Processed++
			fallthrough
		case StatusDownloaded:
			summary.Downloaded++
		}
	}

	return summary
}
