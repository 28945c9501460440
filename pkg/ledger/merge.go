package ledger

import (
	"context"
	"fmt"
)

// MergeStats counts what a Merge copied.
type MergeStats struct {
	NewRecords      int
	ExistingRecords int
	NewRuns         int
}

// Merge copies every record and run of src into dst. Content addressing
// makes records a simple union; runs already present in dst are skipped.
func Merge(ctx context.Context, dst, src Storer) (MergeStats, error) {
	var stats MergeStats

	records, err := src.List(ctx)
	if err != nil {
		return stats, fmt.Errorf("could not list source records: %w", err)
	}

	for _, r := range records {
		isNew, err := dst.Put(ctx, r)
		if err != nil {
			return stats, fmt.Errorf("could not put record %s: %w", r.ShortHash(), err)
		}
		if isNew {
			stats.NewRecords++
		} else {
			stats.ExistingRecords++
		}

		srcRuns, err := src.Runs(ctx, r.Hash)
		if err != nil {
			return stats, fmt.Errorf("could not list runs of %s: %w", r.ShortHash(), err)
		}
		dstRuns, err := dst.Runs(ctx, r.Hash)
		if err != nil {
			return stats, fmt.Errorf("could not list runs of %s: %w", r.ShortHash(), err)
		}

		for _, run := range srcRuns {
			if containsRun(dstRuns, run) {
				continue
			}
			if err := dst.AddRun(ctx, run); err != nil {
				return stats, fmt.Errorf("could not add run of %s: %w", r.ShortHash(), err)
			}
			stats.NewRuns++
		}
	}

	return stats, nil
}

func containsRun(runs []Run, run Run) bool {
	for _, r := range runs {
		if r.StartedAt.Equal(run.StartedAt) && r.Duration == run.Duration && r.ExitCode == run.ExitCode {
			return true
		}
	}
	return false
}
