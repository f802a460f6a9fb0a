package acquire

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/FoilMiser/dataset-collector/internal/kernel"
	"github.com/FoilMiser/dataset-collector/internal/model"
)

// Runner drives a queue of targets through the strategy registry with a
// bounded worker pool, matching the teacher's semaphore-gated goroutine
// fan-out (pkg/tools/bootstrap/downloader.go).
type Runner struct {
	registry   *Registry
	rawRoot    string
	workers    int
	failOnError bool
}

// NewRunner builds a Runner. workers <= 0 is normalized to 1.
func NewRunner(registry *Registry, rawRoot string, workers int) *Runner {
	if workers <= 0 {
		workers = 1
	}
	return &Runner{registry: registry, rawRoot: rawRoot, workers: workers}
}

// FailOnError toggles whether Run aborts (returns an error) if any
// target fails, per §4.4's --fail-on-error flag.
func (r *Runner) FailOnError(v bool) { r.failOnError = v }

// targetDir implements §4.4's output root: raw/{bucket}/{pool}/{target_id}/.
func (r *Runner) targetDir(row model.QueueRow) string {
	return TargetDir(r.rawRoot, row)
}

// TargetDir computes a row's acquisition output directory under rawRoot
// (raw/{bucket}/{pool}/{target_id}/), exported so the orchestrator can
// locate a target's raw payload without duplicating this layout when
// handing it to the YELLOW screener or the merger.
func TargetDir(rawRoot string, row model.QueueRow) string {
	bucket := "green"
	if row.Bucket == model.BucketYellow {
		bucket = "yellow"
	}
	return filepath.Join(rawRoot, bucket, string(row.LicensePool), kernel.SanitizeFilename(row.TargetID))
}

// Run executes every row's download, preserving input queue order in
// the returned summary regardless of completion order (§4.4).
func (r *Runner) Run(ctx context.Context, runID string, rows []model.QueueRow, maxBytesPerTarget int64, allowHuge bool) ([]model.AcquireSummaryEntry, error) {
	results := make([]model.AcquireSummaryEntry, len(rows))
	sem := make(chan struct{}, r.workers)
	var wg sync.WaitGroup
	var anyFailed bool
	var mu sync.Mutex

	for i, row := range rows {
		wg.Add(1)
		go func(idx int, row model.QueueRow) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			entry := r.runOne(ctx, runID, row, maxBytesPerTarget, allowHuge)
			results[idx] = entry
			if entry.Status == model.AcquireFailed {
				mu.Lock()
				anyFailed = true
				mu.Unlock()
			}
		}(i, row)
	}
	wg.Wait()

	if anyFailed && r.failOnError {
		return results, fmt.Errorf("acquire: one or more targets failed under --fail-on-error")
	}
	return results, nil
}

func (r *Runner) runOne(ctx context.Context, runID string, row model.QueueRow, maxBytesPerTarget int64, allowHuge bool) model.AcquireSummaryEntry {
	strat, ok := r.registry.Lookup(row.Download.Strategy)
	if !ok {
		return model.AcquireSummaryEntry{
			RunID: runID, TargetID: row.TargetID, Status: model.AcquireFailed,
			Error: fmt.Sprintf("strategy %q not registered", row.Download.Strategy), CompletedAt: time.Now().UTC(),
		}
	}

	dir := r.targetDir(row)
	outcome, err := strat.Fetch(ctx, FetchRequest{
		TargetID: row.TargetID, Params: row.Download.Params, DestDir: dir,
		MaxBytes: maxBytesPerTarget, AllowHugeDownload: allowHuge,
	})
	if err != nil {
		return model.AcquireSummaryEntry{
			RunID: runID, TargetID: row.TargetID, Status: model.AcquireFailed,
			Error: err.Error(), CompletedAt: time.Now().UTC(),
		}
	}

	// Handlers returning an empty result list are normalized, never a
	// bare crash on an assumed files[0] (§4.4 "Failure semantics").
	if outcome.Status == "" {
		outcome.Status = model.AcquireFailed
		outcome.Error = "handler_returned_no_results"
	}

	if err := r.writeDoneManifest(dir, row, outcome); err != nil {
		return model.AcquireSummaryEntry{
			RunID: runID, TargetID: row.TargetID, Status: model.AcquireFailed,
			Error: fmt.Sprintf("write acquire_done.json: %v", err), CompletedAt: time.Now().UTC(),
		}
	}

	return model.AcquireSummaryEntry{
		RunID: runID, TargetID: row.TargetID, Status: outcome.Status,
		BytesWritten: outcome.BytesWritten, Files: len(outcome.Files), Error: outcome.Error,
		CompletedAt: time.Now().UTC(),
	}
}

type doneManifest struct {
	TargetID           string       `json:"target_id"`
	Status             string       `json:"status"`
	BytesWritten       int64        `json:"bytes_written"`
	Files              []FileResult `json:"files"`
	PolicySnapshotHash string       `json:"policy_snapshot_hash"`
	Error              string       `json:"error,omitempty"`
}

func (r *Runner) writeDoneManifest(dir string, row model.QueueRow, outcome FetchOutcome) error {
	manifest := doneManifest{
		TargetID: row.TargetID, Status: string(outcome.Status), BytesWritten: outcome.BytesWritten,
		Files: outcome.Files, PolicySnapshotHash: row.PolicySnapshotHash, Error: outcome.Error,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return kernel.WriteAtomic(filepath.Join(dir, "acquire_done.json"), data)
}
