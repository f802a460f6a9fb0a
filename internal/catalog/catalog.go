// Package catalog implements the catalog builder (C7): it walks a
// completed run's output trees and emits a single catalog.json
// summarizing stage and per-pool counts/bytes, ledger tallies, and any
// failed targets aggregated from acquisition manifests.
package catalog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/dustin/go-humanize"

	"github.com/FoilMiser/dataset-collector/internal/kernel"
	"github.com/FoilMiser/dataset-collector/internal/model"
)

// ToolVersion is this build's semantic version, stamped into every
// catalog.json so a cross-run consumer (the Postgres mirror, an
// auditor) can tell which tool build produced a given run.
const ToolVersion = "1.0.0"

func init() {
	if _, err := semver.NewVersion(ToolVersion); err != nil {
		panic(fmt.Sprintf("catalog: ToolVersion %q is not a valid semantic version: %v", ToolVersion, err))
	}
}

// CompatibleToolVersion reports whether produced parses as a semantic
// version satisfying ">= minimum". Used by cross-run catalog consumers
// deciding whether to trust a catalog written by an older tool build.
func CompatibleToolVersion(produced, minimum string) (bool, error) {
	v, err := semver.NewVersion(produced)
	if err != nil {
		return false, fmt.Errorf("parse tool_version %q: %w", produced, err)
	}
	c, err := semver.NewConstraint(">= " + minimum)
	if err != nil {
		return false, fmt.Errorf("parse minimum tool_version %q: %w", minimum, err)
	}
	return c.Check(v), nil
}

// Roots bundles the filesystem locations the catalog builder reads
// from, mirroring globals.{raw_root,screened_yellow_root,combined_root,
// manifests_root,ledger_root,catalogs_root}.
type Roots struct {
	RawRoot            string
	ScreenedYellowRoot string
	CombinedRoot       string
	ManifestsRoot      string
	LedgerRoot         string
	CatalogsRoot       string
}

// StageStats is one stage's aggregate file count and byte total.
// Counting is file-based rather than record-based so raw acquisition
// output (archives, images, arbitrary payload formats) and JSONL shard
// output are summarized the same way.
type StageStats struct {
	Files int64 `json:"files"`
	Bytes int64 `json:"bytes"`
}

// PoolStats is identical in shape to StageStats; kept as a distinct
// name in the catalog document for readability of the per-pool section.
type PoolStats = StageStats

// LedgerSummary tallies the run's YELLOW screening and merge ledgers.
type LedgerSummary struct {
	YellowPassed          int64                        `json:"yellow_passed"`
	YellowPitchedByReason map[model.PitchReason]int64   `json:"yellow_pitched_by_reason"`
	DedupeSkips           int64                         `json:"dedupe_skips"`
}

// Catalog is the catalog.json document (§4.7).
type Catalog struct {
	RunID              string                          `json:"run_id"`
	WrittenAtUTC       time.Time                       `json:"written_at_utc"`
	ToolVersion        string                          `json:"tool_version"`
	PolicySnapshotHash string                          `json:"policy_snapshot_hash"`
	Stages             map[string]StageStats           `json:"stages"`
	Pools              map[model.LicensePool]PoolStats `json:"pools"`
	Ledgers            LedgerSummary                   `json:"ledgers"`
	FailedTargets      []model.FailedTarget            `json:"failed_targets"`
}

// Builder assembles a Catalog from a completed run's output trees.
type Builder struct {
	roots              Roots
	runID              string
	policySnapshotHash string
	extraFailed        []model.FailedTarget
}

// New builds a Builder for one run.
func New(roots Roots, runID, policySnapshotHash string) *Builder {
	return &Builder{roots: roots, runID: runID, policySnapshotHash: policySnapshotHash}
}

// AddFailedTargets seeds the catalog with failures that never produced
// an acquire_done.json manifest — a classifier-stage abort, for
// instance, which halts before any manifest exists. The orchestrator
// calls this with what it observed directly; Build merges these with
// the manifest-derived failures it discovers on disk.
func (b *Builder) AddFailedTargets(ts []model.FailedTarget) {
	b.extraFailed = append(b.extraFailed, ts...)
}

// Build walks every root and assembles the catalog document. It never
// mutates any input artifact.
func (b *Builder) Build() (Catalog, error) {
	cat := Catalog{
		RunID:              b.runID,
		WrittenAtUTC:       time.Now().UTC(),
		ToolVersion:        ToolVersion,
		PolicySnapshotHash: b.policySnapshotHash,
		Stages:             map[string]StageStats{},
		Pools:              map[model.LicensePool]PoolStats{},
	}

	stageRoots := []struct {
		name string
		root string
	}{
		{"raw", b.roots.RawRoot},
		{"screened_yellow", b.roots.ScreenedYellowRoot},
		{"combined", b.roots.CombinedRoot},
	}
	for _, sr := range stageRoots {
		stats, err := walkStats(sr.root)
		if err != nil {
			return Catalog{}, model.NewError("catalog.walk_stage", model.ClassResource, "", fmt.Errorf("stage %s: %w", sr.name, err))
		}
		cat.Stages[sr.name] = stats
	}

	for _, pool := range []model.LicensePool{model.PoolPermissive, model.PoolCopyleft, model.PoolQuarantine} {
		dir := filepath.Join(b.roots.CombinedRoot, string(pool), "shards")
		stats, err := walkStats(dir)
		if err != nil {
			return Catalog{}, model.NewError("catalog.walk_pool", model.ClassResource, string(pool), err)
		}
		cat.Pools[pool] = stats
	}

	ledgers, err := b.summarizeLedgers()
	if err != nil {
		return Catalog{}, err
	}
	cat.Ledgers = ledgers

	failed, err := b.collectFailedTargets()
	if err != nil {
		return Catalog{}, err
	}
	failed = append(failed, b.extraFailed...)
	sort.Slice(failed, func(i, j int) bool { return failed[i].TargetID < failed[j].TargetID })
	cat.FailedTargets = failed

	return cat, nil
}

// Write assembles the catalog and writes it atomically to
// <CatalogsRoot>/catalog.json (§4.7 "Writes atomically"). It also
// returns a one-line human-readable digest suitable for a progress log.
func (b *Builder) Write() (Catalog, string, error) {
	cat, err := b.Build()
	if err != nil {
		return Catalog{}, "", err
	}

	data, err := json.MarshalIndent(cat, "", "  ")
	if err != nil {
		return Catalog{}, "", fmt.Errorf("marshal catalog: %w", err)
	}

	path := filepath.Join(b.roots.CatalogsRoot, "catalog.json")
	if err := kernel.WriteAtomic(path, data); err != nil {
		return Catalog{}, "", model.NewError("catalog.write", model.ClassResource, "", err)
	}

	return cat, summarize(cat), nil
}

// summarize renders a one-line human-readable digest of a catalog.
func summarize(cat Catalog) string {
	combined := cat.Stages["combined"]
	return fmt.Sprintf(
		"run %s: combined %s across %d files, %d failed targets",
		cat.RunID, humanize.Bytes(uint64(combined.Bytes)), combined.Files, len(cat.FailedTargets),
	)
}

// walkStats totals file count and byte size under root, skipping
// in-progress ".part" files a crash may have left behind (§4.6, §4.8).
// A missing root counts as zero rather than an error, since a stage
// that produced nothing (e.g. no targets routed to YELLOW) is normal.
func walkStats(root string) (StageStats, error) {
	var stats StageStats
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		if filepath.Ext(path) == ".part" {
			return nil
		}
		stats.Files++
		stats.Bytes += info.Size()
		return nil
	})
	if err != nil {
		return StageStats{}, err
	}
	return stats, nil
}

// summarizeLedgers counts yellow_passed rows, tallies yellow_pitched
// rows by reason, and counts combined_dedup_skipped rows.
func (b *Builder) summarizeLedgers() (LedgerSummary, error) {
	summary := LedgerSummary{YellowPitchedByReason: map[model.PitchReason]int64{}}

	passed, err := countLines(filepath.Join(b.roots.LedgerRoot, "yellow_passed.jsonl"))
	if err != nil {
		return LedgerSummary{}, model.NewError("catalog.ledger_yellow_passed", model.ClassResource, "", err)
	}
	summary.YellowPassed = passed

	err = decodeJSONLLines(filepath.Join(b.roots.LedgerRoot, "yellow_pitched.jsonl"), func(line []byte) error {
		var entry model.YellowPitchedEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return err
		}
		summary.YellowPitchedByReason[entry.Reason]++
		return nil
	})
	if err != nil {
		return LedgerSummary{}, model.NewError("catalog.ledger_yellow_pitched", model.ClassResource, "", err)
	}

	skips, err := countLines(filepath.Join(b.roots.LedgerRoot, "combined_dedup_skipped.jsonl"))
	if err != nil {
		return LedgerSummary{}, model.NewError("catalog.ledger_dedup_skipped", model.ClassResource, "", err)
	}
	summary.DedupeSkips = skips

	return summary, nil
}

// collectFailedTargets walks the raw root for acquire_done.json
// manifests reporting a failed or oversized status, returning
// target_id-sorted §4.7 failed_targets entries. A classifier-stage
// failure halts before any manifest exists for that target; the
// orchestrator observes it directly and reports it via
// AddFailedTargets, merged into Build's result rather than discovered
// here.
func (b *Builder) collectFailedTargets() ([]model.FailedTarget, error) {
	var failed []model.FailedTarget

	err := filepath.Walk(b.roots.RawRoot, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if info.IsDir() || filepath.Base(path) != "acquire_done.json" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		var manifest struct {
			TargetID string `json:"target_id"`
			Status   string `json:"status"`
			Error    string `json:"error"`
		}
		if err := json.Unmarshal(data, &manifest); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		switch manifest.Status {
		case string(model.AcquireFailed), string(model.AcquireOversized):
			failed = append(failed, model.FailedTarget{
				TargetID: manifest.TargetID,
				Stage:    "acquire",
				Error:    manifest.Error,
			})
		}
		return nil
	})
	if err != nil {
		return nil, model.NewError("catalog.failed_targets", model.ClassResource, "", err)
	}

	sort.Slice(failed, func(i, j int) bool { return failed[i].TargetID < failed[j].TargetID })
	return failed, nil
}

// countLines returns the number of non-blank lines in path, or 0 if
// path doesn't exist.
func countLines(path string) (int64, error) {
	var n int64
	err := decodeJSONLLines(path, func([]byte) error {
		n++
		return nil
	})
	return n, err
}

// decodeJSONLLines calls fn once per non-blank line of path. A missing
// file is a no-op, not an error, since a run that produced no YELLOW or
// dedupe activity leaves these ledgers absent rather than empty.
func decodeJSONLLines(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return scanner.Err()
}
