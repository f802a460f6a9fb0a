// Package merge implements the merger (C6): bucketed dedupe of canonical
// records by content hash into combined, pool-scoped shards.
package merge

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/FoilMiser/dataset-collector/internal/kernel"
	"github.com/FoilMiser/dataset-collector/internal/model"
)

const defaultExpectedPerBucket = 100_000
const defaultFalsePositiveRate = 0.001

// Roots bundles the filesystem locations the merger reads from and
// writes to, mirroring globals.{combined_root,ledger_root} plus a
// dedicated directory for the per-bucket on-disk indexes.
type Roots struct {
	CombinedRoot string
	IndexRoot    string
	LedgerRoot   string
}

// SourceShard is one input shard the merger streams records from. Callers
// (the orchestrator) supply these already sorted by (target_id,
// shard_name) per §4.6's ordering guarantee; SortShards enforces it
// defensively.
type SourceShard struct {
	TargetID string
	Path     string
}

// SortShards returns shards ordered by (TargetID, shard filename), the
// ordering §4.6 requires for a stable combined shard sequence across
// reruns over the same input set.
func SortShards(shards []SourceShard) []SourceShard {
	out := make([]SourceShard, len(shards))
	copy(out, shards)
	sort.Slice(out, func(i, j int) bool {
		if out[i].TargetID != out[j].TargetID {
			return out[i].TargetID < out[j].TargetID
		}
		return filepath.Base(out[i].Path) < filepath.Base(out[j].Path)
	})
	return out
}

type bucketState struct {
	filter *bloom.BloomFilter
	path   string
}

// Merger implements C6.
type Merger struct {
	roots              Roots
	maxRecordsPerShard int
	expectedPerBucket  uint
	falsePositiveRate  float64

	buckets map[string]*bucketState
}

// New builds a Merger. expectedElementsPerBucket sizes each bucket's
// Bloom prefilter (0 defaults to 100,000, enough headroom for a bucket's
// expected 1/256 share of a multi-million record corpus without
// meaningfully growing its false-positive rate).
func New(roots Roots, maxRecordsPerShard int, expectedElementsPerBucket uint) *Merger {
	if maxRecordsPerShard <= 0 {
		maxRecordsPerShard = 1
	}
	if expectedElementsPerBucket == 0 {
		expectedElementsPerBucket = defaultExpectedPerBucket
	}
	return &Merger{
		roots:              roots,
		maxRecordsPerShard: maxRecordsPerShard,
		expectedPerBucket:  expectedElementsPerBucket,
		falsePositiveRate:  defaultFalsePositiveRate,
		buckets:            map[string]*bucketState{},
	}
}

// Summary aggregates one merge run's outcome for one pool.
type Summary struct {
	Pool    model.LicensePool
	Merged  int
	Skipped int
}

// MergePool streams every record from shards into
// combined/{pool}/shards/, deduping on content_sha256 via a per-bucket
// Bloom prefilter backed by an on-disk sorted-key index for exact
// confirmation. First writer of a hash wins; subsequent duplicates are
// recorded in combined_dedup_skipped.jsonl.
func (m *Merger) MergePool(runID string, pool model.LicensePool, shards []SourceShard) (Summary, error) {
	summary := Summary{Pool: pool}

	shardDir := filepath.Join(m.roots.CombinedRoot, string(pool), "shards")
	if err := kernel.ResetPartials(shardDir); err != nil {
		return summary, model.NewError("merge.reset_partials", model.ClassResource, "", err)
	}
	next, err := kernel.NextShardSequence(shardDir, "combined")
	if err != nil {
		return summary, model.NewError("merge.shard_sequence", model.ClassResource, "", err)
	}
	writer, err := kernel.NewShardWriter(shardDir, "combined", m.maxRecordsPerShard, next)
	if err != nil {
		return summary, model.NewError("merge.open_shard_writer", model.ClassResource, "", err)
	}

	var lastShardName string
	var offsetInShard int64

	for _, src := range SortShards(shards) {
		records, err := readShardRecords(src.Path)
		if err != nil {
			return summary, model.NewError("merge.read_shard", model.ClassDedupe, src.TargetID, err)
		}

		for _, rec := range records {
			bucket := bucketKey(rec.Hash.ContentSHA256)
			state, err := m.bucketFor(bucket)
			if err != nil {
				return summary, model.NewError("merge.bucket_index", model.ClassDedupe, src.TargetID, err)
			}

			if state.filter.TestString(rec.Hash.ContentSHA256) {
				winner, found, err := lookupIndexEntry(state.path, rec.Hash.ContentSHA256)
				if err != nil {
					return summary, model.NewError("merge.bucket_index", model.ClassDedupe, src.TargetID, err)
				}
				if found {
					summary.Skipped++
					if err := m.appendDedupSkipped(runID, rec.Hash.ContentSHA256, src, winner); err != nil {
						return summary, err
					}
					continue
				}
			}

			shardName, err := writer.Write(rec)
			if err != nil {
				return summary, model.NewError("merge.write_shard", model.ClassResource, src.TargetID, err)
			}
			if shardName != lastShardName {
				lastShardName = shardName
				offsetInShard = 0
			} else {
				offsetInShard++
			}

			entry := model.CombinedIndexEntry{
				RunID:          runID,
				ContentSHA256:  rec.Hash.ContentSHA256,
				Shard:          shardName,
				RecordOffset:   offsetInShard,
				SourceTargetID: src.TargetID,
				LicensePool:    pool,
			}
			if err := m.appendIndexEntry(state.path, entry); err != nil {
				return summary, err
			}
			if err := m.appendCombinedIndex(entry); err != nil {
				return summary, err
			}
			state.filter.AddString(rec.Hash.ContentSHA256)
			summary.Merged++
		}
	}

	if err := writer.Close(); err != nil {
		return summary, model.NewError("merge.close_shard_writer", model.ClassResource, "", err)
	}
	return summary, nil
}

// bucketFor returns the bucket's Bloom prefilter and on-disk index path,
// lazily loading the filter from the existing index file the first time
// this bucket is touched in this Merger's lifetime.
func (m *Merger) bucketFor(bucket string) (*bucketState, error) {
	if st, ok := m.buckets[bucket]; ok {
		return st, nil
	}

	path := filepath.Join(m.roots.IndexRoot, fmt.Sprintf("bucket_%s.jsonl", bucket))
	filter := bloom.NewWithEstimates(m.expectedPerBucket, m.falsePositiveRate)

	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("open bucket index %s: %w", path, err)
		}
	} else {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var entry model.CombinedIndexEntry
			if err := json.Unmarshal([]byte(line), &entry); err != nil {
				return nil, fmt.Errorf("corrupt bucket index %s: %w", path, err)
			}
			filter.AddString(entry.ContentSHA256)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read bucket index %s: %w", path, err)
		}
	}

	st := &bucketState{filter: filter, path: path}
	m.buckets[bucket] = st
	return st, nil
}

// bucketKey maps a content hash to one of 256 buckets by its first hex
// byte (§4.6 "bucketed by the first byte of the hash").
func bucketKey(hash string) string {
	if len(hash) < 2 {
		return "00"
	}
	return strings.ToLower(hash[:2])
}

// lookupIndexEntry scans a bucket's on-disk index for an exact match,
// confirming (or refuting) a Bloom prefilter hit.
func lookupIndexEntry(path, hash string) (model.CombinedIndexEntry, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.CombinedIndexEntry{}, false, nil
		}
		return model.CombinedIndexEntry{}, false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry model.CombinedIndexEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return model.CombinedIndexEntry{}, false, fmt.Errorf("corrupt bucket index %s: %w", path, err)
		}
		if entry.ContentSHA256 == hash {
			return entry, true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return model.CombinedIndexEntry{}, false, err
	}
	return model.CombinedIndexEntry{}, false, nil
}

func (m *Merger) appendIndexEntry(path string, entry model.CombinedIndexEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return kernel.AppendLine(path, line)
}

func (m *Merger) appendCombinedIndex(entry model.CombinedIndexEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return kernel.AppendLine(filepath.Join(m.roots.LedgerRoot, "combined_index.jsonl"), line)
}

func (m *Merger) appendDedupSkipped(runID, hash string, src SourceShard, winner model.CombinedIndexEntry) error {
	entry := model.CombinedDedupSkippedEntry{
		RunID:           runID,
		ContentSHA256:   hash,
		SkippedTargetID: src.TargetID,
		SkippedShard:    filepath.Base(src.Path),
		WinningShard:    winner.Shard,
		WinningTargetID: winner.SourceTargetID,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return kernel.AppendLine(filepath.Join(m.roots.LedgerRoot, "combined_dedup_skipped.jsonl"), line)
}

func readShardRecords(path string) ([]model.CanonicalRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open gzip shard %s: %w", path, err)
	}
	defer gz.Close()

	var out []model.CanonicalRecord
	dec := json.NewDecoder(gz)
	for {
		var rec model.CanonicalRecord
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("decode shard %s: %w", path, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
