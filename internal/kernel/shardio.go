package kernel

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ShardWriter rolls gzip-compressed JSONL shards under a directory,
// naming them "<prefix>_NNNNN.jsonl.gz" in allocation order (§4.5, §4.6).
// Writes go to a ".part" sibling and are only renamed into their final
// name when the shard rolls or Close is called, so a crash mid-shard
// leaves a reclaimable ".part" and never a corrupt final shard (§4.6
// "partial shards are detected by .part suffix and reset on startup").
type ShardWriter struct {
	dir        string
	prefix     string
	maxRecords int

	next     int
	cur      *os.File
	gz       *gzip.Writer
	enc      *json.Encoder
	count    int
	curName  string
	partPath string
}

// NewShardWriter creates a writer rooted at dir. next is the first shard
// sequence number to allocate (resume continues from the highest
// existing completed shard + 1; callers compute this via
// NextShardSequence).
func NewShardWriter(dir, prefix string, maxRecords, next int) (*ShardWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create shard dir %s: %w", dir, err)
	}
	if maxRecords <= 0 {
		maxRecords = 1
	}
	return &ShardWriter{dir: dir, prefix: prefix, maxRecords: maxRecords, next: next}, nil
}

// NextShardSequence scans dir for "<prefix>_NNNNN.jsonl.gz" files and
// returns one past the highest sequence found (0 if none exist),
// allowing a resumed run to continue shard allocation deterministically.
func NextShardSequence(dir, prefix string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	highest := -1
	for _, e := range entries {
		var n int
		if _, err := fmt.Sscanf(e.Name(), prefix+"_%05d.jsonl.gz", &n); err == nil {
			if n > highest {
				highest = n
			}
		}
	}
	return highest + 1, nil
}

func (w *ShardWriter) open() error {
	name := fmt.Sprintf("%s_%05d.jsonl.gz", w.prefix, w.next)
	w.curName = name
	w.partPath = filepath.Join(w.dir, name+".part")

	f, err := os.OpenFile(w.partPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open shard %s: %w", w.partPath, err)
	}
	w.cur = f
	w.gz = gzip.NewWriter(f)
	w.enc = json.NewEncoder(w.gz)
	w.count = 0
	return nil
}

// Write appends one record to the current shard, rolling to a new shard
// first if the current one is at capacity. Returns the shard filename
// (final name, not the in-progress ".part" path) the record landed in.
func (w *ShardWriter) Write(record interface{}) (string, error) {
	if w.cur == nil {
		if err := w.open(); err != nil {
			return "", err
		}
	}
	if w.count >= w.maxRecords {
		if err := w.roll(); err != nil {
			return "", err
		}
		if err := w.open(); err != nil {
			return "", err
		}
	}
	if err := w.enc.Encode(record); err != nil {
		return "", fmt.Errorf("encode record into %s: %w", w.curName, err)
	}
	w.count++
	return w.curName, nil
}

func (w *ShardWriter) roll() error {
	if w.cur == nil {
		return nil
	}
	if err := w.gz.Close(); err != nil {
		return fmt.Errorf("close gzip stream for %s: %w", w.curName, err)
	}
	if err := w.cur.Sync(); err != nil {
		return fmt.Errorf("fsync shard %s: %w", w.curName, err)
	}
	if err := w.cur.Close(); err != nil {
		return fmt.Errorf("close shard file %s: %w", w.curName, err)
	}
	finalPath := filepath.Join(w.dir, w.curName)
	if err := os.Rename(w.partPath, finalPath); err != nil {
		return fmt.Errorf("rename shard %s into place: %w", w.curName, err)
	}
	w.cur = nil
	w.gz = nil
	w.enc = nil
	w.next++
	return nil
}

// Close rolls and finalizes the current shard, if any is open. Calling
// Close on a writer with zero records written for the current shard
// still finalizes an empty shard file; callers that want to avoid empty
// trailing shards should track count themselves.
func (w *ShardWriter) Close() error {
	return w.roll()
}

// ShardsInOrder lists "<prefix>_NNNNN.jsonl.gz" files under dir sorted by
// sequence number, matching the deterministic (target_id, shard_name)
// ordering §4.6 requires for stable merge output.
func ShardsInOrder(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
