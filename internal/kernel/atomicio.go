// Package kernel provides the cross-cutting machinery every stage shares:
// atomic file writes, gzip-JSONL shard output, content hashing, path
// safety, filename sanitization, rate limiting, and checkpoint/resume —
// the C8 "shared kernel" of the pipeline.
package kernel

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteAtomic writes data to path by first writing path+".part", fsyncing
// it, then renaming it into place. Every final artifact the pipeline
// produces — manifests, ledger snapshots, catalogs, evidence sidecars —
// goes through this so a crash mid-write never corrupts the final file;
// at worst a ".part" sibling is left behind (§4.8, §8).
func WriteAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", path, err)
	}

	partPath := path + ".part"
	f, err := os.OpenFile(partPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", partPath, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(partPath)
		return fmt.Errorf("write %s: %w", partPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(partPath)
		return fmt.Errorf("fsync %s: %w", partPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(partPath)
		return fmt.Errorf("close %s: %w", partPath, err)
	}

	if err := os.Rename(partPath, path); err != nil {
		return fmt.Errorf("rename %s to %s: %w", partPath, path, err)
	}
	return nil
}

// AppendLine appends a single complete line to path, opening it with
// O_APPEND so concurrent writers never interleave partial lines — the
// atomicity-at-the-line-level ledgers rely on (§5, §4.8).
func AppendLine(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(append([]byte{}, line...), '\n')
	}
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append to %s: %w", path, err)
	}
	return nil
}

// ResetPartials removes any "<name>.part" file under root — partial
// shards or manifests left by a prior crash (§4.6, §8). Completed
// artifacts never carry the suffix, so this is always safe to call at
// stage startup before resume.
func ResetPartials(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".part" {
			return os.Remove(path)
		}
		return nil
	})
}
