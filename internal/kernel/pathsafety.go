package kernel

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPathTraversal indicates a path traversal attempt was rejected.
var ErrPathTraversal = fmt.Errorf("path traversal attempt detected")

// EnsureUnderRoot resolves path (relative paths are joined onto root
// first) and rejects it if the resolved, cleaned path escapes root. Used
// to keep acquisition writes under raw/{bucket}/{pool}/{target}/… and to
// enforce archive per-entry path containment (§4.8).
func EnsureUnderRoot(path, root string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if root == "" {
		return "", fmt.Errorf("root cannot be empty")
	}

	cleanRoot, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return "", fmt.Errorf("invalid root directory: %w", err)
	}

	var absPath string
	if filepath.IsAbs(path) {
		absPath = filepath.Clean(path)
	} else {
		absPath = filepath.Clean(filepath.Join(cleanRoot, path))
	}

	rootWithSep := cleanRoot
	if !strings.HasSuffix(rootWithSep, string(filepath.Separator)) {
		rootWithSep += string(filepath.Separator)
	}

	if absPath == cleanRoot {
		return absPath, nil
	}
	if !strings.HasPrefix(absPath+string(filepath.Separator), rootWithSep) {
		return "", ErrPathTraversal
	}
	return absPath, nil
}

// ArchiveGuard bounds archive extraction: every entry must resolve under
// destRoot, match one of allowedTypes by extension, and the running total
// of extracted bytes must stay under maxTotalBytes (§4.8).
type ArchiveGuard struct {
	DestRoot      string
	AllowedExts   map[string]bool
	MaxTotalBytes int64

	extracted int64
}

// CheckEntry validates one archive entry before it is written, returning
// the safe destination path or an error.
func (g *ArchiveGuard) CheckEntry(entryName string, entrySize int64) (string, error) {
	dest, err := EnsureUnderRoot(entryName, g.DestRoot)
	if err != nil {
		return "", fmt.Errorf("archive entry %q: %w", entryName, err)
	}
	if len(g.AllowedExts) > 0 {
		ext := strings.ToLower(filepath.Ext(entryName))
		if !g.AllowedExts[ext] {
			return "", fmt.Errorf("archive entry %q: disallowed type %q", entryName, ext)
		}
	}
	g.extracted += entrySize
	if g.MaxTotalBytes > 0 && g.extracted > g.MaxTotalBytes {
		return "", fmt.Errorf("archive extraction exceeds cap of %d bytes", g.MaxTotalBytes)
	}
	return dest, nil
}
