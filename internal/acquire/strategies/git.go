package strategies

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/FoilMiser/dataset-collector/internal/acquire"
	"github.com/FoilMiser/dataset-collector/internal/model"
)

// GitStrategy implements the "git" strategy: a shallow clone of
// params["repo_url"] (optionally at params["ref"]) via the system git
// binary, declared in RequiresTools so the orchestrator's preflight
// checks for it (§4.9).
type GitStrategy struct{}

func NewGitStrategy() *GitStrategy { return &GitStrategy{} }

func (s *GitStrategy) RequiredParams() []string { return []string{"repo_url"} }
func (s *GitStrategy) RequiresTools() []string   { return []string{"git"} }

func (s *GitStrategy) Fetch(ctx context.Context, req acquire.FetchRequest) (acquire.FetchOutcome, error) {
	repoURL, _ := req.Params["repo_url"].(string)
	ref, _ := req.Params["ref"].(string)

	if err := os.MkdirAll(req.DestDir, 0o755); err != nil {
		return acquire.FetchOutcome{Status: model.AcquireFailed, Error: err.Error()}, nil
	}
	cloneDir := filepath.Join(req.DestDir, "repo")

	args := []string{"clone", "--depth", "1"}
	if ref != "" {
		args = append(args, "--branch", ref)
	}
	args = append(args, repoURL, cloneDir)

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = req.DestDir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return acquire.FetchOutcome{Status: model.AcquireFailed, Error: fmt.Sprintf("git clone: %v: %s", err, output)}, nil
	}

	var totalBytes int64
	var files []acquire.FileResult
	err = filepath.Walk(cloneDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		totalBytes += info.Size()
		if !req.AllowHugeDownload && req.MaxBytes > 0 && totalBytes > req.MaxBytes {
			return fmt.Errorf("clone exceeds max_bytes_per_target budget")
		}
		files = append(files, acquire.FileResult{Path: path, Bytes: info.Size()})
		return nil
	})
	if err != nil {
		return acquire.FetchOutcome{Status: model.AcquireOversized, Error: err.Error()}, nil
	}

	return acquire.FetchOutcome{Status: model.AcquireOK, BytesWritten: totalBytes, Files: files}, nil
}
