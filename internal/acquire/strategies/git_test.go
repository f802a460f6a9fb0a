package strategies

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FoilMiser/dataset-collector/internal/acquire"
	"github.com/FoilMiser/dataset-collector/internal/model"
)

func TestGitStrategy_RequiresToolsNamesGit(t *testing.T) {
	s := NewGitStrategy()
	assert.Equal(t, []string{"git"}, s.RequiresTools())
	assert.Equal(t, []string{"repo_url"}, s.RequiredParams())
}

func TestGitStrategy_ClonesShallowRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}

	srcDir := t.TempDir()
	runGit(t, srcDir, "init")
	runGit(t, srcDir, "config", "user.email", "test@example.com")
	runGit(t, srcDir, "config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "README.md"), []byte("hello"), 0o644))
	runGit(t, srcDir, "add", "README.md")
	runGit(t, srcDir, "commit", "-m", "initial")

	s := NewGitStrategy()
	destDir := t.TempDir()
	outcome, err := s.Fetch(context.Background(), acquire.FetchRequest{
		Params:   map[string]interface{}{"repo_url": srcDir},
		DestDir:  destDir,
		MaxBytes: 1 << 20,
	})
	require.NoError(t, err)
	assert.Equal(t, model.AcquireOK, outcome.Status)
	assert.NotEmpty(t, outcome.Files)
}

func TestGitStrategy_CloneFailureReturnsFailedStatus(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	s := NewGitStrategy()
	outcome, err := s.Fetch(context.Background(), acquire.FetchRequest{
		Params:  map[string]interface{}{"repo_url": "/nonexistent/repo/path"},
		DestDir: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t, model.AcquireFailed, outcome.Status)
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
}
