package kernel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "catalog.json")

	require.NoError(t, WriteAtomic(path, []byte(`{"ok":true}`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))

	_, err = os.Stat(path + ".part")
	assert.True(t, os.IsNotExist(err), "no .part sibling should remain after a successful write")
}

func TestAppendLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.jsonl")

	require.NoError(t, AppendLine(path, []byte(`{"a":1}`)))
	require.NoError(t, AppendLine(path, []byte(`{"a":2}`+"\n")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\n{\"a\":2}\n", string(data))
}

func TestResetPartials(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shard_00001.jsonl.gz.part"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shard_00000.jsonl.gz"), []byte("y"), 0o644))

	require.NoError(t, ResetPartials(dir))

	_, err := os.Stat(filepath.Join(dir, "shard_00001.jsonl.gz.part"))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(dir, "shard_00000.jsonl.gz"))
	assert.NoError(t, err, "completed shards must survive ResetPartials")
}
