package kernel

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	ID int `json:"id"`
}

func readShard(t *testing.T, path string) []testRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	var out []testRecord
	dec := json.NewDecoder(gz)
	for {
		var r testRecord
		if err := dec.Decode(&r); err != nil {
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
		}
		out = append(out, r)
	}
	return out
}

func TestShardWriter_RollsAtCapacity(t *testing.T) {
	dir := t.TempDir()
	w, err := NewShardWriter(dir, "yellow_passed", 2, 0)
	require.NoError(t, err)

	name1, err := w.Write(testRecord{ID: 1})
	require.NoError(t, err)
	name2, err := w.Write(testRecord{ID: 2})
	require.NoError(t, err)
	name3, err := w.Write(testRecord{ID: 3})
	require.NoError(t, err)

	assert.Equal(t, name1, name2, "first two records share the first shard")
	assert.NotEqual(t, name2, name3, "third record rolls into a new shard")

	require.NoError(t, w.Close())

	shards, err := ShardsInOrder(dir, "yellow_passed")
	require.NoError(t, err)
	require.Len(t, shards, 2)

	first := readShard(t, filepath.Join(dir, shards[0]))
	assert.Equal(t, []testRecord{{ID: 1}, {ID: 2}}, first)

	second := readShard(t, filepath.Join(dir, shards[1]))
	assert.Equal(t, []testRecord{{ID: 3}}, second)

	for _, name := range shards {
		_, err := os.Stat(filepath.Join(dir, name) + ".part")
		assert.True(t, os.IsNotExist(err))
	}
}

func TestNextShardSequence(t *testing.T) {
	dir := t.TempDir()

	seq, err := NextShardSequence(dir, "combined")
	require.NoError(t, err)
	assert.Equal(t, 0, seq)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "combined_00000.jsonl.gz"), []byte{}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "combined_00003.jsonl.gz"), []byte{}, 0o644))

	seq, err = NextShardSequence(dir, "combined")
	require.NoError(t, err)
	assert.Equal(t, 4, seq)
}
