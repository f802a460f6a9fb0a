package merge

import (
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FoilMiser/dataset-collector/internal/kernel"
	"github.com/FoilMiser/dataset-collector/internal/model"
)

func writeSourceShard(t *testing.T, dir, name string, records []model.CanonicalRecord) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := gzip.NewWriter(f)
	defer gz.Close()
	enc := json.NewEncoder(gz)
	for _, r := range records {
		require.NoError(t, enc.Encode(r))
	}
	return path
}

func testRoots(t *testing.T) Roots {
	base := t.TempDir()
	return Roots{
		CombinedRoot: filepath.Join(base, "combined"),
		IndexRoot:    filepath.Join(base, "index"),
		LedgerRoot:   filepath.Join(base, "ledger"),
	}
}

func rec(id, hash string) model.CanonicalRecord {
	return model.CanonicalRecord{
		RecordID: id,
		Text:     "text-" + id,
		Hash:     model.RecordHash{ContentSHA256: hash},
	}
}

func TestMergePool_DedupesAcrossShards(t *testing.T) {
	roots := testRoots(t)
	dir := t.TempDir()

	shard1 := writeSourceShard(t, dir, "a_shard_00000.jsonl.gz", []model.CanonicalRecord{
		rec("a1", "hash1"),
		rec("a2", "hash2"),
	})
	shard2 := writeSourceShard(t, dir, "b_shard_00000.jsonl.gz", []model.CanonicalRecord{
		rec("b1", "hash1"), // duplicate of a1
		rec("b2", "hash3"),
	})

	m := New(roots, 10, 0)
	summary, err := m.MergePool("run1", model.PoolPermissive, []SourceShard{
		{TargetID: "target-b", Path: shard2},
		{TargetID: "target-a", Path: shard1},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Merged)
	assert.Equal(t, 1, summary.Skipped)

	skipped, err := os.ReadFile(filepath.Join(roots.LedgerRoot, "combined_dedup_skipped.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(skipped), "hash1")

	index, err := os.ReadFile(filepath.Join(roots.LedgerRoot, "combined_index.jsonl"))
	require.NoError(t, err)
	lines := 0
	for _, b := range index {
		if b == '\n' {
			lines++
		}
	}
	assert.Equal(t, 3, lines)
}

func TestMergePool_OrdersInputsByTargetThenShardName(t *testing.T) {
	roots := testRoots(t)
	dir := t.TempDir()

	shardA := writeSourceShard(t, dir, "alpha_shard_00000.jsonl.gz", []model.CanonicalRecord{rec("a1", "hashA")})
	shardZ := writeSourceShard(t, dir, "zulu_shard_00000.jsonl.gz", []model.CanonicalRecord{rec("z1", "hashZ")})

	m := New(roots, 10, 0)
	summary, err := m.MergePool("run1", model.PoolPermissive, []SourceShard{
		{TargetID: "zulu", Path: shardZ},
		{TargetID: "alpha", Path: shardA},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Merged)

	shards, err := filepath.Glob(filepath.Join(roots.CombinedRoot, "permissive", "shards", "combined_*.jsonl.gz"))
	require.NoError(t, err)
	require.Len(t, shards, 1)
}

func TestMergePool_RollsAtConfiguredRecordCount(t *testing.T) {
	roots := testRoots(t)
	dir := t.TempDir()

	shard := writeSourceShard(t, dir, "a_shard_00000.jsonl.gz", []model.CanonicalRecord{
		rec("r1", "h1"), rec("r2", "h2"), rec("r3", "h3"),
	})

	m := New(roots, 2, 0)
	summary, err := m.MergePool("run1", model.PoolPermissive, []SourceShard{{TargetID: "a", Path: shard}})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Merged)

	shards, err := filepath.Glob(filepath.Join(roots.CombinedRoot, "permissive", "shards", "combined_*.jsonl.gz"))
	require.NoError(t, err)
	assert.Len(t, shards, 2)
}

func TestMergePool_RejectsPartialShardsFromPriorCrash(t *testing.T) {
	roots := testRoots(t)
	dir := t.TempDir()
	shard := writeSourceShard(t, dir, "a_shard_00000.jsonl.gz", []model.CanonicalRecord{rec("r1", "h1")})

	shardDir := filepath.Join(roots.CombinedRoot, "permissive", "shards")
	require.NoError(t, os.MkdirAll(shardDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(shardDir, "combined_00000.jsonl.gz.part"), []byte("stale"), 0o644))

	m := New(roots, 10, 0)
	_, err := m.MergePool("run1", model.PoolPermissive, []SourceShard{{TargetID: "a", Path: shard}})
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(shardDir, "combined_00000.jsonl.gz.part"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestBucketKey_UsesFirstHexByte(t *testing.T) {
	assert.Equal(t, "ab", bucketKey("abcdef"))
	assert.Equal(t, "00", bucketKey(""))
}

func TestSortShards_OrdersByTargetThenShardName(t *testing.T) {
	in := []SourceShard{
		{TargetID: "b", Path: "/x/b_shard_00001.jsonl.gz"},
		{TargetID: "a", Path: "/x/a_shard_00002.jsonl.gz"},
		{TargetID: "a", Path: "/x/a_shard_00001.jsonl.gz"},
	}
	out := SortShards(in)
	assert.Equal(t, "a_shard_00001.jsonl.gz", filepath.Base(out[0].Path))
	assert.Equal(t, "a_shard_00002.jsonl.gz", filepath.Base(out[1].Path))
	assert.Equal(t, "b_shard_00001.jsonl.gz", filepath.Base(out[2].Path))
}

func TestMergePool_SecondRunSkipsAlreadyIndexedHash(t *testing.T) {
	roots := testRoots(t)
	dir := t.TempDir()
	shard1 := writeSourceShard(t, dir, "a_shard_00000.jsonl.gz", []model.CanonicalRecord{rec("a1", "dup-hash")})

	m1 := New(roots, 10, 0)
	summary1, err := m1.MergePool("run1", model.PoolPermissive, []SourceShard{{TargetID: "a", Path: shard1}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary1.Merged)

	shard2 := writeSourceShard(t, dir, "b_shard_00000.jsonl.gz", []model.CanonicalRecord{rec("b1", "dup-hash")})
	m2 := New(roots, 10, 0)
	summary2, err := m2.MergePool("run2", model.PoolPermissive, []SourceShard{{TargetID: "b", Path: shard2}})
	require.NoError(t, err)
	assert.Equal(t, 0, summary2.Merged)
	assert.Equal(t, 1, summary2.Skipped)
}

func TestResetPartials_IsNoOpWithoutPriorPartFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, kernel.ResetPartials(dir))
}
