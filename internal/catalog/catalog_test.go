package catalog

import (
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FoilMiser/dataset-collector/internal/model"
)

func testRoots(t *testing.T) Roots {
	base := t.TempDir()
	return Roots{
		RawRoot:            filepath.Join(base, "raw"),
		ScreenedYellowRoot: filepath.Join(base, "screened_yellow"),
		CombinedRoot:       filepath.Join(base, "combined"),
		ManifestsRoot:      filepath.Join(base, "manifests"),
		LedgerRoot:         filepath.Join(base, "ledger"),
		CatalogsRoot:       filepath.Join(base, "catalogs"),
	}
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func writeGzipShard(t *testing.T, path string, records []model.CanonicalRecord) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	gz := gzip.NewWriter(f)
	defer gz.Close()
	enc := json.NewEncoder(gz)
	for _, r := range records {
		require.NoError(t, enc.Encode(r))
	}
}

func writeJSONLLine(t *testing.T, path string, v interface{}) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	require.NoError(t, err)
	defer f.Close()
	enc := json.NewEncoder(f)
	require.NoError(t, enc.Encode(v))
}

func TestBuild_StageAndPoolStats(t *testing.T) {
	roots := testRoots(t)

	writeFile(t, filepath.Join(roots.RawRoot, "green", "permissive", "t1", "page.html"), []byte("hello world"))
	writeGzipShard(t, filepath.Join(roots.ScreenedYellowRoot, "permissive", "t2", "yellow_shard_00000.jsonl.gz"),
		[]model.CanonicalRecord{{RecordID: "r1"}})
	writeGzipShard(t, filepath.Join(roots.CombinedRoot, "permissive", "shards", "combined_00000.jsonl.gz"),
		[]model.CanonicalRecord{{RecordID: "c1"}, {RecordID: "c2"}})
	writeGzipShard(t, filepath.Join(roots.CombinedRoot, "copyleft", "shards", "combined_00000.jsonl.gz"),
		[]model.CanonicalRecord{{RecordID: "c3"}})

	b := New(roots, "run1", "policyhash123")
	cat, err := b.Build()
	require.NoError(t, err)

	assert.Equal(t, int64(1), cat.Stages["raw"].Files)
	assert.Equal(t, int64(1), cat.Stages["screened_yellow"].Files)
	assert.Equal(t, int64(2), cat.Stages["combined"].Files)

	assert.Equal(t, int64(1), cat.Pools[model.PoolPermissive].Files)
	assert.Equal(t, int64(1), cat.Pools[model.PoolCopyleft].Files)
	assert.Equal(t, int64(0), cat.Pools[model.PoolQuarantine].Files)
	assert.Equal(t, "run1", cat.RunID)
	assert.Equal(t, "policyhash123", cat.PolicySnapshotHash)
	assert.Equal(t, ToolVersion, cat.ToolVersion)
}

func TestBuild_SkipsPartFiles(t *testing.T) {
	roots := testRoots(t)
	writeFile(t, filepath.Join(roots.CombinedRoot, "permissive", "shards", "combined_00001.jsonl.gz.part"), []byte("stale"))

	b := New(roots, "run1", "hash")
	cat, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, int64(0), cat.Stages["combined"].Files)
	assert.Equal(t, int64(0), cat.Pools[model.PoolPermissive].Files)
}

func TestBuild_SummarizesLedgers(t *testing.T) {
	roots := testRoots(t)

	writeJSONLLine(t, filepath.Join(roots.LedgerRoot, "yellow_passed.jsonl"), model.YellowPassedEntry{RecordID: "a"})
	writeJSONLLine(t, filepath.Join(roots.LedgerRoot, "yellow_passed.jsonl"), model.YellowPassedEntry{RecordID: "b"})

	writeJSONLLine(t, filepath.Join(roots.LedgerRoot, "yellow_pitched.jsonl"), model.YellowPitchedEntry{Reason: model.ReasonTextTooShort})
	writeJSONLLine(t, filepath.Join(roots.LedgerRoot, "yellow_pitched.jsonl"), model.YellowPitchedEntry{Reason: model.ReasonTextTooShort})
	writeJSONLLine(t, filepath.Join(roots.LedgerRoot, "yellow_pitched.jsonl"), model.YellowPitchedEntry{Reason: model.ReasonDenyPhraseHit})

	writeJSONLLine(t, filepath.Join(roots.LedgerRoot, "combined_dedup_skipped.jsonl"), model.CombinedDedupSkippedEntry{ContentSHA256: "h1"})

	b := New(roots, "run1", "hash")
	cat, err := b.Build()
	require.NoError(t, err)

	assert.Equal(t, int64(2), cat.Ledgers.YellowPassed)
	assert.Equal(t, int64(2), cat.Ledgers.YellowPitchedByReason[model.ReasonTextTooShort])
	assert.Equal(t, int64(1), cat.Ledgers.YellowPitchedByReason[model.ReasonDenyPhraseHit])
	assert.Equal(t, int64(1), cat.Ledgers.DedupeSkips)
}

func TestBuild_MissingLedgersAreZero(t *testing.T) {
	roots := testRoots(t)
	b := New(roots, "run1", "hash")
	cat, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, int64(0), cat.Ledgers.YellowPassed)
	assert.Equal(t, int64(0), cat.Ledgers.DedupeSkips)
	assert.Empty(t, cat.Ledgers.YellowPitchedByReason)
}

func TestBuild_CollectsFailedTargetsSortedByTargetID(t *testing.T) {
	roots := testRoots(t)

	writeFile(t, filepath.Join(roots.RawRoot, "green", "permissive", "zulu", "acquire_done.json"),
		mustJSON(t, map[string]interface{}{"target_id": "zulu", "status": "failed", "error": "timeout"}))
	writeFile(t, filepath.Join(roots.RawRoot, "green", "permissive", "alpha", "acquire_done.json"),
		mustJSON(t, map[string]interface{}{"target_id": "alpha", "status": "oversized", "error": "too big"}))
	writeFile(t, filepath.Join(roots.RawRoot, "green", "permissive", "ok1", "acquire_done.json"),
		mustJSON(t, map[string]interface{}{"target_id": "ok1", "status": "ok"}))

	b := New(roots, "run1", "hash")
	cat, err := b.Build()
	require.NoError(t, err)

	require.Len(t, cat.FailedTargets, 2)
	assert.Equal(t, "alpha", cat.FailedTargets[0].TargetID)
	assert.Equal(t, "too big", cat.FailedTargets[0].Error)
	assert.Equal(t, "acquire", cat.FailedTargets[0].Stage)
	assert.Equal(t, "zulu", cat.FailedTargets[1].TargetID)
}

func TestBuild_MergesOrchestratorSuppliedFailedTargets(t *testing.T) {
	roots := testRoots(t)

	writeFile(t, filepath.Join(roots.RawRoot, "green", "permissive", "zulu", "acquire_done.json"),
		mustJSON(t, map[string]interface{}{"target_id": "zulu", "status": "failed", "error": "timeout"}))

	b := New(roots, "run1", "hash")
	b.AddFailedTargets([]model.FailedTarget{
		{TargetID: "classify-casualty", Stage: "classify", Error: "evidence fetch aborted"},
	})
	cat, err := b.Build()
	require.NoError(t, err)

	require.Len(t, cat.FailedTargets, 2)
	assert.Equal(t, "classify-casualty", cat.FailedTargets[0].TargetID)
	assert.Equal(t, "classify", cat.FailedTargets[0].Stage)
	assert.Equal(t, "zulu", cat.FailedTargets[1].TargetID)
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestWrite_WritesAtomicCatalogJSON(t *testing.T) {
	roots := testRoots(t)
	b := New(roots, "run1", "hash")

	cat, digest, err := b.Write()
	require.NoError(t, err)
	assert.Equal(t, "run1", cat.RunID)
	assert.NotEmpty(t, digest)

	path := filepath.Join(roots.CatalogsRoot, "catalog.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var written Catalog
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Equal(t, "run1", written.RunID)

	_, statErr := os.Stat(path + ".part")
	assert.True(t, os.IsNotExist(statErr))
}

func TestCompatibleToolVersion(t *testing.T) {
	ok, err := CompatibleToolVersion("1.2.0", "1.0.0")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CompatibleToolVersion("0.9.0", "1.0.0")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = CompatibleToolVersion("not-a-version", "1.0.0")
	assert.Error(t, err)
}

func TestWalkStats_MissingRootIsZero(t *testing.T) {
	stats, err := walkStats(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Files)
	assert.Equal(t, int64(0), stats.Bytes)
}
