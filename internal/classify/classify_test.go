package classify

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FoilMiser/dataset-collector/internal/config"
	"github.com/FoilMiser/dataset-collector/internal/model"
	"github.com/FoilMiser/dataset-collector/internal/policy"
)

type fakeFetcher struct {
	snap *model.EvidenceSnapshot
	err  error
}

func (f *fakeFetcher) Fetch(targetID, url string) (*model.EvidenceSnapshot, error) {
	return f.snap, f.err
}

func testStore(t *testing.T) *policy.Store {
	t.Helper()
	loaded := &config.LoadedConfig{
		Targets: &model.TargetsConfig{},
		LicenseMap: model.LicenseMap{
			SPDX: model.SPDXPolicy{
				Allow:        []string{"MIT"},
				Conditional:  []string{"CC-BY-4.0"},
				DenyPrefixes: []string{"CC-BY-NC"},
			},
			Normalization: model.Normalization{
				Rules: []model.SPDXRule{
					{MatchAny: []string{"MIT"}, SPDX: "MIT", Confidence: 0.9},
					{MatchAny: []string{"CC-BY-NC"}, SPDX: "CC-BY-NC-4.0", Confidence: 0.9},
					{MatchAny: []string{"CC-BY-4.0"}, SPDX: "CC-BY-4.0", Confidence: 0.9},
				},
			},
			Gating: model.Gating{
				UnknownSPDXBucket:       model.BucketYellow,
				ConditionalSPDXBucket:   model.BucketYellow,
				DenySPDXBucket:          model.BucketRed,
				RestrictionPhraseBucket: model.BucketYellow,
			},
			Profiles: map[string]model.ProfileRule{
				"permissive": {DefaultBucket: model.BucketGreen},
			},
			RestrictionScan: model.RestrictionScan{Phrases: []string{"no ai"}},
		},
		Denylist: model.Denylist{
			Patterns: []model.DenylistPattern{
				{Type: model.PatternDomain, Value: "banned.example.org", Severity: model.SeverityHardRed, Link: "l", Rationale: "r"},
			},
		},
	}
	store, err := policy.Load(loaded)
	require.NoError(t, err)
	return store
}

func TestClassify_GreenOnAllowedSPDX(t *testing.T) {
	store := testStore(t)
	// The declared hint says nothing useful; the fetched evidence page is
	// what actually names the license (spec.md §8 scenario 1).
	fetcher := &fakeFetcher{snap: &model.EvidenceSnapshot{
		TargetID:      "t1",
		ExtractedText: "Licensed under the MIT License",
	}}
	c := New(store, fetcher, t.TempDir())

	target := model.Target{
		ID:              "t1",
		LicenseProfile:  model.ProfilePermissive,
		LicenseEvidence: model.LicenseEvidence{URL: "https://example.org/license", SPDXHint: "unknown"},
		Download:        model.Download{Strategy: "http", Params: map[string]interface{}{"url": "https://example.org/data.zip"}},
	}

	res, err := c.Classify(target)
	require.NoError(t, err)
	assert.Equal(t, model.BucketGreen, res.Row.Bucket)
	assert.Equal(t, model.PoolPermissive, res.Row.LicensePool)
	assert.Equal(t, "MIT", res.Row.ResolvedSPDX)
	assert.GreaterOrEqual(t, res.Row.SPDXConfidence, 0.9)
}

func TestClassify_YellowOnRestrictionPhraseInFetchedEvidence(t *testing.T) {
	store := testStore(t)
	// The hint declares a permissive license, but the fetched page itself
	// carries a restriction phrase (spec.md §8 scenario 2) — the fetched
	// text must win.
	fetcher := &fakeFetcher{snap: &model.EvidenceSnapshot{
		TargetID:      "t1",
		ExtractedText: "Free to use. No AI training permitted.",
	}}
	c := New(store, fetcher, t.TempDir())

	target := model.Target{
		ID:              "t1",
		LicenseProfile:  model.ProfilePermissive,
		LicenseEvidence: model.LicenseEvidence{URL: "https://example.org/license", SPDXHint: "MIT"},
		Download:        model.Download{Strategy: "http", Params: map[string]interface{}{"url": "https://example.org/data.zip"}},
	}

	res, err := c.Classify(target)
	require.NoError(t, err)
	assert.Equal(t, model.BucketYellow, res.Row.Bucket)
	assert.Equal(t, []string{"no ai"}, res.Row.RestrictionHits)
}

func TestClassify_FallsBackToHintWhenNoFetchedTextAvailable(t *testing.T) {
	store := testStore(t)
	// Extraction failed (e.g. a PDF): no extracted text, so the declared
	// hint is the only signal available, and confidence reflects that.
	fetcher := &fakeFetcher{snap: &model.EvidenceSnapshot{
		TargetID:             "t1",
		TextExtractionFailed: true,
	}}
	c := New(store, fetcher, t.TempDir())

	target := model.Target{
		ID:              "t1",
		LicenseProfile:  model.ProfilePermissive,
		LicenseEvidence: model.LicenseEvidence{URL: "https://example.org/license", SPDXHint: "Licensed under MIT"},
		Download:        model.Download{Strategy: "http", Params: map[string]interface{}{"url": "https://example.org/data.zip"}},
	}

	res, err := c.Classify(target)
	require.NoError(t, err)
	assert.Equal(t, "MIT", res.Row.ResolvedSPDX)
	assert.Less(t, res.Row.SPDXConfidence, 0.9)
}

func TestClassify_RedOnDenylistHardRed(t *testing.T) {
	store := testStore(t)
	fetcher := &fakeFetcher{snap: &model.EvidenceSnapshot{TargetID: "t1"}}
	c := New(store, fetcher, t.TempDir())

	target := model.Target{
		ID:             "t1",
		LicenseProfile: model.ProfilePermissive,
		Download:       model.Download{Strategy: "http", Params: map[string]interface{}{"url": "https://banned.example.org/data.zip"}},
	}

	res, err := c.Classify(target)
	require.NoError(t, err)
	assert.Equal(t, model.BucketRed, res.Row.Bucket)
	assert.Equal(t, "denylist_hard_red", res.Row.RejectReason)
}

func TestClassify_RedOnSPDXDenyPrefix(t *testing.T) {
	store := testStore(t)
	fetcher := &fakeFetcher{snap: &model.EvidenceSnapshot{
		TargetID:      "t1",
		ExtractedText: "Licensed under CC-BY-NC",
	}}
	c := New(store, fetcher, t.TempDir())

	target := model.Target{
		ID:              "t1",
		LicenseProfile:  model.ProfilePermissive,
		LicenseEvidence: model.LicenseEvidence{URL: "https://example.org/l", SPDXHint: "CC-BY-NC"},
		Download:        model.Download{Strategy: "http"},
	}

	res, err := c.Classify(target)
	require.NoError(t, err)
	assert.Equal(t, model.BucketRed, res.Row.Bucket)
}

func TestClassify_YellowOnConditionalSPDX(t *testing.T) {
	store := testStore(t)
	fetcher := &fakeFetcher{snap: &model.EvidenceSnapshot{
		TargetID:      "t1",
		ExtractedText: "Licensed under CC-BY-4.0",
	}}
	c := New(store, fetcher, t.TempDir())

	target := model.Target{
		ID:              "t1",
		LicenseProfile:  model.ProfilePermissive,
		LicenseEvidence: model.LicenseEvidence{URL: "https://example.org/l", SPDXHint: "CC-BY-4.0"},
		Download:        model.Download{Strategy: "http"},
	}

	res, err := c.Classify(target)
	require.NoError(t, err)
	assert.Equal(t, model.BucketYellow, res.Row.Bucket)
}

func TestClassify_YellowOnRecordLevelProfile(t *testing.T) {
	store := testStore(t)
	fetcher := &fakeFetcher{snap: &model.EvidenceSnapshot{TargetID: "t1"}}
	c := New(store, fetcher, t.TempDir())

	target := model.Target{
		ID:             "t1",
		LicenseProfile: model.ProfileRecordLevel,
		Download:       model.Download{Strategy: "http"},
	}

	res, err := c.Classify(target)
	require.NoError(t, err)
	assert.Equal(t, model.BucketYellow, res.Row.Bucket)
	assert.Equal(t, model.PoolQuarantine, res.Row.LicensePool)
}

func TestClassify_ForceRedShortCircuits(t *testing.T) {
	store := testStore(t)
	fetcher := &fakeFetcher{}
	c := New(store, fetcher, t.TempDir())

	target := model.Target{ID: "t1", ForceRed: true, Download: model.Download{Strategy: "http"}}

	res, err := c.Classify(target)
	require.NoError(t, err)
	assert.Equal(t, model.BucketRed, res.Row.Bucket)
	assert.Equal(t, "declared_red", res.Row.RejectReason)
}

func TestClassify_ExplicitOutputPoolWins(t *testing.T) {
	store := testStore(t)
	fetcher := &fakeFetcher{snap: &model.EvidenceSnapshot{
		TargetID:      "t1",
		ExtractedText: "Licensed under the MIT License",
	}}
	c := New(store, fetcher, t.TempDir())

	target := model.Target{
		ID:              "t1",
		LicenseProfile:  model.ProfilePermissive,
		LicenseEvidence: model.LicenseEvidence{URL: "https://example.org/l", SPDXHint: "MIT"},
		Download:        model.Download{Strategy: "http"},
		Output:          &model.Output{Pool: "copyleft"},
	}

	res, err := c.Classify(target)
	require.NoError(t, err)
	assert.Equal(t, model.LicensePool("copyleft"), res.Row.LicensePool)
}

func TestReadQueue_MissingFileReturnsEmpty(t *testing.T) {
	rows, err := ReadQueue(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReadQueue_RoundTripsWrittenRows(t *testing.T) {
	queueDir := t.TempDir()
	manifestDir := t.TempDir()

	green := Result{
		Row: model.QueueRow{TargetID: "g1", Bucket: model.BucketGreen, ManifestDir: manifestDir},
	}
	yellow := Result{
		Row: model.QueueRow{TargetID: "y1", Bucket: model.BucketYellow, ManifestDir: manifestDir},
	}
	red := Result{
		Row: model.QueueRow{TargetID: "r1", Bucket: model.BucketRed, ManifestDir: manifestDir},
	}
	require.NoError(t, WriteResult(queueDir, green))
	require.NoError(t, WriteResult(queueDir, yellow))
	require.NoError(t, WriteResult(queueDir, red))

	rows, err := ReadQueue(queueDir)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "g1", rows[0].TargetID)
	assert.Equal(t, "y1", rows[1].TargetID)

	// RED rows never land in queue.jsonl.
	_, err = filepath.Abs(filepath.Join(queueDir, "red_rejected.jsonl"))
	require.NoError(t, err)
}
