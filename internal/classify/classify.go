// Package classify implements the classifier (C3): for every enabled
// target it resolves evidence, normalizes SPDX, scans restriction
// phrases and the denylist, computes the bucket by precedence, and
// emits the queue row plus its evaluation manifest.
package classify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/FoilMiser/dataset-collector/internal/kernel"
	"github.com/FoilMiser/dataset-collector/internal/model"
	"github.com/FoilMiser/dataset-collector/internal/policy"
)

// Evidence-quality weights for NormalizeSPDX's confidence floor (§4.3
// step 3's "minimum of rule weight and evidence-quality weight"):
// full weight for raw, successfully extracted text; a reduced weight
// when extraction failed or there was no fetched text to scan at all,
// so a hint-only or extraction-failed match never reports full
// confidence.
const (
	fullEvidenceWeight    = 1.0
	extractionFailedWeight = 0.6
)

// EvidenceFetcher is the subset of evidence.Fetcher the classifier
// depends on, narrowed so tests can substitute a fake.
type EvidenceFetcher interface {
	Fetch(targetID, url string) (*model.EvidenceSnapshot, error)
}

// Classifier evaluates targets against a policy store and evidence
// fetcher, producing queue rows.
type Classifier struct {
	store       *policy.Store
	fetcher     EvidenceFetcher
	manifestRoot string
}

// New builds a Classifier.
func New(store *policy.Store, fetcher EvidenceFetcher, manifestRoot string) *Classifier {
	return &Classifier{store: store, fetcher: fetcher, manifestRoot: manifestRoot}
}

// Result is the outcome of classifying one target: its queue row and
// evaluation manifest, ready to be written by the caller.
type Result struct {
	Row      model.QueueRow
	Manifest model.EvaluationManifest
}

// Classify evaluates a single enabled target per §4.3 steps 1-6.
func (c *Classifier) Classify(t model.Target) (Result, error) {
	if t.ForceRed {
		return c.redResult(t, "declared_red", model.EvaluationManifest{}), nil
	}

	var snap *model.EvidenceSnapshot
	var offlineNoSnapshot bool
	if t.LicenseEvidence.URL != "" {
		var err error
		snap, err = c.fetcher.Fetch(t.ID, t.LicenseEvidence.URL)
		if err != nil {
			if se, ok := err.(*model.StageError); ok && strings.Contains(se.Error(), "evidence_missing_offline") {
				offlineNoSnapshot = true
				snap = &model.EvidenceSnapshot{TargetID: t.ID}
			} else {
				return Result{}, err
			}
		}
	} else {
		snap = &model.EvidenceSnapshot{TargetID: t.ID}
	}

	declaredURLs := t.DeclaredURLs()
	denylistHits := c.store.AllMatches(declaredURLs)

	evidenceText := ""
	evidenceWeight := fullEvidenceWeight
	spdx, confidence, snippet := "", 0.0, ""
	if snap != nil {
		evidenceText = snap.ExtractedText
		if snap.TextExtractionFailed {
			evidenceWeight = extractionFailedWeight
		}
		if evidenceText == "" {
			// No fetched text to scan (no URL, offline-missing snapshot,
			// or extraction failed with nothing recovered): fall back to
			// the target's declared hint. It's a hint, not evidence, so
			// it never earns full confidence.
			evidenceText = t.LicenseEvidence.SPDXHint
			evidenceWeight = extractionFailedWeight
		}
		spdx, confidence, snippet = c.store.NormalizeSPDX(evidenceText, evidenceWeight)
	}

	var restrictionHits []string
	for _, phrase := range c.store.RestrictionPhrases() {
		if strings.Contains(strings.ToLower(evidenceText), strings.ToLower(phrase)) {
			restrictionHits = append(restrictionHits, phrase)
		}
	}

	bucket, rule := c.resolveBucket(t, spdx, confidence, denylistHits, restrictionHits, offlineNoSnapshot)

	row := model.QueueRow{
		TargetID:           t.ID,
		Bucket:             bucket,
		LicenseProfile:     t.LicenseProfile,
		ResolvedSPDX:       spdx,
		SPDXConfidence:     confidence,
		RestrictionHits:    restrictionHits,
		DenylistHits:       denylistHits,
		Download:           t.Download,
		ManifestDir:        c.manifestDir(t.ID),
		PolicySnapshotHash: c.store.PolicyHash(),
	}
	if t.Routing != nil {
		row.Routing = *t.Routing
	}
	if snap != nil {
		row.EvidenceRef = filepath.Join(c.manifestRoot, "..", "evidence", t.ID)
	}
	row.LicensePool = resolveLicensePool(t, bucket)

	if bucket == model.BucketRed {
		row.RejectReason = rule
	}

	manifest := model.EvaluationManifest{
		TargetID:                 t.ID,
		Bucket:                   bucket,
		ResolvedSPDX:             spdx,
		SPDXConfidence:           confidence,
		SPDXEvidenceSnippet:      snippet,
		RestrictionHits:          restrictionHits,
		DenylistHits:             denylistHits,
		PrecedenceRule:           rule,
		PolicySnapshotHash:       c.store.PolicyHash(),
		OfflineNoSnapshot:        offlineNoSnapshot,
	}
	if snap != nil {
		manifest.EvidenceSHA256Raw = snap.SHA256Raw
		manifest.EvidenceSHA256Normalized = snap.SHA256NormalizedText
	}

	return Result{Row: row, Manifest: manifest}, nil
}

func (c *Classifier) redResult(t model.Target, reason string, manifest model.EvaluationManifest) Result {
	row := model.QueueRow{
		TargetID:           t.ID,
		Bucket:             model.BucketRed,
		LicenseProfile:     t.LicenseProfile,
		Download:           t.Download,
		ManifestDir:        c.manifestDir(t.ID),
		PolicySnapshotHash: c.store.PolicyHash(),
		RejectReason:       reason,
	}
	manifest.TargetID = t.ID
	manifest.Bucket = model.BucketRed
	manifest.PrecedenceRule = reason
	manifest.PolicySnapshotHash = c.store.PolicyHash()
	return Result{Row: row, Manifest: manifest}
}

// resolveBucket implements the precedence ladder of §4.3 step 4.
func (c *Classifier) resolveBucket(t model.Target, spdx string, confidence float64, denylistHits []model.DenylistHit, restrictionHits []string, offlineNoSnapshot bool) (model.Bucket, string) {
	for _, hit := range denylistHits {
		if hit.Severity == model.SeverityHardRed {
			return model.BucketRed, "denylist_hard_red"
		}
	}

	for _, prefix := range c.store.DenySPDXPrefixes() {
		if spdx != "" && strings.HasPrefix(spdx, prefix) {
			return model.BucketRed, "spdx_deny_prefix"
		}
	}

	if len(restrictionHits) > 0 {
		return model.BucketYellow, "restriction_phrase_hit"
	}
	for _, hit := range denylistHits {
		if hit.Severity == model.SeverityForceYellow {
			return model.BucketYellow, "denylist_force_yellow"
		}
	}
	if t.LicenseProfile == model.ProfileRecordLevel {
		return model.BucketYellow, "profile_record_level"
	}
	if offlineNoSnapshot {
		return model.BucketYellow, "evidence_missing_offline"
	}

	threshold := 0.5
	if isIn(spdx, c.store.ConditionalSPDX()) {
		return model.BucketYellow, "spdx_conditional"
	}
	if confidence < threshold {
		return model.BucketYellow, "spdx_low_confidence"
	}

	if isIn(spdx, c.store.AllowSPDX()) && confidence >= threshold && c.store.ProfileDefaultBucket(t.LicenseProfile) == model.BucketGreen {
		return model.BucketGreen, "spdx_allow_high_confidence"
	}

	return c.store.ProfileDefaultBucket(t.LicenseProfile), "profile_default"
}

func isIn(value string, list []string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

// resolveLicensePool implements §4.3 step 5.
func resolveLicensePool(t model.Target, bucket model.Bucket) model.LicensePool {
	if t.Output != nil && t.Output.Pool != "" {
		return model.LicensePool(t.Output.Pool)
	}
	if t.LicenseProfile == model.ProfileCopyleft {
		return model.PoolCopyleft
	}
	if bucket == model.BucketGreen {
		return model.PoolPermissive
	}
	return model.PoolQuarantine
}

func (c *Classifier) manifestDir(targetID string) string {
	return filepath.Join(c.manifestRoot, kernel.SanitizeFilename(targetID))
}

// WriteResult persists the row (to queue.jsonl or red_rejected.jsonl
// depending on bucket) and the evaluation manifest, both atomically.
// Per §4.3's invariant, RED rows never land in an acquire queue.
func WriteResult(queueDir string, res Result) error {
	manifestPath := filepath.Join(res.Row.ManifestDir, "evaluation.json")
	data, err := json.MarshalIndent(res.Manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal evaluation manifest: %w", err)
	}
	if err := kernel.WriteAtomic(manifestPath, data); err != nil {
		return fmt.Errorf("write evaluation manifest: %w", err)
	}

	rowData, err := json.Marshal(res.Row)
	if err != nil {
		return fmt.Errorf("marshal queue row: %w", err)
	}

	var ledgerPath string
	if res.Row.Bucket == model.BucketRed {
		ledgerPath = filepath.Join(queueDir, "red_rejected.jsonl")
	} else {
		ledgerPath = filepath.Join(queueDir, "queue.jsonl")
	}
	return kernel.AppendLine(ledgerPath, rowData)
}

// ReadQueue reads queue.jsonl back, the non-RED rows WriteResult
// appended during classification. A missing file (no targets classified
// non-RED yet) returns an empty slice, not an error.
func ReadQueue(queueDir string) ([]model.QueueRow, error) {
	data, err := os.ReadFile(filepath.Join(queueDir, "queue.jsonl"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read queue.jsonl: %w", err)
	}

	var rows []model.QueueRow
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var row model.QueueRow
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("parse queue row: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
