package model

// QueueRow is the record emitted by the classifier (C3) for every
// enabled target, regardless of bucket.
type QueueRow struct {
	TargetID           string         `json:"target_id"`
	Bucket             Bucket         `json:"bucket"`
	LicenseProfile     LicenseProfile `json:"license_profile"`
	LicensePool        LicensePool    `json:"license_pool"`
	ResolvedSPDX       string         `json:"resolved_spdx"`
	SPDXConfidence     float64        `json:"spdx_confidence"`
	RestrictionHits    []string       `json:"restriction_hits"`
	DenylistHits       []DenylistHit  `json:"denylist_hits"`
	Routing            Routing        `json:"routing"`
	Download           Download       `json:"download"`
	ManifestDir        string         `json:"manifest_dir"`
	EvidenceRef        string         `json:"evidence_ref"`
	PolicySnapshotHash string         `json:"policy_snapshot_hash"`

	// RejectReason is set only for RED rows routed to red_rejected.jsonl,
	// naming which precedence rule (§4.3 step 4) produced the rejection.
	RejectReason string `json:"reject_reason,omitempty"`
}

// EvaluationManifest is the evaluation.json sidecar written alongside
// each queue row (§4.3 step 6), capturing the reasoning trail for audit.
type EvaluationManifest struct {
	TargetID           string        `json:"target_id"`
	Bucket             Bucket        `json:"bucket"`
	ResolvedSPDX       string        `json:"resolved_spdx"`
	SPDXConfidence     float64       `json:"spdx_confidence"`
	SPDXEvidenceSnippet string       `json:"spdx_evidence_snippet,omitempty"`
	RestrictionHits    []string      `json:"restriction_hits"`
	DenylistHits       []DenylistHit `json:"denylist_hits"`
	PrecedenceRule     string        `json:"precedence_rule"`
	PolicySnapshotHash string        `json:"policy_snapshot_hash"`
	EvidenceSHA256Raw  string        `json:"evidence_sha256_raw"`
	EvidenceSHA256Normalized string  `json:"evidence_sha256_normalized"`
	OfflineNoSnapshot  bool          `json:"offline_no_snapshot,omitempty"`
}
