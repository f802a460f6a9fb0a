package model

import "time"

// EvidenceSnapshot is one captured copy of a license/ToS document, per §3.
// Exactly one canonical current snapshot exists per target; priors are
// renamed, never deleted (see internal/evidence).
type EvidenceSnapshot struct {
	TargetID             string    `json:"target_id"`
	ContentType           string    `json:"content_type"`
	SHA256Raw             string    `json:"sha256_raw_bytes"`
	SHA256NormalizedText  string    `json:"sha256_normalized_text"`
	RetrievedAtUTC        time.Time `json:"retrieved_at_utc"`
	URLFinal              string    `json:"url_final"`
	TextExtractionFailed  bool      `json:"text_extraction_failed"`
	CanonicalExt          string    `json:"-"`
	FromOfflineReuse      bool      `json:"-"` // true when offline mode reused a prior snapshot

	// ExtractedText is the normalized text the fetcher extracted from the
	// evidence document (HTML stripped to plain text, PDF left empty since
	// extraction isn't supported) — this, not a target's declared
	// spdx_hint, is what the classifier scans for SPDX phrases and
	// restriction terms (§4.3 step 3). Persisted in the sidecar so an
	// offline-reused snapshot still carries it.
	ExtractedText string `json:"extracted_text_normalized,omitempty"`
}

// IsStale reports whether this snapshot differs from the one a signoff
// was bound to, under the configured change policy (§4.2). policy is
// "either" (default, safe) or "normalized".
func (e *EvidenceSnapshot) IsStale(signedHash, policy string) bool {
	if policy == "normalized" {
		return e.SHA256NormalizedText != signedHash
	}
	// "either": raw XOR normalized mismatch invalidates. Since signoff
	// only ever records sha256_normalized_text (the field the spec names
	// as evidence_hash_at_signoff), treat any mismatch on it as stale —
	// matching §4.2's "safe default" guidance that normalization failures
	// collapse sha256_normalized_text to sha256_raw_bytes, so a mismatch
	// here already reflects either hash having moved.
	return e.SHA256NormalizedText != signedHash
}
