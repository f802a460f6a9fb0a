package model

import "time"

// PitchReason is the closed vocabulary of reasons a record or target can
// be pitched, per §8 "Pitch reasons are a closed vocabulary".
type PitchReason string

const (
	ReasonTextMissing        PitchReason = "text_missing"
	ReasonTextTooShort       PitchReason = "text_too_short"
	ReasonTextTooLong        PitchReason = "text_too_long"
	ReasonRecordLicenseMissing PitchReason = "record_license_missing"
	ReasonRecordLicenseDenied PitchReason = "record_license_denied"
	ReasonDenyPhraseHit       PitchReason = "deny_phrase_hit"
	ReasonSignoffMissing      PitchReason = "signoff_missing"
	ReasonSignoffRejected     PitchReason = "signoff_rejected"
	ReasonSignoffStale        PitchReason = "signoff_stale"
)

// KnownPitchReasons is the closed set §8 requires every ledger row's
// reason to belong to.
var KnownPitchReasons = map[PitchReason]bool{
	ReasonTextMissing:          true,
	ReasonTextTooShort:         true,
	ReasonTextTooLong:          true,
	ReasonRecordLicenseMissing: true,
	ReasonRecordLicenseDenied:  true,
	ReasonDenyPhraseHit:        true,
	ReasonSignoffMissing:       true,
	ReasonSignoffRejected:      true,
	ReasonSignoffStale:         true,
}

// YellowPassedEntry is one row of _ledger/yellow_passed.jsonl.
type YellowPassedEntry struct {
	RunID         string `json:"run_id"`
	TargetID      string `json:"target_id"`
	RecordID      string `json:"record_id"`
	Shard         string `json:"shard"`
	ContentSHA256 string `json:"content_sha256"`
}

// YellowPitchedEntry is one row of _ledger/yellow_pitched.jsonl.
type YellowPitchedEntry struct {
	RunID      string      `json:"run_id"`
	TargetID   string      `json:"target_id"`
	RecordID   string      `json:"record_id,omitempty"`
	Reason     PitchReason `json:"reason"`
	SampleHash string      `json:"sample_hash,omitempty"`
}

// CombinedIndexEntry is one row of combined_index.jsonl: the
// authoritative post-merge hash -> shard mapping (§3, §6).
type CombinedIndexEntry struct {
	RunID         string      `json:"run_id"`
	ContentSHA256 string      `json:"content_sha256"`
	Shard         string      `json:"shard"`
	RecordOffset  int64       `json:"record_offset"`
	SourceTargetID string     `json:"source_target_id"`
	LicensePool   LicensePool `json:"license_pool"`
}

// CombinedDedupSkippedEntry is one row of combined_dedup_skipped.jsonl:
// recorded for every duplicate the merger drops, referencing the winner.
type CombinedDedupSkippedEntry struct {
	RunID           string `json:"run_id"`
	ContentSHA256   string `json:"content_sha256"`
	SkippedTargetID string `json:"skipped_target_id"`
	SkippedShard    string `json:"skipped_shard,omitempty"`
	WinningShard    string `json:"winning_shard"`
	WinningTargetID string `json:"winning_target_id"`
}

// AcquireResultStatus is the terminal state of one target's acquisition.
type AcquireResultStatus string

const (
	AcquireOK       AcquireResultStatus = "ok"
	AcquireSkipped  AcquireResultStatus = "skipped"
	AcquireOversized AcquireResultStatus = "oversized"
	AcquireFailed   AcquireResultStatus = "failed"
)

// AcquireSummaryEntry is one row of acquire_summary_<run_id>.jsonl,
// recorded in input queue order regardless of completion order (§4.4).
type AcquireSummaryEntry struct {
	RunID        string               `json:"run_id"`
	TargetID     string               `json:"target_id"`
	Status       AcquireResultStatus  `json:"status"`
	BytesWritten int64                `json:"bytes_written"`
	Files        int                  `json:"files"`
	Error        string               `json:"error,omitempty"`
	CompletedAt  time.Time            `json:"completed_at"`
}

// FailedTarget is one entry of catalog.json's failed_targets array (§4.7).
type FailedTarget struct {
	TargetID string `json:"target_id"`
	Stage    string `json:"stage"`
	Error    string `json:"error"`
}
