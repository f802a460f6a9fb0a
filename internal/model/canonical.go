package model

import "time"

// RecordLicense is the canonical record's license sub-document.
type RecordLicense struct {
	SPDX    string         `json:"spdx"`
	Profile LicenseProfile `json:"profile"`
}

// RecordSource identifies provenance for a canonical record.
type RecordSource struct {
	TargetID       string    `json:"target_id"`
	URL            string    `json:"url,omitempty"`
	RetrievedAtUTC time.Time `json:"retrieved_at_utc"`
	ContentType    string    `json:"content_type,omitempty"`
	Publisher      string    `json:"publisher,omitempty"`
}

// RecordHash carries the content hash used for dedupe (§3, §4.6).
type RecordHash struct {
	ContentSHA256 string `json:"content_sha256"`
}

// CanonicalRecord is the merger/screener contract (§3): the unit of
// downstream training, after GREEN acquisition or YELLOW screening.
type CanonicalRecord struct {
	RecordID string        `json:"record_id"`
	Text     string        `json:"text"`
	License  RecordLicense `json:"license"`
	Routing  Routing       `json:"routing"`
	Source   RecordSource  `json:"source"`
	Hash     RecordHash    `json:"hash"`

	// Domain metadata is opaque passthrough: teams may carry
	// format-specific fields the canonical schema doesn't name.
	Domain map[string]interface{} `json:"domain,omitempty"`

	// LicensePool is stamped by the merger/screener from the owning
	// queue row; not part of the wire schema proper but threaded through
	// internally so dedupe bucket-index entries can record it (§4.6).
	LicensePool LicensePool `json:"-"`
}
