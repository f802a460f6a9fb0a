package model

// SPDXRule is one longest-match normalization rule: any of MatchAny found
// (case-insensitively) in evidence text resolves to SPDX at the given
// confidence weight.
type SPDXRule struct {
	MatchAny   []string `yaml:"match_any" json:"match_any"`
	SPDX       string   `yaml:"spdx" json:"spdx"`
	Confidence float64  `yaml:"confidence" json:"confidence"`
}

// SPDXPolicy is the license-map's spdx section.
type SPDXPolicy struct {
	Allow        []string   `yaml:"allow" json:"allow"`
	Conditional  []string   `yaml:"conditional" json:"conditional"`
	DenyPrefixes []string   `yaml:"deny_prefixes" json:"deny_prefixes"`
	Rules        []SPDXRule `yaml:"-" json:"-"` // populated from Normalization.Rules at load time
}

// Normalization holds the SPDX rulebook.
type Normalization struct {
	Rules []SPDXRule `yaml:"rules" json:"rules"`
}

// RestrictionScan lists phrases that force YELLOW regardless of SPDX.
type RestrictionScan struct {
	Phrases []string `yaml:"phrases" json:"phrases"`
}

// Gating names the default bucket for each ambiguous outcome.
type Gating struct {
	UnknownSPDXBucket      Bucket `yaml:"unknown_spdx_bucket" json:"unknown_spdx_bucket"`
	ConditionalSPDXBucket  Bucket `yaml:"conditional_spdx_bucket" json:"conditional_spdx_bucket"`
	DenySPDXBucket         Bucket `yaml:"deny_spdx_bucket" json:"deny_spdx_bucket"`
	RestrictionPhraseBucket Bucket `yaml:"restriction_phrase_bucket" json:"restriction_phrase_bucket"`
}

// ProfileRule maps a license profile to its default bucket absent other
// overriding signals.
type ProfileRule struct {
	DefaultBucket Bucket `yaml:"default_bucket" json:"default_bucket"`
}

// LicenseMap is the full companion_files.license_map document.
type LicenseMap struct {
	SPDX            SPDXPolicy             `yaml:"spdx" json:"spdx"`
	Normalization   Normalization          `yaml:"normalization" json:"normalization"`
	RestrictionScan RestrictionScan        `yaml:"restriction_scan" json:"restriction_scan"`
	Gating          Gating                 `yaml:"gating" json:"gating"`
	Profiles        map[string]ProfileRule `yaml:"profiles" json:"profiles"`
}

// DenylistSeverity classifies how hard a denylist hit bites.
type DenylistSeverity string

const (
	SeverityHardRed     DenylistSeverity = "hard_red"
	SeverityForceYellow DenylistSeverity = "force_yellow"
)

// DenylistPatternType is the matching mode of a denylist entry.
type DenylistPatternType string

const (
	PatternDomain    DenylistPatternType = "domain"
	PatternSubstring DenylistPatternType = "substring"
	PatternRegex     DenylistPatternType = "regex"
)

// DenylistPattern is one entry of companion_files.denylist. Link and
// Rationale are mandatory per §6; ConfigError on load if absent.
type DenylistPattern struct {
	Type      DenylistPatternType `yaml:"type" json:"type"`
	Value     string              `yaml:"value" json:"value"`
	Fields    []string            `yaml:"fields,omitempty" json:"fields,omitempty"`
	Severity  DenylistSeverity    `yaml:"severity" json:"severity"`
	Link      string              `yaml:"link" json:"link"`
	Rationale string              `yaml:"rationale" json:"rationale"`
}

// Denylist is the companion_files.denylist document.
type Denylist struct {
	Patterns []DenylistPattern `yaml:"patterns" json:"patterns"`
}

// DenylistHit is one match recorded on a queue row.
type DenylistHit struct {
	Severity  DenylistSeverity `json:"severity"`
	Value     string           `json:"value"`
	Link      string           `json:"link"`
	Rationale string           `json:"rationale"`
}

// ScreeningGlobals is globals.screening from the targets config.
type ScreeningGlobals struct {
	MinChars                    int      `yaml:"min_chars" json:"min_chars"`
	MaxChars                    int      `yaml:"max_chars" json:"max_chars"`
	TextFieldCandidates         []string `yaml:"text_field_candidates" json:"text_field_candidates"`
	RecordLicenseFieldCandidates []string `yaml:"record_license_field_candidates" json:"record_license_field_candidates"`
	RequireRecordLicense        bool     `yaml:"require_record_license" json:"require_record_license"`
	AllowSPDX                   []string `yaml:"allow_spdx" json:"allow_spdx"`
	DenyPhrases                 []string `yaml:"deny_phrases" json:"deny_phrases"`
}

// Sharding is globals.sharding.
type Sharding struct {
	MaxRecordsPerShard int    `yaml:"max_records_per_shard" json:"max_records_per_shard"`
	Compression        string `yaml:"compression" json:"compression"`
}

// RateLimit is globals.rate_limit: the token-bucket parameters for the
// process-wide, per-host rate limiter (§4.2, §4.4, C8). capacity and
// refill_rate must both be strictly positive; zero means "not
// configured", and the loader fills in defaults.
type RateLimit struct {
	Capacity        int     `yaml:"capacity" json:"capacity"`
	RefillPerSecond float64 `yaml:"refill_rate" json:"refill_rate"`
}

// Globals is the targets config's globals block (§6).
type Globals struct {
	RawRoot           string `yaml:"raw_root" json:"raw_root"`
	ScreenedYellowRoot string `yaml:"screened_yellow_root" json:"screened_yellow_root"`
	CombinedRoot      string `yaml:"combined_root" json:"combined_root"`
	QueuesRoot        string `yaml:"queues_root" json:"queues_root"`
	ManifestsRoot     string `yaml:"manifests_root" json:"manifests_root"`
	LedgerRoot        string `yaml:"ledger_root" json:"ledger_root"`
	PitchesRoot       string `yaml:"pitches_root" json:"pitches_root"`
	CatalogsRoot      string `yaml:"catalogs_root" json:"catalogs_root"`
	LogsRoot          string `yaml:"logs_root" json:"logs_root"`

	Sharding             Sharding         `yaml:"sharding" json:"sharding"`
	Screening            ScreeningGlobals `yaml:"screening" json:"screening"`
	RequireYellowSignoff bool             `yaml:"require_yellow_signoff" json:"require_yellow_signoff"`
	RateLimit            RateLimit        `yaml:"rate_limit" json:"rate_limit"`

	// MaxBytesPerTarget enforces §4.4's per-target byte budget. Accepts
	// human-readable sizes ("500MB") at load time; stored here in bytes.
	MaxBytesPerTarget int64 `yaml:"-" json:"max_bytes_per_target"`
	MaxBytesPerTargetRaw string `yaml:"max_bytes_per_target,omitempty" json:"-"`

	// ChangePolicy selects how evidence staleness invalidates a signoff:
	// "either" (raw XOR normalized mismatch, the safe default per §4.2)
	// or "normalized" (only when extraction is reliable).
	ChangePolicy string `yaml:"change_policy,omitempty" json:"change_policy,omitempty"`
}

// CompanionFiles names the paths of the three companion documents.
type CompanionFiles struct {
	LicenseMap   string `yaml:"license_map" json:"license_map"`
	Denylist     string `yaml:"denylist" json:"denylist"`
	FieldSchemas string `yaml:"field_schemas" json:"field_schemas"`
}

// TargetsConfig is the top-level targets.yaml document (§6).
type TargetsConfig struct {
	SchemaVersion  string         `yaml:"schema_version" json:"schema_version"`
	CompanionFiles CompanionFiles `yaml:"companion_files" json:"companion_files"`
	Globals        Globals        `yaml:"globals" json:"globals"`
	Targets        []Target       `yaml:"targets" json:"targets"`
}

// PolicySnapshot is the immutable, per-run composition of the license map
// and denylist (§3). Every artifact produced under a run references its
// Hash. Build it once via policy.Load and never mutate it afterward.
type PolicySnapshot struct {
	Hash         string
	LicenseMap   LicenseMap
	Denylist     Denylist
	FieldSchema  []byte // raw JSON Schema document, validated lazily by internal/policy
	Globals      Globals
	SchemaVersion string
}
