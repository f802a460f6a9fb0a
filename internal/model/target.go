package model

// LicenseProfile is the declared legal posture of a target, per §3.
type LicenseProfile string

const (
	ProfilePermissive  LicenseProfile = "permissive"
	ProfileCopyleft    LicenseProfile = "copyleft"
	ProfileRecordLevel LicenseProfile = "record_level"
	ProfileQuarantine  LicenseProfile = "quarantine"
	ProfileUnknown     LicenseProfile = "unknown"
)

// Bucket is the compliance classification assigned by C3.
type Bucket string

const (
	BucketGreen  Bucket = "GREEN"
	BucketYellow Bucket = "YELLOW"
	BucketRed    Bucket = "RED"
)

// LicensePool segregates acquired payloads to prevent cross-license
// contamination, per the GLOSSARY.
type LicensePool string

const (
	PoolPermissive LicensePool = "permissive"
	PoolCopyleft   LicensePool = "copyleft"
	PoolQuarantine LicensePool = "quarantine"
)

// LicenseEvidence names where to find the document that justifies a
// target's declared license.
type LicenseEvidence struct {
	SPDXHint string `yaml:"spdx_hint" json:"spdx_hint"`
	URL      string `yaml:"url" json:"url"`
}

// Routing carries optional downstream sharding hints. Granularity
// defaults to "target" when absent.
type Routing struct {
	Subject     string `yaml:"subject,omitempty" json:"subject,omitempty"`
	Domain      string `yaml:"domain,omitempty" json:"domain,omitempty"`
	Category    string `yaml:"category,omitempty" json:"category,omitempty"`
	Granularity string `yaml:"granularity,omitempty" json:"granularity,omitempty"`
}

// Download is the strategy-dispatched acquisition spec for a target.
// Params holds strategy-specific keys (URLs, bucket names, repo refs, …);
// it is a structured map, never a serialized blob, so the classifier can
// extract declared URLs for denylist scanning per §4.3 step 2.
type Download struct {
	Strategy string                 `yaml:"strategy" json:"strategy"`
	Params   map[string]interface{} `yaml:"params" json:"params"`
}

// YellowScreen holds per-target overrides to the global YELLOW screening
// gate, per §3/§4.5.
type YellowScreen struct {
	AllowWithoutSignoff bool     `yaml:"allow_without_signoff,omitempty" json:"allow_without_signoff,omitempty"`
	RecordLicenseAllow  []string `yaml:"record_license_allow,omitempty" json:"record_license_allow,omitempty"`
}

// Output carries per-target output overrides.
type Output struct {
	Pool string `yaml:"pool,omitempty" json:"pool,omitempty"`
}

// Target is a declarative record identifying one candidate data source.
type Target struct {
	ID              string          `yaml:"id" json:"id"`
	Enabled         bool            `yaml:"enabled" json:"enabled"`
	LicenseProfile  LicenseProfile  `yaml:"license_profile" json:"license_profile"`
	LicenseEvidence LicenseEvidence `yaml:"license_evidence" json:"license_evidence"`
	Download        Download        `yaml:"download" json:"download"`
	Routing         *Routing        `yaml:"routing,omitempty" json:"routing,omitempty"`
	Output          *Output         `yaml:"output,omitempty" json:"output,omitempty"`
	YellowScreen    *YellowScreen   `yaml:"yellow_screen,omitempty" json:"yellow_screen,omitempty"`

	// ForceRed lets a target be declared RED directly in configuration,
	// satisfying the invariant that an enabled target must either declare
	// a supported strategy or be explicitly RED.
	ForceRed bool `yaml:"force_red,omitempty" json:"force_red,omitempty"`
}

// DeclaredURLs returns every URL embedded in the target's structured
// download parameters plus its license evidence URL, for denylist
// scanning per §4.3 step 2. Extraction walks Params rather than
// marshaling the target to a string, so only genuine URL-typed fields are
// considered.
func (t *Target) DeclaredURLs() []string {
	var urls []string
	if t.LicenseEvidence.URL != "" {
		urls = append(urls, t.LicenseEvidence.URL)
	}
	urls = append(urls, extractURLs(t.Download.Params)...)
	return urls
}

func extractURLs(params map[string]interface{}) []string {
	var urls []string
	for k, v := range params {
		switch val := v.(type) {
		case string:
			if isURLKey(k) && val != "" {
				urls = append(urls, val)
			}
		case []interface{}:
			if isURLKey(k) {
				for _, item := range val {
					if s, ok := item.(string); ok && s != "" {
						urls = append(urls, s)
					}
				}
			}
		}
	}
	return urls
}

func isURLKey(key string) bool {
	switch key {
	case "url", "urls", "base_url", "repo_url", "endpoint", "api_multiaddr", "doi_url":
		return true
	default:
		return false
	}
}
