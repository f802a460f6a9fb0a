package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validLicenseMapYAML = `
spdx:
  allow: ["MIT", "Apache-2.0"]
  conditional: ["CC-BY-4.0"]
  deny_prefixes: ["CC-BY-NC"]
normalization:
  rules:
    - match_any: ["MIT License", "MIT"]
      spdx: "MIT"
      confidence: 0.9
restriction_scan:
  phrases: ["non-commercial use only"]
gating:
  unknown_spdx_bucket: YELLOW
  conditional_spdx_bucket: YELLOW
  deny_spdx_bucket: RED
  restriction_phrase_bucket: YELLOW
profiles:
  permissive:
    default_bucket: GREEN
`

const validDenylistYAML = `
patterns:
  - type: domain
    value: "example-banned.org"
    severity: hard_red
    link: "https://example.org/policy"
    rationale: "known scraping ban"
`

const validTargetsYAML = `
schema_version: "1.0.0"
companion_files:
  license_map: license_map.yaml
  denylist: denylist.yaml
globals:
  raw_root: /data/raw
  screened_yellow_root: /data/yellow
  combined_root: /data/combined
  queues_root: /data/queues
  manifests_root: /data/manifests
  ledger_root: /data/ledger
  pitches_root: /data/pitches
  catalogs_root: /data/catalogs
  logs_root: /data/logs
  sharding:
    max_records_per_shard: 50000
    compression: gzip
  screening:
    min_chars: 10
    max_chars: 100000
  max_bytes_per_target: "500MB"
targets:
  - id: sample-target
    enabled: true
    license_profile: permissive
    download:
      strategy: http
      params:
        url: "https://example.org/data.jsonl"
`

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "license_map.yaml"), []byte(validLicenseMapYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "denylist.yaml"), []byte(validDenylistYAML), 0o644))
	targetsPath := filepath.Join(dir, "targets.yaml")
	require.NoError(t, os.WriteFile(targetsPath, []byte(validTargetsYAML), 0o644))
	return targetsPath
}

func TestLoadTargetsConfig_HappyPath(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir)

	loaded, err := LoadTargetsConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/raw", loaded.Targets.Globals.RawRoot)
	assert.Equal(t, int64(500*1024*1024), loaded.Targets.Globals.MaxBytesPerTarget)
	assert.Len(t, loaded.Targets.Targets, 1)
	assert.Equal(t, "sample-target", loaded.Targets.Targets[0].ID)
	assert.Equal(t, "MIT", loaded.LicenseMap.Normalization.Rules[0].SPDX)
	assert.Len(t, loaded.Denylist.Patterns, 1)
}

func TestLoadTargetsConfig_DatasetRootOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir)

	t.Setenv("DATASET_ROOT", "/override")

	loaded, err := LoadTargetsConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/override/raw", loaded.Targets.Globals.RawRoot)
	assert.Equal(t, "/override/yellow", loaded.Targets.Globals.ScreenedYellowRoot)
}

func TestLoadTargetsConfig_RejectsBadSchemaVersion(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir)
	path := filepath.Join(dir, "targets.yaml")

	bad := strings.Replace(validTargetsYAML, `schema_version: "1.0.0"`, `schema_version: "2.0.0"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o644))

	_, err := LoadTargetsConfig(path)
	assert.Error(t, err)
}

func TestLoadTargetsConfig_RejectsDuplicateTargetIDs(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir)

	dup := validTargetsYAML + `  - id: sample-target
    enabled: true
    license_profile: permissive
    download:
      strategy: http
      params:
        url: "https://example.org/other.jsonl"
`
	require.NoError(t, os.WriteFile(path, []byte(dup), 0o644))

	_, err := LoadTargetsConfig(path)
	assert.Error(t, err)
}

func TestLoadTargetsConfig_RejectsMissingDenylistRationale(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "license_map.yaml"), []byte(validLicenseMapYAML), 0o644))
	badDenylist := `
patterns:
  - type: domain
    value: "example-banned.org"
    severity: hard_red
    link: "https://example.org/policy"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "denylist.yaml"), []byte(badDenylist), 0o644))
	path := filepath.Join(dir, "targets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validTargetsYAML), 0o644))

	_, err := LoadTargetsConfig(path)
	assert.Error(t, err)
}

func TestLoadTargetsConfig_MissingFileReturnsConfigError(t *testing.T) {
	_, err := LoadTargetsConfig("/nonexistent/targets.yaml")
	assert.Error(t, err)
}
