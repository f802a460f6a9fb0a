// Package config loads and validates the collector's YAML configuration:
// targets.yaml plus its companion_files (license_map.yaml, denylist.yaml,
// field_schemas), and the small set of environment variable overrides the
// CLI honors.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/FoilMiser/dataset-collector/internal/model"
)

// SupportedSchemaVersion is the schema_version constraint targets.yaml
// must satisfy. Bumped only for breaking changes to the targets config
// shape.
const SupportedSchemaVersion = "^1.0.0"

// LoadedConfig bundles the parsed targets config with its resolved
// companion files — the policy package turns this into an immutable
// PolicySnapshot.
type LoadedConfig struct {
	Targets      *model.TargetsConfig
	LicenseMap   model.LicenseMap
	Denylist     model.Denylist
	FieldSchemas *CompiledFieldSchemas
}

// LoadTargetsConfig reads and validates a targets.yaml file, resolving
// companion_files relative to its directory. DATASET_ROOT, if set,
// overrides every globals.*_root field (§6 "Environment variables").
func LoadTargetsConfig(path string) (*LoadedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.NewError("config.load", model.ClassConfig, "", fmt.Errorf("read targets config %s: %w", path, err))
	}

	var tc model.TargetsConfig
	if err := yaml.Unmarshal(data, &tc); err != nil {
		return nil, model.NewError("config.load", model.ClassConfig, "", fmt.Errorf("parse targets config %s: %w", path, err))
	}

	if err := CheckSchemaVersion(tc.SchemaVersion, SupportedSchemaVersion); err != nil {
		return nil, model.NewError("config.schema_version", model.ClassConfig, "", err)
	}

	applyDatasetRootOverride(&tc.Globals)

	if err := validateGlobals(&tc.Globals); err != nil {
		return nil, model.NewError("config.globals", model.ClassConfig, "", err)
	}

	if err := validateTargets(tc.Targets); err != nil {
		return nil, model.NewError("config.targets", model.ClassConfig, "", err)
	}

	base := filepath.Dir(path)
	loaded := &LoadedConfig{Targets: &tc}
	if err := loadCompanionFiles(base, &tc, loaded); err != nil {
		return nil, err
	}

	return loaded, nil
}

func applyDatasetRootOverride(g *model.Globals) {
	root := os.Getenv("DATASET_ROOT")
	if root == "" {
		return
	}
	g.RawRoot = filepath.Join(root, filepath.Base(g.RawRoot))
	g.ScreenedYellowRoot = filepath.Join(root, filepath.Base(g.ScreenedYellowRoot))
	g.CombinedRoot = filepath.Join(root, filepath.Base(g.CombinedRoot))
	g.QueuesRoot = filepath.Join(root, filepath.Base(g.QueuesRoot))
	g.ManifestsRoot = filepath.Join(root, filepath.Base(g.ManifestsRoot))
	g.LedgerRoot = filepath.Join(root, filepath.Base(g.LedgerRoot))
	g.PitchesRoot = filepath.Join(root, filepath.Base(g.PitchesRoot))
	g.CatalogsRoot = filepath.Join(root, filepath.Base(g.CatalogsRoot))
	g.LogsRoot = filepath.Join(root, filepath.Base(g.LogsRoot))
}

func validateGlobals(g *model.Globals) error {
	required := map[string]string{
		"raw_root":             g.RawRoot,
		"screened_yellow_root": g.ScreenedYellowRoot,
		"combined_root":        g.CombinedRoot,
		"queues_root":          g.QueuesRoot,
		"manifests_root":       g.ManifestsRoot,
		"ledger_root":          g.LedgerRoot,
		"pitches_root":         g.PitchesRoot,
		"catalogs_root":        g.CatalogsRoot,
		"logs_root":            g.LogsRoot,
	}
	for key, val := range required {
		if val == "" {
			return fmt.Errorf("globals.%s is required", key)
		}
	}
	if g.Sharding.MaxRecordsPerShard <= 0 {
		return fmt.Errorf("globals.sharding.max_records_per_shard must be > 0")
	}
	if g.Screening.MinChars < 0 || g.Screening.MaxChars <= 0 || g.Screening.MinChars > g.Screening.MaxChars {
		return fmt.Errorf("globals.screening.min_chars/max_chars must satisfy 0 <= min_chars <= max_chars")
	}
	if g.MaxBytesPerTargetRaw != "" {
		n, err := ParseSize(g.MaxBytesPerTargetRaw)
		if err != nil {
			return fmt.Errorf("globals.max_bytes_per_target: %w", err)
		}
		g.MaxBytesPerTarget = n
	}
	if g.RateLimit.Capacity == 0 && g.RateLimit.RefillPerSecond == 0 {
		// Not configured: default to a conservative per-host rate (§4.4
		// "capacity > 0, refill_rate > 0" — unconfigured still must
		// satisfy the guarded constructor).
		g.RateLimit.Capacity = 5
		g.RateLimit.RefillPerSecond = 2.0
	}
	if g.RateLimit.Capacity <= 0 {
		return fmt.Errorf("globals.rate_limit.capacity must be > 0")
	}
	if g.RateLimit.RefillPerSecond <= 0 {
		return fmt.Errorf("globals.rate_limit.refill_rate must be > 0")
	}
	return nil
}

func loadCompanionFiles(base string, tc *model.TargetsConfig, loaded *LoadedConfig) error {
	lmPath := filepath.Join(base, tc.CompanionFiles.LicenseMap)
	lmData, err := os.ReadFile(lmPath)
	if err != nil {
		return model.NewError("config.license_map", model.ClassConfig, "", fmt.Errorf("read license map %s: %w", lmPath, err))
	}
	var lm model.LicenseMap
	if err := yaml.Unmarshal(lmData, &lm); err != nil {
		return model.NewError("config.license_map", model.ClassConfig, "", fmt.Errorf("parse license map %s: %w", lmPath, err))
	}
	if err := validateLicenseMap(&lm); err != nil {
		return model.NewError("config.license_map", model.ClassConfig, "", err)
	}
	lm.SPDX.Rules = lm.Normalization.Rules

	dlPath := filepath.Join(base, tc.CompanionFiles.Denylist)
	dlData, err := os.ReadFile(dlPath)
	if err != nil {
		return model.NewError("config.denylist", model.ClassConfig, "", fmt.Errorf("read denylist %s: %w", dlPath, err))
	}
	var dl model.Denylist
	if err := yaml.Unmarshal(dlData, &dl); err != nil {
		return model.NewError("config.denylist", model.ClassConfig, "", fmt.Errorf("parse denylist %s: %w", dlPath, err))
	}
	if err := validateDenylist(&dl); err != nil {
		return model.NewError("config.denylist", model.ClassConfig, "", err)
	}

	loaded.LicenseMap = lm
	loaded.Denylist = dl

	if tc.CompanionFiles.FieldSchemas != "" {
		fsPath := filepath.Join(base, tc.CompanionFiles.FieldSchemas)
		fsData, err := os.ReadFile(fsPath)
		if err != nil {
			return model.NewError("config.field_schemas", model.ClassConfig, "", fmt.Errorf("read field schemas %s: %w", fsPath, err))
		}
		var raw map[string]json.RawMessage
		if err := yaml.Unmarshal(fsData, &raw); err != nil {
			return model.NewError("config.field_schemas", model.ClassConfig, "", fmt.Errorf("parse field schemas %s: %w", fsPath, err))
		}
		schemas, err := LoadFieldSchemas(raw)
		if err != nil {
			return model.NewError("config.field_schemas", model.ClassConfig, "", err)
		}
		loaded.FieldSchemas = schemas
	}

	return nil
}

// validateLicenseMap enforces the invariants §6 describes for the
// license map companion file: gating buckets must be set for every
// failure mode the classifier can reach.
func validateLicenseMap(lm *model.LicenseMap) error {
	if lm.Gating.UnknownSPDXBucket == "" {
		return fmt.Errorf("license_map.gating.unknown_spdx_bucket is required")
	}
	if lm.Gating.ConditionalSPDXBucket == "" {
		return fmt.Errorf("license_map.gating.conditional_spdx_bucket is required")
	}
	if lm.Gating.DenySPDXBucket == "" {
		return fmt.Errorf("license_map.gating.deny_spdx_bucket is required")
	}
	if lm.Gating.RestrictionPhraseBucket == "" {
		return fmt.Errorf("license_map.gating.restriction_phrase_bucket is required")
	}
	for i, rule := range lm.Normalization.Rules {
		if rule.SPDX == "" {
			return fmt.Errorf("license_map.normalization.rules[%d].spdx is required", i)
		}
		if len(rule.MatchAny) == 0 {
			return fmt.Errorf("license_map.normalization.rules[%d].match_any must be non-empty", i)
		}
	}
	return nil
}

// validateDenylist enforces §6's mandatory-field invariant: every
// pattern must carry link and rationale, or the whole config load fails
// with ConfigError (§4.1 "Failure").
func validateDenylist(dl *model.Denylist) error {
	for i, p := range dl.Patterns {
		if p.Link == "" || p.Rationale == "" {
			return fmt.Errorf("denylist.patterns[%d] (%s): link and rationale are mandatory", i, p.Value)
		}
		switch p.Type {
		case model.PatternDomain, model.PatternSubstring, model.PatternRegex:
		default:
			return fmt.Errorf("denylist.patterns[%d]: unknown type %q", i, p.Type)
		}
		switch p.Severity {
		case model.SeverityHardRed, model.SeverityForceYellow:
		default:
			return fmt.Errorf("denylist.patterns[%d]: unknown severity %q", i, p.Severity)
		}
	}
	return nil
}

func validateTargets(targets []model.Target) error {
	seen := make(map[string]bool, len(targets))
	for i, t := range targets {
		if t.ID == "" {
			return fmt.Errorf("targets[%d]: id is required", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("targets[%d]: duplicate target id %q", i, t.ID)
		}
		seen[t.ID] = true
		if t.Download.Strategy == "" {
			return fmt.Errorf("target %q: download.strategy is required", t.ID)
		}
	}
	return nil
}
