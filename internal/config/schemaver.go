package config

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// CheckSchemaVersion validates that declared is a valid semver string and
// satisfies constraint (e.g. "^1.0.0"). Targets config's schema_version
// and a target's declared tool_version compatibility both go through
// this (§6 "schema_version (fixed string)").
func CheckSchemaVersion(declared, constraint string) error {
	v, err := semver.NewVersion(declared)
	if err != nil {
		return fmt.Errorf("invalid schema_version %q: %w", declared, err)
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid schema_version constraint %q: %w", constraint, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("schema_version %q does not satisfy %q", declared, constraint)
	}
	return nil
}
