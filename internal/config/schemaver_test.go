package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckSchemaVersion_Satisfies(t *testing.T) {
	assert.NoError(t, CheckSchemaVersion("1.0.0", "^1.0.0"))
	assert.NoError(t, CheckSchemaVersion("1.4.2", "^1.0.0"))
}

func TestCheckSchemaVersion_RejectsMajorBump(t *testing.T) {
	assert.Error(t, CheckSchemaVersion("2.0.0", "^1.0.0"))
}

func TestCheckSchemaVersion_RejectsMalformed(t *testing.T) {
	assert.Error(t, CheckSchemaVersion("not-a-version", "^1.0.0"))
}

func TestCheckSchemaVersion_RejectsBadConstraint(t *testing.T) {
	assert.Error(t, CheckSchemaVersion("1.0.0", "not-a-constraint"))
}
