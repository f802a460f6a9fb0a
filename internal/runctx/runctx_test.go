package runctx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FoilMiser/dataset-collector/internal/config"
	"github.com/FoilMiser/dataset-collector/internal/model"
	"github.com/FoilMiser/dataset-collector/internal/obslog"
	"github.com/FoilMiser/dataset-collector/internal/policy"
)

func testStore(t *testing.T) *policy.Store {
	t.Helper()
	loaded := &config.LoadedConfig{
		Targets: &model.TargetsConfig{
			SchemaVersion: "1.0.0",
			Globals: model.Globals{
				RawRoot:      "/data/raw",
				CatalogsRoot: "/data/catalogs",
			},
		},
	}
	store, err := policy.Load(loaded)
	require.NoError(t, err)
	return store
}

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

func TestNew_GeneratesRunIDAndStampsLogger(t *testing.T) {
	rc := New(testStore(t))
	assert.NotEmpty(t, rc.RunID)
	assert.NotNil(t, rc.Logger)
	assert.NotNil(t, rc.Clock)
	assert.Equal(t, "/data/raw", rc.Globals().RawRoot)
}

func TestNew_WithRunIDOverride(t *testing.T) {
	rc := New(testStore(t), WithRunID("fixed-run-id"))
	assert.Equal(t, "fixed-run-id", rc.RunID)
}

func TestNew_WithClockOverride(t *testing.T) {
	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rc := New(testStore(t), WithClock(fixedClock{t: want}))
	assert.Equal(t, want, rc.Clock.Now())
}

func TestNew_WithLoggerOverride(t *testing.T) {
	custom := obslog.New(&obslog.Config{Level: obslog.DebugLevel, Format: obslog.JSONFormat})
	rc := New(testStore(t), WithRunID("r1"), WithLogger(custom))
	// The override is still stamped with the run ID, not replaced wholesale.
	assert.NotNil(t, rc.Logger)
}

func TestRunContext_PolicyHashMatchesStore(t *testing.T) {
	store := testStore(t)
	rc := New(store, WithRunID("r1"))
	assert.Equal(t, store.PolicyHash(), rc.PolicyHash())
}

func TestRunContext_StageScopesLogger(t *testing.T) {
	rc := New(testStore(t), WithRunID("r1"))
	stageLogger := rc.Stage("classify")
	assert.NotNil(t, stageLogger)
}
