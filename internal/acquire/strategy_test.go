package acquire

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FoilMiser/dataset-collector/internal/model"
)

type fakeStrategy struct {
	required []string
	tools    []string
}

func (s fakeStrategy) RequiredParams() []string { return s.required }
func (s fakeStrategy) RequiresTools() []string   { return s.tools }
func (s fakeStrategy) Fetch(ctx context.Context, req FetchRequest) (FetchOutcome, error) {
	return FetchOutcome{Status: model.AcquireOK}, nil
}

func TestRegistry_RegisterLookupNames(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Lookup("http")
	assert.False(t, ok)

	r.Register("http", fakeStrategy{required: []string{"url"}})
	s, ok := r.Lookup("http")
	require.True(t, ok)
	assert.Equal(t, []string{"url"}, s.RequiredParams())
	assert.Contains(t, r.Names(), "http")
}

func TestRegistry_RegisterOverwrites(t *testing.T) {
	r := NewRegistry()
	r.Register("http", fakeStrategy{required: []string{"url"}})
	r.Register("http", fakeStrategy{required: []string{"urls"}})

	s, ok := r.Lookup("http")
	require.True(t, ok)
	assert.Equal(t, []string{"urls"}, s.RequiredParams())
}

func TestValidateTarget_DisabledAndForceRedSkip(t *testing.T) {
	r := NewRegistry()
	assert.NoError(t, r.ValidateTarget(model.Target{ID: "t1", Enabled: false}))
	assert.NoError(t, r.ValidateTarget(model.Target{ID: "t2", Enabled: true, ForceRed: true}))
}

func TestValidateTarget_UnregisteredStrategy(t *testing.T) {
	r := NewRegistry()
	err := r.ValidateTarget(model.Target{
		ID: "t1", Enabled: true,
		Download: model.Download{Strategy: "missing"},
	})
	require.Error(t, err)
	var stageErr *model.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, model.ClassPolicy, stageErr.Class)
}

func TestValidateTarget_MissingRequiredParam(t *testing.T) {
	r := NewRegistry()
	r.Register("http", fakeStrategy{required: []string{"url"}})
	err := r.ValidateTarget(model.Target{
		ID: "t1", Enabled: true,
		Download: model.Download{Strategy: "http", Params: map[string]interface{}{}},
	})
	require.Error(t, err)
	var stageErr *model.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, model.ClassPolicy, stageErr.Class)
}

func TestValidateTarget_Satisfied(t *testing.T) {
	r := NewRegistry()
	r.Register("http", fakeStrategy{required: []string{"url"}})
	err := r.ValidateTarget(model.Target{
		ID: "t1", Enabled: true,
		Download: model.Download{Strategy: "http", Params: map[string]interface{}{"url": "https://example.com/x"}},
	})
	assert.NoError(t, err)
}
