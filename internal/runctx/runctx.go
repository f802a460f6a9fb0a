// Package runctx bundles the per-run values every stage needs but none
// should construct for itself: the run's identity, its policy snapshot,
// a logger stamped with that identity, and the clock stages use instead
// of calling time.Now directly so tests can control it.
package runctx

import (
	"time"

	"github.com/google/uuid"

	"github.com/FoilMiser/dataset-collector/internal/model"
	"github.com/FoilMiser/dataset-collector/internal/obslog"
	"github.com/FoilMiser/dataset-collector/internal/policy"
)

// Clock supplies the current time. The real clock is systemClock{};
// tests substitute a fixed or stepped implementation.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// RunContext carries the values every stage closes over: which run this
// is, under which policy snapshot, logging through which logger, and
// reading which clock. Construct once per invocation with New and pass
// it down; nothing in it is safe to mutate after construction.
type RunContext struct {
	RunID   string
	Started time.Time
	Policy  *policy.Store
	Logger  *obslog.Logger
	Clock   Clock
}

// Option customizes a RunContext built by New.
type Option func(*RunContext)

// WithRunID overrides the generated run ID, e.g. to resume logging under
// an ID a caller already picked.
func WithRunID(runID string) Option {
	return func(rc *RunContext) { rc.RunID = runID }
}

// WithClock overrides the default system clock.
func WithClock(clock Clock) Option {
	return func(rc *RunContext) { rc.Clock = clock }
}

// WithLogger overrides the default stdout logger built from
// obslog.DefaultConfig.
func WithLogger(logger *obslog.Logger) Option {
	return func(rc *RunContext) { rc.Logger = logger }
}

// New builds a RunContext for store, generating a fresh run ID and
// wiring the run ID and policy hash into the logger's base fields.
func New(store *policy.Store, opts ...Option) *RunContext {
	rc := &RunContext{
		RunID:   uuid.New().String(),
		Started: time.Now().UTC(),
		Policy:  store,
		Logger:  obslog.New(obslog.DefaultConfig()),
		Clock:   systemClock{},
	}
	for _, opt := range opts {
		opt(rc)
	}
	rc.Logger = rc.Logger.WithRun(rc.RunID)
	return rc
}

// Globals is a convenience accessor for the run's resolved globals
// block, since nearly every stage needs it to build its own Roots view.
func (rc *RunContext) Globals() model.Globals {
	return rc.Policy.Snapshot().Globals
}

// Stage returns a logger scoped to stage, ready to hand to that stage's
// entry point.
func (rc *RunContext) Stage(stage string) *obslog.Logger {
	return rc.Logger.WithStage(stage)
}

// PolicyHash is a convenience accessor, since every stage stamps its
// manifests and ledger rows with it.
func (rc *RunContext) PolicyHash() string {
	return rc.Policy.PolicyHash()
}
