// Package acquire implements the acquisition runtime (C4): a strategy
// registry dispatching per-target downloads, a bounded worker pool, and
// the download contract (atomic writes, byte budgets, checksum
// verification, private-IP guard) every strategy must honor.
package acquire

import (
	"context"
	"fmt"
	"sync"

	"github.com/FoilMiser/dataset-collector/internal/model"
)

// Strategy performs the download for one target under one acquisition
// strategy name. Implementations must write only under dir (already
// scoped to raw/{bucket}/{pool}/{target_id}/), enforce maxBytes when
// they can stream, and return byte/file counts for the summary ledger.
type Strategy interface {
	// RequiredParams lists the download.params keys this strategy cannot
	// run without; the registry validates these at classify time for
	// enabled targets (§4.4 "classify-time error, not a silent noop").
	RequiredParams() []string
	// RequiresTools names external binaries (e.g. "git") the strategy
	// shells out to; the orchestrator's preflight checks these (§4.9).
	RequiresTools() []string
	// Fetch performs the download into dir and returns the outcome.
	Fetch(ctx context.Context, req FetchRequest) (FetchOutcome, error)
}

// FetchRequest is everything a strategy needs to perform one target's
// download.
type FetchRequest struct {
	TargetID        string
	Params          map[string]interface{}
	DestDir         string
	MaxBytes        int64
	AllowHugeDownload bool
}

// FetchOutcome is what a strategy reports back; the runtime folds it
// into an AcquireSummaryEntry and acquire_done.json.
type FetchOutcome struct {
	Status       model.AcquireResultStatus
	BytesWritten int64
	Files        []FileResult
	Error        string
}

// FileResult records one written file's cumulative hash, per
// acquire_done.json's per-file contract (§4.4).
type FileResult struct {
	Path   string `json:"path"`
	Bytes  int64  `json:"bytes"`
	SHA256 string `json:"sha256"`
}

// Registry is the declarative strategy_name -> Strategy mapping (§4.4
// "Strategy registry"), safe for concurrent registration and lookup.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register adds a strategy under name, overwriting any prior
// registration — later registrations win, matching the teacher's
// registry semantics.
func (r *Registry) Register(name string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[name] = s
}

// Lookup returns the strategy registered under name.
func (r *Registry) Lookup(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	return s, ok
}

// Names returns every registered strategy name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	return names
}

// ValidateTarget checks that an enabled target's declared strategy is
// registered and its required params are present — a classify-time
// error per §4.4, not a silent noop at acquire time.
func (r *Registry) ValidateTarget(t model.Target) error {
	if !t.Enabled || t.ForceRed {
		return nil
	}
	s, ok := r.Lookup(t.Download.Strategy)
	if !ok {
		return model.NewError("acquire.unregistered_strategy", model.ClassPolicy, t.ID,
			fmt.Errorf("strategy %q is not registered", t.Download.Strategy))
	}
	for _, key := range s.RequiredParams() {
		if _, present := t.Download.Params[key]; !present {
			return model.NewError("acquire.missing_param", model.ClassPolicy, t.ID,
				fmt.Errorf("strategy %q requires param %q", t.Download.Strategy, key))
		}
	}
	return nil
}
