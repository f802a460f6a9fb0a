// Package orchestrator implements C9: it drives targets through the
// fixed stage sequence (classify, acquire_green, acquire_yellow,
// yellow_screen, merge, catalog), gates the run behind a preflight
// check, and watches the policy's companion files for drift while a
// long run is in progress.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/FoilMiser/dataset-collector/internal/acquire"
	"github.com/FoilMiser/dataset-collector/internal/catalog"
	"github.com/FoilMiser/dataset-collector/internal/classify"
	"github.com/FoilMiser/dataset-collector/internal/kernel"
	"github.com/FoilMiser/dataset-collector/internal/merge"
	"github.com/FoilMiser/dataset-collector/internal/model"
	"github.com/FoilMiser/dataset-collector/internal/obslog"
	"github.com/FoilMiser/dataset-collector/internal/runctx"
	"github.com/FoilMiser/dataset-collector/internal/screen"
)

// Stage names one step of the fixed pipeline.
type Stage string

const (
	StageClassify      Stage = "classify"
	StageAcquireGreen  Stage = "acquire_green"
	StageAcquireYellow Stage = "acquire_yellow"
	StageYellowScreen  Stage = "yellow_screen"
	StageMerge         Stage = "merge"
	StageCatalog       Stage = "catalog"
)

// Order is the fixed stage sequence the orchestrator runs stages in.
var Order = []Stage{StageClassify, StageAcquireGreen, StageAcquireYellow, StageYellowScreen, StageMerge, StageCatalog}

// ResolveStageAlias maps a CLI-supplied stage name onto its canonical
// Stage. "screen_yellow" is accepted as a deprecated alias for
// "yellow_screen"; deprecated reports true when the alias form was used
// so the caller can log a deprecation warning.
func ResolveStageAlias(name string) (stage Stage, deprecated bool, ok bool) {
	if name == "screen_yellow" {
		return StageYellowScreen, true, true
	}
	for _, s := range Order {
		if string(s) == name {
			return s, false, true
		}
	}
	return "", false, false
}

// Config carries the knobs the pipeline needs beyond what
// runctx.RunContext.Globals already supplies.
type Config struct {
	Targets          []model.Target
	Registry         *acquire.Registry
	EvidenceFetcher  classify.EvidenceFetcher
	EvidenceRoot     string
	StateRoot        string
	Workers          int
	AllowHugeDownload bool
	FailOnError      bool
	SampleCap        int
	Resume           bool

	// DryRun previews acquire/yellow_screen/merge without performing any
	// network fetch, screening write, or merge write; it logs what would
	// run and returns. classify and catalog ignore it (§6: only those
	// three subcommands take --execute).
	DryRun bool

	// LimitTargets caps how many queue rows of the requested bucket
	// acquire processes this run, 0 meaning no cap (§6 acquire --limit-targets).
	LimitTargets int

	// ConfigPaths names targets.yaml and its resolved companion_files
	// (license_map, denylist, field_schemas). When non-empty, Run watches
	// them for the duration of the stage sequence and logs a
	// policy_drift_detected warning on any change; it never reloads
	// mid-run (§4.9).
	ConfigPaths []string
}

// Orchestrator drives one run of the pipeline.
type Orchestrator struct {
	rc          *runctx.RunContext
	cfg         Config
	targetsByID map[string]model.Target

	// failedTargets accumulates failures observed directly by the
	// orchestrator (currently only classify-stage failures, since
	// acquire failures are recoverable from acquire_done.json manifests
	// by the catalog builder itself).
	failedTargets []model.FailedTarget
}

// New builds an Orchestrator for one run.
func New(rc *runctx.RunContext, cfg Config) *Orchestrator {
	byID := make(map[string]model.Target, len(cfg.Targets))
	for _, t := range cfg.Targets {
		byID[t.ID] = t
	}
	return &Orchestrator{rc: rc, cfg: cfg, targetsByID: byID}
}

// Preflight is a hard gate run once before any stage: it verifies every
// enabled target's strategy is registered with its required params
// present, every external tool a strategy in use shells out to is on
// PATH, and the evidence directory is writable. A non-nil error means
// the caller must halt before running any stage (§4.9).
func (o *Orchestrator) Preflight() error {
	var errs []error

	tools := map[string]bool{}
	for _, t := range o.cfg.Targets {
		if !t.Enabled || t.ForceRed {
			continue
		}
		if err := o.cfg.Registry.ValidateTarget(t); err != nil {
			errs = append(errs, err)
			continue
		}
		strat, _ := o.cfg.Registry.Lookup(t.Download.Strategy)
		for _, tool := range strat.RequiresTools() {
			tools[tool] = true
		}
	}

	for tool := range tools {
		if _, err := exec.LookPath(tool); err != nil {
			errs = append(errs, model.NewError("orchestrator.preflight_tool", model.ClassResource, "",
				fmt.Errorf("required external tool %q not found on PATH: %w", tool, err)))
		}
	}

	if o.cfg.EvidenceRoot != "" {
		if err := checkWritable(o.cfg.EvidenceRoot); err != nil {
			errs = append(errs, model.NewError("orchestrator.preflight_evidence_dir", model.ClassResource, "",
				fmt.Errorf("evidence root %q not writable: %w", o.cfg.EvidenceRoot, err)))
		}
	}

	return errors.Join(errs...)
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".preflight_write_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}

// Run executes stages in stageNames, resolving aliases and rejecting
// any name that isn't a recognized stage. It does not reorder: stages
// run in the order given, which callers are expected to have already
// sorted against Order (cmd/collector enforces this; Run itself trusts
// its caller so a single-stage retry doesn't have to replay the whole
// sequence).
func (o *Orchestrator) Run(ctx context.Context, stageNames []string) error {
	if len(o.cfg.ConfigPaths) > 0 {
		dw, err := startDriftWatch(o.rc.Logger, o.cfg.ConfigPaths)
		if err != nil {
			o.rc.Logger.Warn("policy drift watch unavailable", map[string]interface{}{"error": err.Error()})
		} else {
			defer dw.Stop()
		}
	}

	for _, name := range stageNames {
		stage, deprecated, ok := ResolveStageAlias(name)
		if !ok {
			return fmt.Errorf("orchestrator: unknown stage %q", name)
		}
		if deprecated {
			o.rc.Logger.Warn("stage alias is deprecated", map[string]interface{}{
				"alias": name, "canonical": string(stage),
			})
		}
		if err := o.RunStage(ctx, stage); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// RunStage executes a single stage.
func (o *Orchestrator) RunStage(ctx context.Context, stage Stage) error {
	logger := o.rc.Stage(string(stage))
	logger.Info("stage starting")

	var err error
	switch stage {
	case StageClassify:
		err = o.runClassify(ctx, logger)
	case StageAcquireGreen:
		err = o.runAcquire(ctx, logger, model.BucketGreen)
	case StageAcquireYellow:
		err = o.runAcquire(ctx, logger, model.BucketYellow)
	case StageYellowScreen:
		err = o.runYellowScreen(ctx, logger)
	case StageMerge:
		err = o.runMerge(ctx, logger)
	case StageCatalog:
		err = o.runCatalog(ctx, logger)
	default:
		err = fmt.Errorf("orchestrator: unhandled stage %q", stage)
	}

	if err != nil {
		logger.Error("stage failed", map[string]interface{}{"error": err.Error()})
		return err
	}
	logger.Info("stage complete")
	return nil
}

// loadSignoffState reads signoff.json and evaluation.json from a YELLOW
// target's manifest directory and resolves them into the screener's
// SignoffState input, per §4.2/§4.5. Both files are optional: a target
// with no signoff file yields Present=false, which CheckSignoffGate
// treats as signoff_missing. Staleness re-uses the evidence hash the
// classifier already captured at classify time rather than re-fetching
// evidence during screening, mirroring model.EvidenceSnapshot.IsStale's
// "either" default (a normalized-hash mismatch invalidates the signoff).
func (o *Orchestrator) loadSignoffState(target model.Target, row model.QueueRow) (screen.SignoffState, error) {
	signoffPath := filepath.Join(row.ManifestDir, "signoff.json")
	signoffData, err := os.ReadFile(signoffPath)
	if err != nil {
		if os.IsNotExist(err) {
			return screen.SignoffState{Present: false}, nil
		}
		return screen.SignoffState{}, fmt.Errorf("read signoff.json: %w", err)
	}

	var signoff model.Signoff
	if err := json.Unmarshal(signoffData, &signoff); err != nil {
		return screen.SignoffState{}, fmt.Errorf("parse signoff.json: %w", err)
	}

	evalData, err := os.ReadFile(filepath.Join(row.ManifestDir, "evaluation.json"))
	if err != nil {
		return screen.SignoffState{}, fmt.Errorf("read evaluation.json: %w", err)
	}
	var manifest model.EvaluationManifest
	if err := json.Unmarshal(evalData, &manifest); err != nil {
		return screen.SignoffState{}, fmt.Errorf("parse evaluation.json: %w", err)
	}

	return screen.SignoffState{
		Present:       true,
		Signoff:       &signoff,
		EvidenceStale: manifest.EvidenceSHA256Normalized != signoff.EvidenceHashAtSignoff,
	}, nil
}

func (o *Orchestrator) globals() model.Globals { return o.rc.Globals() }

// sortedEnabledTargets returns the configured targets that participate
// in classification, sorted by ID for deterministic run-to-run ordering.
func (o *Orchestrator) sortedEnabledTargets() []model.Target {
	out := make([]model.Target, 0, len(o.cfg.Targets))
	for _, t := range o.cfg.Targets {
		if t.Enabled {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (o *Orchestrator) runClassify(ctx context.Context, logger *obslog.Logger) error {
	g := o.globals()
	c := classify.New(o.rc.Policy, o.cfg.EvidenceFetcher, g.ManifestsRoot)

	checkpoint, err := kernel.LoadCheckpointStore(kernel.CheckpointPath(o.cfg.StateRoot, string(StageClassify)), o.cfg.Resume)
	if err != nil {
		return model.NewError("orchestrator.classify_checkpoint", model.ClassResource, "", err)
	}

	for _, target := range o.sortedEnabledTargets() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if checkpoint.IsDone(target.ID) {
			continue
		}

		res, err := c.Classify(target)
		if err != nil {
			var se *model.StageError
			if errors.As(err, &se) && model.IsAbortClass(se.Class) {
				return err
			}
			o.failedTargets = append(o.failedTargets, model.FailedTarget{
				TargetID: target.ID, Stage: string(StageClassify), Error: err.Error(),
			})
			_ = checkpoint.Mark(target.ID, kernel.CheckpointFailed)
			continue
		}

		if err := classify.WriteResult(g.QueuesRoot, res); err != nil {
			return model.NewError("orchestrator.classify_write", model.ClassResource, target.ID, err)
		}
		_ = checkpoint.Mark(target.ID, kernel.CheckpointDone)
	}
	return nil
}

func (o *Orchestrator) runAcquire(ctx context.Context, logger *obslog.Logger, bucket model.Bucket) error {
	g := o.globals()
	rows, err := classify.ReadQueue(g.QueuesRoot)
	if err != nil {
		return model.NewError("orchestrator.acquire_read_queue", model.ClassResource, "", err)
	}

	var bucketRows []model.QueueRow
	for _, row := range rows {
		if row.Bucket == bucket {
			bucketRows = append(bucketRows, row)
		}
	}
	if len(bucketRows) == 0 {
		return nil
	}
	if o.cfg.LimitTargets > 0 && len(bucketRows) > o.cfg.LimitTargets {
		bucketRows = bucketRows[:o.cfg.LimitTargets]
	}
	if o.cfg.DryRun {
		logger.Info("acquire dry run", map[string]interface{}{"bucket": string(bucket), "targets": len(bucketRows)})
		return nil
	}

	runner := acquire.NewRunner(o.cfg.Registry, g.RawRoot, o.cfg.Workers)
	runner.FailOnError(o.cfg.FailOnError)

	_, err = runner.Run(ctx, o.rc.RunID, bucketRows, g.MaxBytesPerTarget, o.cfg.AllowHugeDownload)
	if err != nil {
		return model.NewError("orchestrator.acquire", model.ClassNetwork, "", err)
	}
	return nil
}

func (o *Orchestrator) runYellowScreen(ctx context.Context, logger *obslog.Logger) error {
	g := o.globals()
	rows, err := classify.ReadQueue(g.QueuesRoot)
	if err != nil {
		return model.NewError("orchestrator.screen_read_queue", model.ClassResource, "", err)
	}

	roots := screen.Roots{
		ScreenedYellowRoot: g.ScreenedYellowRoot,
		LedgerRoot:         g.LedgerRoot,
		PitchesRoot:        g.PitchesRoot,
	}
	screener := screen.New(o.rc.Policy, roots, o.cfg.SampleCap)

	if o.cfg.DryRun {
		var n int
		for _, row := range rows {
			if row.Bucket == model.BucketYellow {
				n++
			}
		}
		logger.Info("yellow_screen dry run", map[string]interface{}{"targets": n})
		return nil
	}

	for _, row := range rows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if row.Bucket != model.BucketYellow {
			continue
		}
		target, ok := o.targetsByID[row.TargetID]
		if !ok {
			continue
		}

		state, err := o.loadSignoffState(target, row)
		if err != nil {
			return model.NewError("orchestrator.load_signoff", model.ClassSignoff, row.TargetID, err)
		}

		rawDir := acquire.TargetDir(g.RawRoot, row)
		if _, err := screener.ScreenTarget(o.rc.RunID, row, target, state, rawDir); err != nil {
			return model.NewError("orchestrator.screen_target", model.ClassResource, row.TargetID, err)
		}
	}
	return nil
}

func (o *Orchestrator) runMerge(ctx context.Context, logger *obslog.Logger) error {
	g := o.globals()
	rows, err := classify.ReadQueue(g.QueuesRoot)
	if err != nil {
		return model.NewError("orchestrator.merge_read_queue", model.ClassResource, "", err)
	}

	roots := merge.Roots{
		CombinedRoot: g.CombinedRoot,
		IndexRoot:    filepath.Join(g.CombinedRoot, "..", "index"),
		LedgerRoot:   g.LedgerRoot,
	}
	merger := merge.New(roots, g.Sharding.MaxRecordsPerShard, 0)

	byPool := map[model.LicensePool][]merge.SourceShard{}
	for _, row := range rows {
		var dir, prefix string
		switch row.Bucket {
		case model.BucketGreen:
			dir = filepath.Join(acquire.TargetDir(g.RawRoot, row), "shards")
			prefix = "green"
		case model.BucketYellow:
			dir = filepath.Join(g.ScreenedYellowRoot, string(row.LicensePool), row.TargetID)
			prefix = "yellow_shard"
		default:
			continue
		}
		shards, err := kernel.ShardsInOrder(dir, prefix)
		if err != nil {
			return model.NewError("orchestrator.merge_discover_shards", model.ClassResource, row.TargetID, err)
		}
		for _, path := range shards {
			byPool[row.LicensePool] = append(byPool[row.LicensePool], merge.SourceShard{TargetID: row.TargetID, Path: path})
		}
	}

	for _, pool := range []model.LicensePool{model.PoolPermissive, model.PoolCopyleft, model.PoolQuarantine} {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		shards := merge.SortShards(byPool[pool])
		if len(shards) == 0 {
			continue
		}
		if o.cfg.DryRun {
			logger.Info("merge dry run", map[string]interface{}{"pool": string(pool), "shards": len(shards)})
			continue
		}
		if _, err := merger.MergePool(o.rc.RunID, pool, shards); err != nil {
			return model.NewError("orchestrator.merge_pool", model.ClassDedupe, string(pool), err)
		}
	}
	return nil
}

func (o *Orchestrator) runCatalog(ctx context.Context, logger *obslog.Logger) error {
	g := o.globals()
	roots := catalog.Roots{
		RawRoot:            g.RawRoot,
		ScreenedYellowRoot: g.ScreenedYellowRoot,
		CombinedRoot:       g.CombinedRoot,
		ManifestsRoot:      g.ManifestsRoot,
		LedgerRoot:         g.LedgerRoot,
		CatalogsRoot:       g.CatalogsRoot,
	}
	builder := catalog.New(roots, o.rc.RunID, o.rc.PolicyHash())
	builder.AddFailedTargets(o.failedTargets)

	_, digest, err := builder.Write()
	if err != nil {
		return err
	}
	logger.Info("catalog written", map[string]interface{}{"digest": digest})
	return nil
}
