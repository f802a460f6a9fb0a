package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/FoilMiser/dataset-collector/internal/acquire"
	"github.com/FoilMiser/dataset-collector/internal/acquire/strategies"
	"github.com/FoilMiser/dataset-collector/internal/classify"
	"github.com/FoilMiser/dataset-collector/internal/config"
	"github.com/FoilMiser/dataset-collector/internal/evidence"
	"github.com/FoilMiser/dataset-collector/internal/kernel"
	"github.com/FoilMiser/dataset-collector/internal/model"
	"github.com/FoilMiser/dataset-collector/internal/obslog"
	"github.com/FoilMiser/dataset-collector/internal/orchestrator"
	"github.com/FoilMiser/dataset-collector/internal/policy"
	"github.com/FoilMiser/dataset-collector/internal/runctx"
)

const defaultTargetsPath = "targets.yaml"

// setup bundles everything every subcommand needs after config loading:
// the run context, the loaded config (for companion file paths and
// globals), a pre-populated strategy registry, and the shared per-host
// rate limiter both the evidence fetcher and the http strategy wait on.
type setup struct {
	rc          *runctx.RunContext
	loaded      *config.LoadedConfig
	registry    *acquire.Registry
	rateLimiter *kernel.HostLimiter
}

// loadSetup reads targets.yaml (and its companion files) from path,
// builds the policy snapshot, and wires a RunContext logging to both
// stdout and logs_root/<run_id>.log, matching the teacher's
// CreateCombinedOutput convention (internal/obslog).
func loadSetup(targetsPath string) (*setup, error) {
	loaded, err := config.LoadTargetsConfig(targetsPath)
	if err != nil {
		return nil, err
	}

	store, err := policy.Load(loaded)
	if err != nil {
		return nil, err
	}

	rc := runctx.New(store)

	limiter, err := kernel.NewHostLimiter(loaded.Targets.Globals.RateLimit.Capacity, loaded.Targets.Globals.RateLimit.RefillPerSecond)
	if err != nil {
		return nil, model.NewError("collector.rate_limiter", model.ClassConfig, "", err)
	}

	if loaded.Targets.Globals.LogsRoot != "" {
		logPath := filepath.Join(loaded.Targets.Globals.LogsRoot, rc.RunID+".log")
		out, err := obslog.CreateCombinedOutput(logPath)
		if err == nil {
			rc.Logger.SetOutput(out)
		}
	}

	return &setup{rc: rc, loaded: loaded, registry: buildRegistry(limiter), rateLimiter: limiter}, nil
}

// buildRegistry registers every strategy named in §4.4's "Supported
// strategies" list against the acquisition runtime's registry. http is
// paced by limiter (§4.4 "Rate limiter (C8) capped by a token-bucket
// keyed by host").
func buildRegistry(limiter *kernel.HostLimiter) *acquire.Registry {
	r := acquire.NewRegistry()
	const httpTimeout = 60 * time.Second
	r.Register("http", strategies.NewHTTPStrategy(httpTimeout).WithRateLimiter(limiter))
	r.Register("ftp", strategies.NewFTPStrategy())
	r.Register("git", strategies.NewGitStrategy())
	r.Register("ipfs", strategies.NewIPFSStrategy())
	r.Register("zenodo", strategies.NewZenodoStrategy(httpTimeout))
	r.Register("figshare", strategies.NewFigshareStrategy(httpTimeout))
	r.Register("s3_public", strategies.NewS3PublicStrategy())
	r.Register("s3_sync", strategies.NewS3SyncStrategy())
	r.Register("aws_requester_pays", strategies.NewAWSRequesterPaysStrategy())
	r.Register("huggingface_datasets", strategies.NewHuggingFaceDatasetsStrategy(httpTimeout))
	return r
}

// configPaths returns targets.yaml plus its resolved companion files,
// for the orchestrator's drift watcher (§4.9).
func configPaths(targetsPath string, loaded *config.LoadedConfig) []string {
	base := filepath.Dir(targetsPath)
	paths := []string{targetsPath, filepath.Join(base, loaded.Targets.CompanionFiles.LicenseMap), filepath.Join(base, loaded.Targets.CompanionFiles.Denylist)}
	if loaded.Targets.CompanionFiles.FieldSchemas != "" {
		paths = append(paths, filepath.Join(base, loaded.Targets.CompanionFiles.FieldSchemas))
	}
	return paths
}

// evidenceRoot and stateRoot aren't named in globals (§6 lists only the
// eight content roots plus logs_root); both live alongside manifests_root
// so a single DATASET_ROOT override keeps every pipeline directory
// together.
func evidenceRoot(g model.Globals) string { return filepath.Join(g.ManifestsRoot, "..", "evidence") }
func stateRoot(g model.Globals) string    { return filepath.Join(g.ManifestsRoot, "..", "state") }

// orchOpts collects the per-subcommand knobs that vary across classify,
// acquire, yellow_screen, and merge; zero value matches classify's
// defaults (no cap, no dry run, no acquire-only knobs).
type orchOpts struct {
	allowHugeDownload bool
	failOnError       bool
	sampleCap         int
	dryRun            bool
	limitTargets      int
}

// newOrchestrator builds an Orchestrator wired from s, an evidence
// fetcher, and the acquire/checkpoint knobs every subcommand shares.
func newOrchestrator(s *setup, targetsPath string, fetcher classify.EvidenceFetcher, workers int, resume bool, opts orchOpts) *orchestrator.Orchestrator {
	g := s.loaded.Targets.Globals
	cfg := orchestrator.Config{
		Targets:           s.loaded.Targets.Targets,
		Registry:          s.registry,
		EvidenceFetcher:   fetcher,
		EvidenceRoot:      evidenceRoot(g),
		StateRoot:         stateRoot(g),
		Workers:           workers,
		Resume:            resume,
		ConfigPaths:       configPaths(targetsPath, s.loaded),
		AllowHugeDownload: opts.allowHugeDownload,
		FailOnError:       opts.failOnError,
		SampleCap:         opts.sampleCap,
		DryRun:            opts.dryRun,
		LimitTargets:      opts.limitTargets,
	}
	return orchestrator.New(s.rc, cfg)
}

// newEvidenceFetcher builds the production evidence.Fetcher, or an
// offline one when noFetch is set (classify --no-fetch reuses any
// previously retrieved sidecar instead of hitting the network). limiter
// governs per-host pacing of evidence fetches (§4.2).
func newEvidenceFetcher(root string, noFetch bool, limiter *kernel.HostLimiter) *evidence.Fetcher {
	return evidence.New(evidence.Config{EvidenceRoot: root, Offline: noFetch, RateLimiter: limiter})
}

// exitCodeFor maps a returned error onto §6's exit code contract.
func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	var se *model.StageError
	if errors.As(err, &se) {
		switch se.Class {
		case model.ClassConfig:
			return exitConfig
		case model.ClassPolicy:
			return exitPolicy
		case model.ClassResource:
			return exitPreflight
		}
	}
	return exitGeneric
}

func fail(err error) int {
	fmt.Fprintln(os.Stderr, "collector:", err)
	return exitCodeFor(err)
}
