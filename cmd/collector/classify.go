package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/FoilMiser/dataset-collector/internal/orchestrator"
)

func runClassifyCmd(args []string) int {
	fs := flag.NewFlagSet("classify", flag.ExitOnError)
	targetsPath := fs.String("config", defaultTargetsPath, "path to targets.yaml")
	noFetch := fs.Bool("no-fetch", false, "skip evidence refetch; reuse the last retrieved sidecar")
	workers := fs.Int("workers", 4, "evidence-fetch concurrency (bounded by the fetcher's own rate limit)")
	resume := fs.Bool("resume", true, "resume from the last completed checkpoint")
	fs.Parse(args)

	s, err := loadSetup(*targetsPath)
	if err != nil {
		return fail(err)
	}

	g := s.loaded.Targets.Globals
	fetcher := newEvidenceFetcher(evidenceRoot(g), *noFetch, s.rateLimiter)
	o := newOrchestrator(s, *targetsPath, fetcher, *workers, *resume, orchOpts{})

	if err := o.Preflight(); err != nil {
		fmt.Println("preflight failed:", err)
		return exitPreflight
	}

	if err := o.Run(context.Background(), []string{string(orchestrator.StageClassify)}); err != nil {
		return fail(err)
	}
	return exitOK
}
