package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/FoilMiser/dataset-collector/internal/orchestrator"
)

func runMergeCmd(args []string) int {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	targetsPath := fs.String("config", defaultTargetsPath, "path to targets.yaml")
	execute := fs.Bool("execute", false, "write merged shards and dedupe ledgers; without it, preview shard counts per pool and exit")
	resume := fs.Bool("resume", true, "resume from the last completed checkpoint")
	fs.Parse(args)

	s, err := loadSetup(*targetsPath)
	if err != nil {
		return fail(err)
	}

	o := newOrchestrator(s, *targetsPath, nil, 1, *resume, orchOpts{dryRun: !*execute})

	if err := o.Preflight(); err != nil {
		fmt.Println("preflight failed:", err)
		return exitPreflight
	}

	if err := o.Run(context.Background(), []string{string(orchestrator.StageMerge)}); err != nil {
		return fail(err)
	}
	return exitOK
}
