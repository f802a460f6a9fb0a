package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/FoilMiser/dataset-collector/internal/orchestrator"
)

func runYellowScreenCmd(args []string) int {
	fs := flag.NewFlagSet("yellow_screen", flag.ExitOnError)
	targetsPath := fs.String("config", defaultTargetsPath, "path to targets.yaml")
	execute := fs.Bool("execute", false, "write screening ledgers and pitches; without it, preview the target count and exit")
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

	if err := o.Run(context.Background(), []string{string(orchestrator.StageYellowScreen)}); err != nil {
		return fail(err)
	}
	return exitOK
}
