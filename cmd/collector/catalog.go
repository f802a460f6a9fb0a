package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/FoilMiser/dataset-collector/internal/orchestrator"
)

func runCatalogCmd(args []string) int {
	fs := flag.NewFlagSet("catalog", flag.ExitOnError)
	targetsPath := fs.String("config", defaultTargetsPath, "path to targets.yaml")
	fs.Parse(args)

	s, err := loadSetup(*targetsPath)
	if err != nil {
		return fail(err)
	}

	o := newOrchestrator(s, *targetsPath, nil, 1, true, orchOpts{})

	if err := o.Preflight(); err != nil {
		fmt.Println("preflight failed:", err)
		return exitPreflight
	}

	if err := o.Run(context.Background(), []string{string(orchestrator.StageCatalog)}); err != nil {
		return fail(err)
	}
	return exitOK
}
