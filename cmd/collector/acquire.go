package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/FoilMiser/dataset-collector/internal/model"
	"github.com/FoilMiser/dataset-collector/internal/orchestrator"
)

func runAcquireCmd(args []string) int {
	fs := flag.NewFlagSet("acquire", flag.ExitOnError)
	targetsPath := fs.String("config", defaultTargetsPath, "path to targets.yaml")
	bucket := fs.String("bucket", "", "queue bucket to acquire: green or yellow (required)")
	execute := fs.Bool("execute", false, "perform the fetch; without it, preview the target count and exit")
	workers := fs.Int("workers", 4, "acquisition concurrency")
	limitTargets := fs.Int("limit-targets", 0, "cap the number of queued targets acquired this run, 0 for no cap")
	failOnError := fs.Bool("fail-on-error", false, "abort the whole run on the first target failure instead of continuing past it")
	allowHuge := fs.Bool("allow-huge-downloads", false, "permit targets whose declared size exceeds max_bytes_per_target")
	resume := fs.Bool("resume", true, "resume from the last completed checkpoint")
	fs.Parse(args)

	var b model.Bucket
	switch *bucket {
	case "green":
		b = model.BucketGreen
	case "yellow":
		b = model.BucketYellow
	default:
		fmt.Println("acquire: --bucket must be \"green\" or \"yellow\"")
		return exitGeneric
	}

	s, err := loadSetup(*targetsPath)
	if err != nil {
		return fail(err)
	}

	o := newOrchestrator(s, *targetsPath, nil, *workers, *resume, orchOpts{
		allowHugeDownload: *allowHuge,
		failOnError:       *failOnError,
		dryRun:            !*execute,
		limitTargets:      *limitTargets,
	})

	if err := o.Preflight(); err != nil {
		fmt.Println("preflight failed:", err)
		return exitPreflight
	}

	stage := orchestrator.StageAcquireGreen
	if b == model.BucketYellow {
		stage = orchestrator.StageAcquireYellow
	}

	if err := o.Run(context.Background(), []string{string(stage)}); err != nil {
		return fail(err)
	}
	return exitOK
}
