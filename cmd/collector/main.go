// Command collector is the CLI front end for the dataset collection
// pipeline: classify, acquire, yellow_screen, merge, catalog, plus the
// interactive signoff authoring helper.
//
// Exit codes: 0 success; 1 generic failure; 2 preflight failure; 3
// config/schema error; 4 policy refuses the run (denylist load failure,
// unknown strategy on an enabled target).
package main

import (
	"fmt"
	"os"
)

const (
	exitOK             = 0
	exitGeneric        = 1
	exitPreflight      = 2
	exitConfig         = 3
	exitPolicy         = 4
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitGeneric)
	}

	var code int
	switch os.Args[1] {
	case "classify":
		code = runClassifyCmd(os.Args[2:])
	case "acquire":
		code = runAcquireCmd(os.Args[2:])
	case "yellow_screen", "screen_yellow":
		code = runYellowScreenCmd(os.Args[2:])
	case "merge":
		code = runMergeCmd(os.Args[2:])
	case "catalog":
		code = runCatalogCmd(os.Args[2:])
	case "signoff":
		code = runSignoffCmd(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		code = exitOK
	default:
		fmt.Fprintf(os.Stderr, "collector: unknown command %q\n", os.Args[1])
		usage()
		code = exitGeneric
	}
	os.Exit(code)
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: collector <command> [flags]

commands:
  classify      [--config path] [--no-fetch] [--workers N]
  acquire       [--config path] --bucket {green,yellow} [--execute] [--workers N] [--limit-targets N] [--fail-on-error] [--allow-huge-downloads]
  yellow_screen [--config path] [--execute]
  merge         [--config path] [--execute]
  catalog       [--config path]
  signoff       [--config path] --target ID --status {approved,rejected,pending}`)
}
