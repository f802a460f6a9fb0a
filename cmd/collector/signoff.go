package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/FoilMiser/dataset-collector/internal/kernel"
	"github.com/FoilMiser/dataset-collector/internal/model"
)

// runSignoffCmd writes a reviewer signoff.json into a YELLOW target's
// manifest directory, binding it to the evidence hash the classifier
// captured at classify time (§3, §4.5). Reviewer fields not given as
// flags are prompted for interactively; EvidenceHashAtSignoff is always
// read from the target's own evaluation.json, never entered by hand.
func runSignoffCmd(args []string) int {
	fs := flag.NewFlagSet("signoff", flag.ExitOnError)
	targetsPath := fs.String("config", defaultTargetsPath, "path to targets.yaml")
	targetID := fs.String("target", "", "target ID to sign off on (required)")
	status := fs.String("status", "", "approved, rejected, or pending (required)")
	reviewer := fs.String("reviewer", "", "reviewer name; prompted if omitted")
	contact := fs.String("reviewer-contact", "", "reviewer contact; prompted if omitted")
	notes := fs.String("notes", "", "free-text notes; prompted if omitted")
	constraints := fs.String("constraints", "", "usage constraints the reviewer is imposing; prompted if omitted")
	fs.Parse(args)

	if *targetID == "" {
		fmt.Println("signoff: --target is required")
		return exitGeneric
	}
	st := model.SignoffStatus(*status)
	switch st {
	case model.SignoffApproved, model.SignoffRejected, model.SignoffPending:
	default:
		fmt.Println("signoff: --status must be approved, rejected, or pending")
		return exitGeneric
	}

	s, err := loadSetup(*targetsPath)
	if err != nil {
		return fail(err)
	}
	g := s.loaded.Targets.Globals
	manifestDir := filepath.Join(g.ManifestsRoot, kernel.SanitizeFilename(*targetID))

	evalData, err := os.ReadFile(filepath.Join(manifestDir, "evaluation.json"))
	if err != nil {
		fmt.Println("signoff: read evaluation.json:", err)
		return exitGeneric
	}
	var manifest model.EvaluationManifest
	if err := json.Unmarshal(evalData, &manifest); err != nil {
		fmt.Println("signoff: parse evaluation.json:", err)
		return exitGeneric
	}

	in := bufio.NewScanner(os.Stdin)
	if *reviewer == "" {
		*reviewer = promptLine(in, "Reviewer name: ")
	}
	if *contact == "" {
		*contact = promptLine(in, "Reviewer contact (email or handle): ")
	}
	if *notes == "" {
		*notes = promptLine(in, "Notes (optional): ")
	}
	if *constraints == "" {
		*constraints = promptLine(in, "Constraints imposed on use (optional): ")
	}
	linksRaw := promptLine(in, "Evidence links checked (comma-separated): ")
	var links []string
	for _, l := range strings.Split(linksRaw, ",") {
		if l = strings.TrimSpace(l); l != "" {
			links = append(links, l)
		}
	}

	signoff := model.Signoff{
		TargetID:              *targetID,
		Status:                st,
		Reviewer:              *reviewer,
		ReviewerContact:       *contact,
		ReviewedAtUTC:         time.Now().UTC(),
		EvidenceLinksChecked:  links,
		Constraints:           *constraints,
		Notes:                 *notes,
		EvidenceHashAtSignoff: manifest.EvidenceSHA256Normalized,
	}

	data, err := json.MarshalIndent(signoff, "", "  ")
	if err != nil {
		return fail(err)
	}
	if err := kernel.WriteAtomic(filepath.Join(manifestDir, "signoff.json"), data); err != nil {
		return fail(err)
	}

	fmt.Println("signoff written:", filepath.Join(manifestDir, "signoff.json"))
	return exitOK
}

// promptLine prints prompt to stderr and reads one line from in,
// returning "" on EOF (non-interactive input, e.g. piped or redirected).
func promptLine(in *bufio.Scanner, prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	if !in.Scan() {
		return ""
	}
	return strings.TrimSpace(in.Text())
}
