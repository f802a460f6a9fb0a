// Package policy composes the license map and denylist companion files
// into an immutable PolicySnapshot (C1) and exposes the matching/lookup
// operations every other stage queries it through.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"

	"github.com/FoilMiser/dataset-collector/internal/config"
	"github.com/FoilMiser/dataset-collector/internal/model"
)

// Store is the loaded, queryable policy snapshot plus compiled matchers
// that aren't cheap to rebuild per call (compiled regexes).
type Store struct {
	snapshot model.PolicySnapshot

	mu       sync.RWMutex
	regexes  []compiledPattern
}

type compiledPattern struct {
	pattern model.DenylistPattern
	re      *regexp.Regexp
}

// Load builds a Store from an already-parsed config.LoadedConfig. It
// compiles denylist regexes once and computes the policy hash over the
// canonical JSON encoding of the license map and denylist, so any byte
// change to either companion file produces a different hash (§3 "a
// policy snapshot has a content hash").
func Load(loaded *config.LoadedConfig) (*Store, error) {
	var regexes []compiledPattern
	for _, p := range loaded.Denylist.Patterns {
		if p.Type != model.PatternRegex {
			continue
		}
		re, err := regexp.Compile(p.Value)
		if err != nil {
			return nil, model.NewError("policy.compile_regex", model.ClassPolicy, "", fmt.Errorf("denylist pattern %q: %w", p.Value, err))
		}
		regexes = append(regexes, compiledPattern{pattern: p, re: re})
	}

	hash, err := computeHash(loaded.LicenseMap, loaded.Denylist)
	if err != nil {
		return nil, model.NewError("policy.hash", model.ClassPolicy, "", err)
	}

	snapshot := model.PolicySnapshot{
		Hash:          hash,
		LicenseMap:    loaded.LicenseMap,
		Denylist:      loaded.Denylist,
		Globals:       loaded.Targets.Globals,
		SchemaVersion: loaded.Targets.SchemaVersion,
	}

	return &Store{snapshot: snapshot, regexes: regexes}, nil
}

func computeHash(lm model.LicenseMap, dl model.Denylist) (string, error) {
	lmBytes, err := json.Marshal(lm)
	if err != nil {
		return "", fmt.Errorf("marshal license map: %w", err)
	}
	dlBytes, err := json.Marshal(dl)
	if err != nil {
		return "", fmt.Errorf("marshal denylist: %w", err)
	}
	sum := sha256.Sum256(append(lmBytes, dlBytes...))
	return hex.EncodeToString(sum[:]), nil
}

// PolicyHash returns the snapshot's content hash, stamped onto every
// artifact produced under this run.
func (s *Store) PolicyHash() string { return s.snapshot.Hash }

// Snapshot returns the underlying immutable snapshot.
func (s *Store) Snapshot() model.PolicySnapshot { return s.snapshot }

// AllowSPDX returns the license map's allow list.
func (s *Store) AllowSPDX() []string { return s.snapshot.LicenseMap.SPDX.Allow }

// ConditionalSPDX returns the license map's conditional list.
func (s *Store) ConditionalSPDX() []string { return s.snapshot.LicenseMap.SPDX.Conditional }

// DenySPDXPrefixes returns the license map's deny-prefix list.
func (s *Store) DenySPDXPrefixes() []string { return s.snapshot.LicenseMap.SPDX.DenyPrefixes }

// RestrictionPhrases returns the configured restriction phrases, plus
// the closed-vocabulary defaults §4.3 step 3 always scans for.
func (s *Store) RestrictionPhrases() []string {
	base := []string{"noai", "no tdm", "no machine learning"}
	return append(base, s.snapshot.LicenseMap.RestrictionScan.Phrases...)
}

// ProfileDefaultBucket returns the configured default bucket for a
// license profile, or BucketYellow if the profile has no entry.
func (s *Store) ProfileDefaultBucket(profile model.LicenseProfile) model.Bucket {
	rule, ok := s.snapshot.LicenseMap.Profiles[string(profile)]
	if !ok {
		return model.BucketYellow
	}
	return rule.DefaultBucket
}

// ScreeningThresholds returns the globals.screening block.
func (s *Store) ScreeningThresholds() model.ScreeningGlobals {
	return s.snapshot.Globals.Screening
}

// NormalizeSPDX applies the longest-match rulebook to text, returning
// the resolved SPDX identifier, a confidence weight, and the matched
// evidence snippet. An unmatched text resolves to ("", 0, "") — callers
// apply the unknown_spdx_bucket gate (§4.1 "Failure").
//
// confidence is the minimum of the matched rule's own weight and
// evidenceWeight, the caller's estimate of how much to trust the text
// being matched against (1.0 for a raw-text evidence snapshot, lower
// when extraction failed or the text is only a declared hint rather
// than fetched evidence) — a rule can't be more confident than its
// evidence.
func (s *Store) NormalizeSPDX(text string, evidenceWeight float64) (spdx string, confidence float64, snippet string) {
	lower := strings.ToLower(text)

	var bestRule model.SPDXRule
	var bestMatch string
	for _, rule := range s.snapshot.LicenseMap.Normalization.Rules {
		for _, candidate := range rule.MatchAny {
			if len(candidate) == 0 {
				continue
			}
			if strings.Contains(lower, strings.ToLower(candidate)) {
				if len(candidate) > len(bestMatch) {
					bestMatch = candidate
					bestRule = rule
				}
			}
		}
	}

	if bestMatch == "" {
		return "", 0, ""
	}
	return bestRule.SPDX, math.Min(bestRule.Confidence, evidenceWeight), bestMatch
}

// DenylistMatch evaluates value (a URL, publisher name, or opaque id)
// against every compiled denylist pattern, returning every hit. Domain
// patterns require value to parse as a URL or bare hostname; substring
// and regex patterns operate on the raw string.
func (s *Store) DenylistMatch(value string) []model.DenylistHit {
	var hits []model.DenylistHit

	host := extractHost(value)
	lowerValue := strings.ToLower(value)

	for _, p := range s.snapshot.Denylist.Patterns {
		switch p.Type {
		case model.PatternDomain:
			if host != "" && domainMatches(host, p.Value) {
				hits = append(hits, toHit(p))
			}
		case model.PatternSubstring:
			if strings.Contains(lowerValue, strings.ToLower(p.Value)) {
				hits = append(hits, toHit(p))
			}
		case model.PatternRegex:
			for _, cp := range s.regexes {
				if cp.pattern.Value == p.Value && cp.re.MatchString(value) {
					hits = append(hits, toHit(p))
				}
			}
		}
	}
	return hits
}

func toHit(p model.DenylistPattern) model.DenylistHit {
	return model.DenylistHit{Severity: p.Severity, Value: p.Value, Link: p.Link, Rationale: p.Rationale}
}

// extractHost pulls a hostname out of value, which may already be a bare
// hostname or a full URL.
func extractHost(value string) string {
	if u, err := url.Parse(value); err == nil && u.Host != "" {
		host := u.Hostname()
		return strings.ToLower(host)
	}
	if net.ParseIP(value) != nil {
		return ""
	}
	return strings.ToLower(value)
}

// domainMatches implements §4.1's boundary-safe domain matching: host
// equals the pattern, or host is a strict subdomain of it. A pattern
// that is itself a bare public suffix (e.g. "co.uk") never matches by
// subdomain rule alone — operators must denylist the registrable domain,
// not the eTLD, to avoid banning every site under it.
func domainMatches(host, pattern string) bool {
	pattern = strings.ToLower(pattern)
	if host == pattern {
		return true
	}
	if suffix, icann := publicsuffix.PublicSuffix(pattern); icann && suffix == pattern {
		return false
	}
	return strings.HasSuffix(host, "."+pattern)
}

// AllMatches scans every declared URL against the denylist, used by the
// classifier (§4.3 step 2) on a target's structured download params plus
// its evidence URL.
func (s *Store) AllMatches(values []string) []model.DenylistHit {
	sort.Strings(values)
	var all []model.DenylistHit
	for _, v := range values {
		all = append(all, s.DenylistMatch(v)...)
	}
	return all
}
