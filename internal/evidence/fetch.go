// Package evidence implements the license-evidence fetcher (C2): SSRF-
// guarded downloads of a target's license/ToS document, atomic snapshot
// storage with prior-version retention, and text extraction for the
// normalized-content hash change-detection signal.
package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/FoilMiser/dataset-collector/internal/kernel"
	"github.com/FoilMiser/dataset-collector/internal/model"
)

// Fetcher retrieves and stores license evidence snapshots under an
// evidence root directory, one subdirectory per target.
type Fetcher struct {
	client       *http.Client
	evidenceRoot string
	maxAttempts  int
	baseDelay    time.Duration
	maxDelay     time.Duration
	offline      bool
	rateLimiter  *kernel.HostLimiter
}

// Config configures a Fetcher.
type Config struct {
	EvidenceRoot string
	Timeout      time.Duration
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Offline      bool

	// RateLimiter governs per-host request pacing (§4.2 "the process-wide
	// rate limiter (C8) governs per-host concurrency"). Nil disables
	// pacing, which callers should only do in tests.
	RateLimiter *kernel.HostLimiter
}

// New builds a Fetcher from cfg, filling in the documented defaults for
// zero-valued fields.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	return &Fetcher{
		client:       NewGuardedClient(cfg.Timeout),
		evidenceRoot: cfg.EvidenceRoot,
		maxAttempts:  cfg.MaxAttempts,
		baseDelay:    cfg.BaseDelay,
		maxDelay:     cfg.MaxDelay,
		offline:      cfg.Offline,
		rateLimiter:  cfg.RateLimiter,
	}
}

// targetDir is the per-target evidence directory.
func (f *Fetcher) targetDir(targetID string) string {
	return filepath.Join(f.evidenceRoot, kernel.SanitizeFilename(targetID))
}

func (f *Fetcher) sidecarPath(targetID string) string {
	return filepath.Join(f.targetDir(targetID), "license_evidence.json")
}

// loadPriorSnapshot reads the sidecar of the current snapshot, if any.
func (f *Fetcher) loadPriorSnapshot(targetID string) (*model.EvidenceSnapshot, error) {
	data, err := os.ReadFile(f.sidecarPath(targetID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var snap model.EvidenceSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Fetch retrieves the evidence document at rawURL for targetID, or
// reuses the prior snapshot when in offline mode. Implements §4.2 in
// full: SSRF guard, atomic write + prior-version rotation, dual hashing,
// and the offline-missing-snapshot force-YELLOW signal.
func (f *Fetcher) Fetch(targetID, rawURL string) (*model.EvidenceSnapshot, error) {
	prior, err := f.loadPriorSnapshot(targetID)
	if err != nil {
		return nil, model.NewError("evidence.load_prior", model.ClassEvidence, targetID, err)
	}

	if f.offline {
		if prior == nil {
			return &model.EvidenceSnapshot{
				TargetID:       targetID,
				RetrievedAtUTC: time.Now().UTC(),
				FromOfflineReuse: false,
			}, model.NewError("evidence.offline_missing", model.ClassEvidence, targetID, fmt.Errorf("evidence_missing_offline"))
		}
		reused := *prior
		reused.FromOfflineReuse = true
		return &reused, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, model.NewError("evidence.parse_url", model.ClassEvidence, targetID, err)
	}
	if err := ValidateScheme(u); err != nil {
		return nil, model.NewError("evidence.ssrf_guard", model.ClassEvidence, targetID, err)
	}

	if f.rateLimiter != nil {
		if err := f.rateLimiter.Wait(context.Background(), u.Hostname()); err != nil {
			return nil, model.NewError("evidence.rate_limit", model.ClassNetwork, targetID, err)
		}
	}

	body, finalURL, contentType, err := f.fetchWithRetry(u)
	if err != nil {
		return nil, model.NewError("evidence.fetch", model.ClassNetwork, targetID, err)
	}

	shaRaw := kernel.SHA256Hex(body)
	normalizedText, extractErr := extractText(contentType, body)
	var shaNormalized string
	var extractionFailed bool
	if extractErr != nil {
		shaNormalized = shaRaw
		extractionFailed = true
	} else {
		shaNormalized = kernel.ContentSHA256(normalizedText)
	}

	ext := canonicalExt(contentType, finalURL)
	if err := f.rotatePriorSnapshot(targetID, ext); err != nil {
		return nil, model.NewError("evidence.rotate", model.ClassResource, targetID, err)
	}

	evidencePath := filepath.Join(f.targetDir(targetID), "license_evidence."+ext)
	if err := kernel.WriteAtomic(evidencePath, body); err != nil {
		return nil, model.NewError("evidence.write", model.ClassResource, targetID, err)
	}

	snap := &model.EvidenceSnapshot{
		TargetID:             targetID,
		ContentType:          contentType,
		SHA256Raw:            shaRaw,
		SHA256NormalizedText: shaNormalized,
		RetrievedAtUTC:       time.Now().UTC(),
		URLFinal:             finalURL,
		TextExtractionFailed: extractionFailed,
		CanonicalExt:         ext,
		ExtractedText:        normalizedText,
	}

	sidecar, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, model.NewError("evidence.marshal_sidecar", model.ClassResource, targetID, err)
	}
	if err := kernel.WriteAtomic(f.sidecarPath(targetID), sidecar); err != nil {
		return nil, model.NewError("evidence.write_sidecar", model.ClassResource, targetID, err)
	}

	return snap, nil
}

// rotatePriorSnapshot renames the existing license_evidence.<ext> file
// (if any) to license_evidence.prev_<n>.<ext>, picking the lowest n not
// already in use (§3 "prior versions renamed, never deleted").
func (f *Fetcher) rotatePriorSnapshot(targetID, newExt string) error {
	dir := f.targetDir(targetID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var current string
	maxPrev := -1
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "license_evidence.") || strings.HasSuffix(name, ".json") {
			continue
		}
		if strings.Contains(name, ".prev_") {
			var n int
			if _, err := fmt.Sscanf(afterPrevMarker(name), "%d", &n); err == nil && n > maxPrev {
				maxPrev = n
			}
			continue
		}
		current = name
	}

	if current == "" {
		return nil
	}
	ext := strings.TrimPrefix(filepath.Ext(current), ".")
	next := maxPrev + 1
	newName := fmt.Sprintf("license_evidence.prev_%d.%s", next, ext)
	return os.Rename(filepath.Join(dir, current), filepath.Join(dir, newName))
}

func afterPrevMarker(name string) string {
	idx := strings.Index(name, ".prev_")
	rest := name[idx+len(".prev_"):]
	if dot := strings.Index(rest, "."); dot >= 0 {
		return rest[:dot]
	}
	return rest
}

// fetchWithRetry performs the HTTP GET with bounded, exponentially
// backed-off retries (§4.2).
func (f *Fetcher) fetchWithRetry(u *url.URL) (body []byte, finalURL, contentType string, err error) {
	var lastErr error
	for attempt := 0; attempt < f.maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(backoffDelay(attempt, f.baseDelay, f.maxDelay))
		}

		req, reqErr := http.NewRequest(http.MethodGet, u.String(), nil)
		if reqErr != nil {
			return nil, "", "", reqErr
		}
		resp, respErr := f.client.Do(req)
		if respErr != nil {
			lastErr = respErr
			continue
		}

		data, readErr := io.ReadAll(io.LimitReader(resp.Body, 50*1024*1024))
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, "", "", fmt.Errorf("client error: %d", resp.StatusCode)
		}

		return data, resp.Request.URL.String(), resp.Header.Get("Content-Type"), nil
	}
	return nil, "", "", fmt.Errorf("exhausted %d attempts: %w", f.maxAttempts, lastErr)
}

func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if d > max {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2))
	return d/2 + jitter
}

func canonicalExt(contentType, finalURL string) string {
	switch {
	case strings.Contains(contentType, "html"):
		return "html"
	case strings.Contains(contentType, "pdf"):
		return "pdf"
	case strings.Contains(contentType, "json"):
		return "json"
	}
	if ext := strings.TrimPrefix(filepath.Ext(finalURL), "."); ext != "" {
		return ext
	}
	return "txt"
}
