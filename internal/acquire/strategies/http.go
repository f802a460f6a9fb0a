// Package strategies implements the concrete acquisition strategies the
// registry dispatches to (§4.4): http, ftp, git, zenodo, figshare,
// huggingface_datasets, the s3 family, and ipfs.
package strategies

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/FoilMiser/dataset-collector/internal/acquire"
	"github.com/FoilMiser/dataset-collector/internal/evidence"
	"github.com/FoilMiser/dataset-collector/internal/kernel"
	"github.com/FoilMiser/dataset-collector/internal/model"
)

var deniedContentTypes = map[string]bool{
	"application/x-sh":                true,
	"application/x-executable":        true,
	"application/x-dosexec":           true,
	"application/javascript":          true,
	"text/javascript":                 true,
}

// HTTPStrategy implements the "http" strategy: single or multi-URL
// download with resume, checksum, content-type, and byte-budget
// enforcement (§4.4).
type HTTPStrategy struct {
	client      *http.Client
	rateLimiter *kernel.HostLimiter
}

// NewHTTPStrategy builds an HTTPStrategy using the SSRF-guarded client
// (§4.4 "Private-IP guard applies to download URLs, not only evidence
// URLs").
func NewHTTPStrategy(timeout time.Duration) *HTTPStrategy {
	return &HTTPStrategy{client: evidence.NewGuardedClient(timeout)}
}

// WithRateLimiter attaches the per-host token bucket (§4.4 "Rate
// limiter (C8) capped by a token-bucket keyed by host") that fetchOne
// waits on before every request. Returns s for chaining at registry
// construction time.
func (s *HTTPStrategy) WithRateLimiter(lim *kernel.HostLimiter) *HTTPStrategy {
	s.rateLimiter = lim
	return s
}

func (s *HTTPStrategy) RequiredParams() []string { return []string{"url"} }
func (s *HTTPStrategy) RequiresTools() []string   { return nil }

// Fetch downloads req.Params["url"] (or each of req.Params["urls"]) into
// req.DestDir, honoring Range/If-Range resume and the per-target byte
// budget.
func (s *HTTPStrategy) Fetch(ctx context.Context, req acquire.FetchRequest) (acquire.FetchOutcome, error) {
	urls := collectURLs(req.Params)
	if len(urls) == 0 {
		return acquire.FetchOutcome{}, fmt.Errorf("http strategy: no url(s) declared")
	}

	checksum, _ := req.Params["sha256"].(string)

	var files []acquire.FileResult
	var totalBytes int64
	for _, rawURL := range urls {
		result, err := s.fetchOne(ctx, rawURL, req.DestDir, req.MaxBytes-totalBytes, req.AllowHugeDownload)
		if err != nil {
			return acquire.FetchOutcome{Status: model.AcquireFailed, Error: err.Error()}, nil
		}
		if len(urls) == 1 && checksum != "" && !strings.EqualFold(result.SHA256, checksum) {
			return acquire.FetchOutcome{Status: model.AcquireFailed, Error: "checksum mismatch"}, nil
		}
		totalBytes += result.Bytes
		files = append(files, result)
	}

	return acquire.FetchOutcome{Status: model.AcquireOK, BytesWritten: totalBytes, Files: files}, nil
}

// DownloadURLs fetches each of urls into destDir under the same
// guarded-client, resume, and byte-budget rules Fetch uses, for
// strategies (zenodo, figshare, huggingface_datasets) that first resolve
// a metadata record into a concrete file list.
func (s *HTTPStrategy) DownloadURLs(ctx context.Context, urls []string, destDir string, maxBytes int64, allowHuge bool) (acquire.FetchOutcome, error) {
	var files []acquire.FileResult
	var totalBytes int64
	for _, rawURL := range urls {
		result, err := s.fetchOne(ctx, rawURL, destDir, maxBytes-totalBytes, allowHuge)
		if err != nil {
			return acquire.FetchOutcome{Status: model.AcquireFailed, Error: err.Error()}, nil
		}
		totalBytes += result.Bytes
		files = append(files, result)
	}
	return acquire.FetchOutcome{Status: model.AcquireOK, BytesWritten: totalBytes, Files: files}, nil
}

// FetchJSON GETs url through the guarded client and decodes the
// response body as JSON into out — used by metadata-resolving
// strategies before they know which file URLs to download.
func (s *HTTPStrategy) FetchJSON(ctx context.Context, rawURL string, out interface{}) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if err := evidence.ValidateScheme(u); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("fetch metadata %s: status %d", rawURL, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func collectURLs(params map[string]interface{}) []string {
	if single, ok := params["url"].(string); ok && single != "" {
		return []string{single}
	}
	if list, ok := params["urls"].([]interface{}); ok {
		var out []string
		for _, v := range list {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func (s *HTTPStrategy) fetchOne(ctx context.Context, rawURL, destDir string, budget int64, allowHuge bool) (acquire.FileResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return acquire.FileResult{}, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if err := evidence.ValidateScheme(u); err != nil {
		return acquire.FileResult{}, err
	}

	if s.rateLimiter != nil {
		if err := s.rateLimiter.Wait(ctx, u.Hostname()); err != nil {
			return acquire.FileResult{}, fmt.Errorf("rate limit wait for %s: %w", u.Hostname(), err)
		}
	}

	destPath := filepath.Join(destDir, kernel.SanitizeFilename(filepath.Base(u.Path)))
	partPath := destPath + ".part"

	var resumeFrom int64
	if info, err := os.Stat(partPath); err == nil {
		resumeFrom = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return acquire.FileResult{}, err
	}
	if resumeFrom > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return acquire.FileResult{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return acquire.FileResult{}, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	ct := resp.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(ct); err == nil && deniedContentTypes[mediaType] {
		return acquire.FileResult{}, fmt.Errorf("content-type %q denied", mediaType)
	}

	appendMode := resp.StatusCode == http.StatusPartialContent && resumeFrom > 0
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	writeFrom := int64(0)
	if appendMode {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		writeFrom = resumeFrom
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return acquire.FileResult{}, err
	}
	f, err := os.OpenFile(partPath, flags, 0o644)
	if err != nil {
		return acquire.FileResult{}, err
	}

	h := sha256.New()
	if appendMode {
		if existing, rerr := os.ReadFile(partPath); rerr == nil {
			h.Write(existing)
		}
	}

	var limit int64 = budget
	if allowHuge || limit <= 0 {
		limit = 1 << 62
	}
	written, err := io.Copy(io.MultiWriter(f, h), io.LimitReader(resp.Body, limit))
	closeErr := f.Close()
	if err != nil {
		return acquire.FileResult{}, fmt.Errorf("write %s: %w", destPath, err)
	}
	if closeErr != nil {
		return acquire.FileResult{}, closeErr
	}

	if !allowHuge && budget > 0 && writeFrom+written >= budget {
		if more, _ := io.Copy(io.Discard, io.LimitReader(resp.Body, 1)); more > 0 {
			return acquire.FileResult{}, fmt.Errorf("target exceeds max_bytes_per_target budget")
		}
	}

	if err := os.Rename(partPath, destPath); err != nil {
		return acquire.FileResult{}, fmt.Errorf("rename %s: %w", destPath, err)
	}

	return acquire.FileResult{Path: destPath, Bytes: writeFrom + written, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}
