package strategies

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/multiformats/go-multiaddr"

	"github.com/FoilMiser/dataset-collector/internal/acquire"
	"github.com/FoilMiser/dataset-collector/internal/evidence"
	"github.com/FoilMiser/dataset-collector/internal/kernel"
	"github.com/FoilMiser/dataset-collector/internal/model"
)

// ipfsShell is the subset of the go-ipfs-api client the strategy
// needs, extracted for test injection.
type ipfsShell interface {
	Cat(path string) (io.ReadCloser, error)
}

// IPFSStrategy implements the "ipfs" strategy: a Cat of params["cid"]
// against the node at params["api_multiaddr"] (default the local
// daemon), with the same byte-budget enforcement every strategy
// honors (§4.4).
type IPFSStrategy struct {
	shell ipfsShell
}

func NewIPFSStrategy() *IPFSStrategy { return &IPFSStrategy{} }

func (s *IPFSStrategy) RequiredParams() []string { return []string{"cid"} }
func (s *IPFSStrategy) RequiresTools() []string  { return nil }

func (s *IPFSStrategy) Fetch(ctx context.Context, req acquire.FetchRequest) (acquire.FetchOutcome, error) {
	cid, _ := req.Params["cid"].(string)
	if cid == "" {
		return acquire.FetchOutcome{}, fmt.Errorf("ipfs strategy: cid is required")
	}

	apiAddr, _ := req.Params["api_multiaddr"].(string)
	if apiAddr == "" {
		apiAddr = "/ip4/127.0.0.1/tcp/5001"
	}
	endpoint, err := resolveIPFSEndpoint(apiAddr)
	if err != nil {
		return acquire.FetchOutcome{Status: model.AcquireFailed, Error: err.Error()}, nil
	}

	sh := s.shell
	if sh == nil {
		sh = shell.NewShell(endpoint)
	}

	reader, err := sh.Cat(cid)
	if err != nil {
		return acquire.FetchOutcome{Status: model.AcquireFailed, Error: fmt.Sprintf("ipfs cat %s: %v", cid, err)}, nil
	}
	defer reader.Close()

	if err := os.MkdirAll(req.DestDir, 0o755); err != nil {
		return acquire.FetchOutcome{Status: model.AcquireFailed, Error: err.Error()}, nil
	}
	destPath := filepath.Join(req.DestDir, kernel.SanitizeFilename(cid))
	partPath := destPath + ".part"

	f, err := os.OpenFile(partPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return acquire.FetchOutcome{Status: model.AcquireFailed, Error: err.Error()}, nil
	}

	h := sha256.New()
	var limit int64 = req.MaxBytes
	if req.AllowHugeDownload || limit <= 0 {
		limit = 1 << 62
	}
	written, err := io.Copy(io.MultiWriter(f, h), io.LimitReader(reader, limit))
	closeErr := f.Close()
	if err != nil {
		return acquire.FetchOutcome{Status: model.AcquireFailed, Error: fmt.Sprintf("write %s: %v", destPath, err)}, nil
	}
	if closeErr != nil {
		return acquire.FetchOutcome{Status: model.AcquireFailed, Error: closeErr.Error()}, nil
	}
	if !req.AllowHugeDownload && req.MaxBytes > 0 && written >= req.MaxBytes {
		if more, _ := io.Copy(io.Discard, io.LimitReader(reader, 1)); more > 0 {
			return acquire.FetchOutcome{Status: model.AcquireOversized, Error: "target exceeds max_bytes_per_target budget"}, nil
		}
	}
	if err := os.Rename(partPath, destPath); err != nil {
		return acquire.FetchOutcome{Status: model.AcquireFailed, Error: err.Error()}, nil
	}

	return acquire.FetchOutcome{
		Status:       model.AcquireOK,
		BytesWritten: written,
		Files: []acquire.FileResult{{
			Path:   destPath,
			Bytes:  written,
			SHA256: hex.EncodeToString(h.Sum(nil)),
		}},
	}, nil
}

// resolveIPFSEndpoint parses an api_multiaddr param (e.g.
// "/ip4/127.0.0.1/tcp/5001") into the host:port go-ipfs-api expects,
// and rejects anything that isn't a globally routable or explicit
// loopback IPFS daemon address, matching the private-IP guard applied
// to every other strategy's network access.
func resolveIPFSEndpoint(apiAddr string) (string, error) {
	addr, err := multiaddr.NewMultiaddr(apiAddr)
	if err != nil {
		return "", fmt.Errorf("invalid api_multiaddr %q: %w", apiAddr, err)
	}
	host, err := addr.ValueForProtocol(multiaddr.P_IP4)
	if err != nil {
		host, err = addr.ValueForProtocol(multiaddr.P_IP6)
		if err != nil {
			host, err = addr.ValueForProtocol(multiaddr.P_DNS4)
			if err != nil {
				host, err = addr.ValueForProtocol(multiaddr.P_DNS)
				if err != nil {
					return "", fmt.Errorf("api_multiaddr %q: no ip4/ip6/dns component", apiAddr)
				}
			}
		}
	}
	port, err := addr.ValueForProtocol(multiaddr.P_TCP)
	if err != nil {
		return "", fmt.Errorf("api_multiaddr %q: no tcp component", apiAddr)
	}
	if host != "127.0.0.1" && host != "localhost" && host != "::1" {
		if err := evidence.ValidateHostRoutable(context.Background(), host); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("%s:%s", host, port), nil
}
