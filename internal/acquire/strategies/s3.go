package strategies

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/FoilMiser/dataset-collector/internal/acquire"
	"github.com/FoilMiser/dataset-collector/internal/kernel"
	"github.com/FoilMiser/dataset-collector/internal/model"
)

// s3Getter is the subset of the S3 API the strategies need, extracted
// as an interface so tests can inject a fake client without live
// credentials.
type s3Getter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Strategy implements the "s3_public", "s3_sync", and
// "aws_requester_pays" strategies (§4.4). The three strategy names
// share one implementation: requesterPays toggles the RequestPayer
// header and syncMode toggles single-object vs prefix-listing
// download.
type S3Strategy struct {
	name           string
	requesterPays  bool
	syncMode       bool
	client         s3Getter
}

// newS3Client builds a real AWS S3 client from the ambient
// credential chain (env vars, shared config, IMDS). Region is
// resolved per-request from the target's params, matching the
// teacher's pattern of loading a base config once and overriding
// per-call options where needed.
func newS3Client(ctx context.Context, region string) (s3Getter, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

func NewS3PublicStrategy() *S3Strategy {
	return &S3Strategy{name: "s3_public"}
}

func NewS3SyncStrategy() *S3Strategy {
	return &S3Strategy{name: "s3_sync", syncMode: true}
}

func NewAWSRequesterPaysStrategy() *S3Strategy {
	return &S3Strategy{name: "aws_requester_pays", requesterPays: true}
}

func (s *S3Strategy) RequiredParams() []string {
	if s.syncMode {
		return []string{"bucket", "prefix"}
	}
	return []string{"bucket", "key"}
}

func (s *S3Strategy) RequiresTools() []string { return nil }

func (s *S3Strategy) Fetch(ctx context.Context, req acquire.FetchRequest) (acquire.FetchOutcome, error) {
	bucket, _ := req.Params["bucket"].(string)
	if bucket == "" {
		return acquire.FetchOutcome{}, fmt.Errorf("%s strategy: bucket is required", s.name)
	}
	region, _ := req.Params["region"].(string)
	if region == "" {
		region = "us-east-1"
	}

	client := s.client
	if client == nil {
		var err error
		client, err = newS3Client(ctx, region)
		if err != nil {
			return acquire.FetchOutcome{Status: model.AcquireFailed, Error: err.Error()}, nil
		}
	}

	if err := os.MkdirAll(req.DestDir, 0o755); err != nil {
		return acquire.FetchOutcome{Status: model.AcquireFailed, Error: err.Error()}, nil
	}

	var keys []string
	if s.syncMode {
		prefix, _ := req.Params["prefix"].(string)
		resolved, err := s.listKeys(ctx, client, bucket, prefix)
		if err != nil {
			return acquire.FetchOutcome{Status: model.AcquireFailed, Error: err.Error()}, nil
		}
		keys = resolved
	} else {
		key, _ := req.Params["key"].(string)
		if key == "" {
			return acquire.FetchOutcome{}, fmt.Errorf("%s strategy: key is required", s.name)
		}
		keys = []string{key}
	}
	if len(keys) == 0 {
		return acquire.FetchOutcome{}, nil
	}

	var files []acquire.FileResult
	var totalBytes int64
	for _, key := range keys {
		remaining := req.MaxBytes - totalBytes
		result, err := s.getObject(ctx, client, bucket, key, req.DestDir, remaining, req.AllowHugeDownload)
		if err != nil {
			return acquire.FetchOutcome{Status: model.AcquireFailed, Error: err.Error()}, nil
		}
		totalBytes += result.Bytes
		files = append(files, result)
	}

	return acquire.FetchOutcome{Status: model.AcquireOK, BytesWritten: totalBytes, Files: files}, nil
}

func (s *S3Strategy) listKeys(ctx context.Context, client s3Getter, bucket, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		input := &s3.ListObjectsV2Input{
			Bucket: &bucket,
			Prefix: &prefix,
		}
		if s.requesterPays {
			input.RequestPayer = "requester"
		}
		if token != nil {
			input.ContinuationToken = token
		}
		out, err := client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range out.Contents {
			if obj.Key == nil || strings.HasSuffix(*obj.Key, "/") {
				continue
			}
			keys = append(keys, *obj.Key)
		}
		if out.IsTruncated == nil || !*out.IsTruncated || out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}
	return keys, nil
}

func (s *S3Strategy) getObject(ctx context.Context, client s3Getter, bucket, key, destDir string, budget int64, allowHuge bool) (acquire.FileResult, error) {
	input := &s3.GetObjectInput{Bucket: &bucket, Key: &key}
	if s.requesterPays {
		input.RequestPayer = "requester"
	}
	out, err := client.GetObject(ctx, input)
	if err != nil {
		return acquire.FileResult{}, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	destPath := filepath.Join(destDir, kernel.SanitizeFilename(filepath.Base(key)))
	partPath := destPath + ".part"
	f, err := os.OpenFile(partPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return acquire.FileResult{}, err
	}

	h := sha256.New()
	var limit int64 = budget
	if allowHuge || limit <= 0 {
		limit = 1 << 62
	}
	written, err := io.Copy(io.MultiWriter(f, h), io.LimitReader(out.Body, limit))
	closeErr := f.Close()
	if err != nil {
		return acquire.FileResult{}, fmt.Errorf("write %s: %w", destPath, err)
	}
	if closeErr != nil {
		return acquire.FileResult{}, closeErr
	}
	if !allowHuge && budget > 0 && written >= budget {
		if more, _ := io.Copy(io.Discard, io.LimitReader(out.Body, 1)); more > 0 {
			return acquire.FileResult{}, fmt.Errorf("target exceeds max_bytes_per_target budget")
		}
	}
	if err := os.Rename(partPath, destPath); err != nil {
		return acquire.FileResult{}, fmt.Errorf("rename %s: %w", destPath, err)
	}

	return acquire.FileResult{Path: destPath, Bytes: written, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}
