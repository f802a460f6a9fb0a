package strategies

import (
	"context"
	"fmt"
	"time"

	"github.com/FoilMiser/dataset-collector/internal/acquire"
	"github.com/FoilMiser/dataset-collector/internal/model"
)

type zenodoFile struct {
	Key   string `json:"key"`
	Links struct {
		Self string `json:"self"`
	} `json:"links"`
}

type zenodoRecord struct {
	Files []zenodoFile `json:"files"`
}

// ZenodoStrategy resolves a Zenodo record's file list via its REST API
// then downloads each file through the guarded HTTP client.
type ZenodoStrategy struct {
	http *HTTPStrategy
}

func NewZenodoStrategy(timeout time.Duration) *ZenodoStrategy {
	return &ZenodoStrategy{http: NewHTTPStrategy(timeout)}
}

func (s *ZenodoStrategy) RequiredParams() []string { return []string{"record_id"} }
func (s *ZenodoStrategy) RequiresTools() []string   { return nil }

func (s *ZenodoStrategy) Fetch(ctx context.Context, req acquire.FetchRequest) (acquire.FetchOutcome, error) {
	recordID, _ := req.Params["record_id"].(string)
	base, _ := req.Params["base_url"].(string)
	if base == "" {
		base = "https://zenodo.org/api/records"
	}

	var record zenodoRecord
	if err := s.http.FetchJSON(ctx, fmt.Sprintf("%s/%s", base, recordID), &record); err != nil {
		return acquire.FetchOutcome{Status: model.AcquireFailed, Error: err.Error()}, nil
	}
	if len(record.Files) == 0 {
		return acquire.FetchOutcome{}, nil
	}

	var urls []string
	for _, f := range record.Files {
		if f.Links.Self != "" {
			urls = append(urls, f.Links.Self)
		}
	}
	return s.http.DownloadURLs(ctx, urls, req.DestDir, req.MaxBytes, req.AllowHugeDownload)
}
