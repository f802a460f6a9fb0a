package strategies

import (
	"context"
	"fmt"
	"time"

	"github.com/FoilMiser/dataset-collector/internal/acquire"
	"github.com/FoilMiser/dataset-collector/internal/model"
)

type hfSibling struct {
	RFilename string `json:"rfilename"`
}

type hfDatasetInfo struct {
	Siblings []hfSibling `json:"siblings"`
}

// HuggingFaceDatasetsStrategy resolves a dataset repo's file list via
// the Hugging Face Hub API then downloads each file via its
// resolve/main CDN path through the guarded HTTP client.
type HuggingFaceDatasetsStrategy struct {
	http *HTTPStrategy
}

func NewHuggingFaceDatasetsStrategy(timeout time.Duration) *HuggingFaceDatasetsStrategy {
	return &HuggingFaceDatasetsStrategy{http: NewHTTPStrategy(timeout)}
}

func (s *HuggingFaceDatasetsStrategy) RequiredParams() []string { return []string{"dataset_id"} }
func (s *HuggingFaceDatasetsStrategy) RequiresTools() []string   { return nil }

func (s *HuggingFaceDatasetsStrategy) Fetch(ctx context.Context, req acquire.FetchRequest) (acquire.FetchOutcome, error) {
	datasetID, _ := req.Params["dataset_id"].(string)
	revision, _ := req.Params["revision"].(string)
	if revision == "" {
		revision = "main"
	}
	base, _ := req.Params["base_url"].(string)
	if base == "" {
		base = "https://huggingface.co"
	}

	var info hfDatasetInfo
	metaURL := fmt.Sprintf("%s/api/datasets/%s", base, datasetID)
	if err := s.http.FetchJSON(ctx, metaURL, &info); err != nil {
		return acquire.FetchOutcome{Status: model.AcquireFailed, Error: err.Error()}, nil
	}
	if len(info.Siblings) == 0 {
		return acquire.FetchOutcome{}, nil
	}

	var urls []string
	for _, sib := range info.Siblings {
		if sib.RFilename == "" {
			continue
		}
		urls = append(urls, fmt.Sprintf("%s/datasets/%s/resolve/%s/%s", base, datasetID, revision, sib.RFilename))
	}
	return s.http.DownloadURLs(ctx, urls, req.DestDir, req.MaxBytes, req.AllowHugeDownload)
}
