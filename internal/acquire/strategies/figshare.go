package strategies

import (
	"context"
	"fmt"
	"time"

	"github.com/FoilMiser/dataset-collector/internal/acquire"
	"github.com/FoilMiser/dataset-collector/internal/model"
)

type figshareFile struct {
	DownloadURL string `json:"download_url"`
	Name        string `json:"name"`
}

type figshareArticle struct {
	Files []figshareFile `json:"files"`
}

// FigshareStrategy resolves a Figshare article's file list via its
// public REST API then downloads each file through the guarded HTTP
// client, in the same resolve-then-download shape as ZenodoStrategy.
type FigshareStrategy struct {
	http *HTTPStrategy
}

func NewFigshareStrategy(timeout time.Duration) *FigshareStrategy {
	return &FigshareStrategy{http: NewHTTPStrategy(timeout)}
}

func (s *FigshareStrategy) RequiredParams() []string { return []string{"article_id"} }
func (s *FigshareStrategy) RequiresTools() []string   { return nil }

func (s *FigshareStrategy) Fetch(ctx context.Context, req acquire.FetchRequest) (acquire.FetchOutcome, error) {
	articleID, _ := req.Params["article_id"].(string)
	base, _ := req.Params["base_url"].(string)
	if base == "" {
		base = "https://api.figshare.com/v2/articles"
	}

	var article figshareArticle
	if err := s.http.FetchJSON(ctx, fmt.Sprintf("%s/%s", base, articleID), &article); err != nil {
		return acquire.FetchOutcome{Status: model.AcquireFailed, Error: err.Error()}, nil
	}
	if len(article.Files) == 0 {
		return acquire.FetchOutcome{}, nil
	}

	var urls []string
	for _, f := range article.Files {
		if f.DownloadURL != "" {
			urls = append(urls, f.DownloadURL)
		}
	}
	return s.http.DownloadURLs(ctx, urls, req.DestDir, req.MaxBytes, req.AllowHugeDownload)
}
