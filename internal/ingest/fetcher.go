package ingest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/knowledge-engine/chunkstore/internal/chunk"
	"github.com/knowledge-engine/chunkstore/internal/config"
	"github.com/knowledge-engine/chunkstore/internal/politeness"
)

// FetchResult contains the text extracted from a documentation page
type FetchResult struct {
	URL        string
	StatusCode int
	Page       *Page
}

// Fetcher downloads HTML documentation pages (data dictionaries, metric
// wikis) so they can be chunked.
type Fetcher struct {
	client     *http.Client
	chunker    *HTMLChunker
	politeness *politeness.PolitenessManager
	userAgent  string
}

func NewFetcher(cfg config.FetchConfig, logger *logrus.Entry) *Fetcher {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	client := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	return &Fetcher{
		client:     client,
		chunker:    NewHTMLChunker(),
		politeness: politeness.NewPolitenessManager(cfg, client, logger.WithField("component", "politeness_manager")),
		userAgent:  cfg.UserAgent,
	}
}

// Fetch downloads and parses a page once robots.txt and the per-host delay allow it
func (f *Fetcher) Fetch(ctx context.Context, url string) (*FetchResult, error) {
	if err := f.politeness.Acquire(ctx, url); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	result := &FetchResult{
		URL:        url,
		StatusCode: resp.StatusCode,
	}

	if resp.StatusCode != http.StatusOK {
		return result, fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	page, err := ParseHTML(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing error: %w", err)
	}
	result.Page = page

	return result, nil
}

// FetchChunks downloads url and chunks it. The URL is used as the source id.
func (f *Fetcher) FetchChunks(ctx context.Context, url string, sourceType chunk.SourceType) ([]chunk.Chunk, error) {
	result, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return f.chunker.FromPage(result.Page, sourceType, url), nil
}
