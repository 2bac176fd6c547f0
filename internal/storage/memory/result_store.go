package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/polite-crawler/internal/crawler"
	"github.com/JakeFAU/polite-crawler/internal/storage"
)

// ResultStore is an in-process crawler.ResultSink. Results are keyed by URL
// so a re-crawl replaces the earlier row.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]crawler.ResultRecord
	errors  []crawler.ErrorRecord
}

// NewResultStore creates an empty ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[string]crawler.ResultRecord)}
}

// StoreResult implements crawler.ResultSink.
func (s *ResultStore) StoreResult(_ context.Context, record crawler.ResultRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[record.URL] = record
}

// StoreError implements crawler.ResultSink.
func (s *ResultStore) StoreError(_ context.Context, record crawler.ErrorRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, record)
}

// Results returns stored results ordered by crawl time.
func (s *ResultStore) Results() []crawler.ResultRecord {
	s.mu.RLock()
	out := make([]crawler.ResultRecord, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CrawledAt.Equal(out[j].CrawledAt) {
			return out[i].CrawledAt.Before(out[j].CrawledAt)
		}
		return out[i].URL < out[j].URL
	})
	return out
}

// Errors returns stored errors in arrival order.
func (s *ResultStore) Errors() []crawler.ErrorRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.ErrorRecord(nil), s.errors...)
}

// ExportRows implements storage.RowSource.
func (s *ResultStore) ExportRows(_ context.Context, limit int) ([]storage.ExportRow, error) {
	results := s.Results()
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	rows := make([]storage.ExportRow, 0, len(results))
	for _, r := range results {
		rows = append(rows, storage.ExportRow{
			URL:            r.URL,
			Domain:         r.Domain,
			Title:          r.Extraction.Title,
			Description:    r.Extraction.Description,
			Depth:          r.Depth,
			LinksCount:     r.LinksCount,
			ResponseSize:   r.ResponseSize,
			ResponseTimeMs: r.ResponseTimeMs,
			StatusCode:     r.StatusCode,
			CrawledAt:      r.CrawledAt,
		})
	}
	return rows, nil
}

// Close implements io.Closer.
func (s *ResultStore) Close() error { return nil }
