package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/polite-crawler/internal/crawler"
)

// TestResultStoreUpsertsByURL ensures a re-crawl replaces the stored row.
func TestResultStoreUpsertsByURL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewResultStore()

	s.StoreResult(ctx, crawler.ResultRecord{URL: "https://x.test/b", CrawledAt: base.Add(time.Minute)})
	s.StoreResult(ctx, crawler.ResultRecord{URL: "https://x.test/a", CrawledAt: base})
	s.StoreResult(ctx, crawler.ResultRecord{
		URL:        "https://x.test/a",
		Domain:     "x.test",
		Extraction: crawler.Extraction{Title: "second"},
		StatusCode: 200,
		CrawledAt:  base.Add(2 * time.Minute),
	})

	results := s.Results()
	require.Len(t, results, 2)
	assert.Equal(t, "https://x.test/b", results[0].URL)
	assert.Equal(t, "second", results[1].Extraction.Title)

	rows, err := s.ExportRows(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "https://x.test/b", rows[0].URL)

	rows, err = s.ExportRows(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "x.test", rows[1].Domain)
	assert.Equal(t, 200, rows[1].StatusCode)
}

func TestResultStoreErrors(t *testing.T) {
	t.Parallel()

	s := NewResultStore()
	s.StoreError(context.Background(), crawler.ErrorRecord{URL: "https://x.test/", Kind: crawler.KindTransientNetwork})
	errs := s.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, crawler.KindTransientNetwork, errs[0].Kind)
	assert.NoError(t, s.Close())
}
