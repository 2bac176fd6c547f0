// Package storage holds the types shared by the result stores and the
// blob destinations used for exports.
package storage

import (
	"context"
	"io"
	"time"
)

// ExportRow is one stored page as it appears in a CSV export.
type ExportRow struct {
	URL            string
	Domain         string
	Title          string
	Description    string
	Depth          int
	LinksCount     int
	ResponseSize   int
	ResponseTimeMs int64
	StatusCode     int
	CrawledAt      time.Time
}

// RowSource lists stored pages for export. A non-positive limit means all.
type RowSource interface {
	ExportRows(ctx context.Context, limit int) ([]ExportRow, error)
}

// BlobStore writes an object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}
