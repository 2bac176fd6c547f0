// Package export writes stored crawl results as CSV to a blob destination.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/polite-crawler/internal/storage"
	"github.com/JakeFAU/polite-crawler/internal/storage/gcs"
	"github.com/JakeFAU/polite-crawler/internal/storage/local"
)

// Header is the CSV column order.
var Header = []string{
	"url",
	"domain",
	"title",
	"description",
	"depth",
	"links_count",
	"response_size",
	"response_time_ms",
	"status_code",
	"crawled_at",
}

// Exporter copies rows from a RowSource into a BlobStore.
type Exporter struct {
	source storage.RowSource
	dest   storage.BlobStore
	limit  int
	now    func() time.Time
	logger *zap.Logger
}

// New builds an Exporter. A non-positive limit exports every row.
func New(source storage.RowSource, dest storage.BlobStore, limit int, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		source: source,
		dest:   dest,
		limit:  limit,
		now:    time.Now,
		logger: logger.Named("export"),
	}
}

// Result describes a finished export.
type Result struct {
	URI  string
	Rows int
}

// Export writes crawl_results_<unix>.csv and returns where it went.
func (e *Exporter) Export(ctx context.Context) (Result, error) {
	rows, err := e.source.ExportRows(ctx, e.limit)
	if err != nil {
		return Result{}, fmt.Errorf("load export rows: %w", err)
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows); err != nil {
		return Result{}, err
	}
	name := fmt.Sprintf("crawl_results_%d.csv", e.now().Unix())
	uri, err := e.dest.PutObject(ctx, name, "text/csv", &buf)
	if err != nil {
		return Result{}, fmt.Errorf("write export: %w", err)
	}
	e.logger.Info("export written", zap.String("uri", uri), zap.Int("rows", len(rows)))
	return Result{URI: uri, Rows: len(rows)}, nil
}

// WriteCSV encodes rows with the Header line first.
func WriteCSV(buf *bytes.Buffer, rows []storage.ExportRow) error {
	w := csv.NewWriter(buf)
	if err := w.Write(Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range rows {
		record := []string{
			r.URL,
			r.Domain,
			r.Title,
			r.Description,
			strconv.Itoa(r.Depth),
			strconv.Itoa(r.LinksCount),
			strconv.Itoa(r.ResponseSize),
			strconv.FormatInt(r.ResponseTimeMs, 10),
			strconv.Itoa(r.StatusCode),
			r.CrawledAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// Destination is an opened export target. Close releases any client it holds.
type Destination struct {
	Store storage.BlobStore
	close func() error
}

// Close releases the destination.
func (d Destination) Close() error {
	if d.close == nil {
		return nil
	}
	return d.close()
}

// OpenDestination resolves a local directory or a gs://bucket/prefix URI.
func OpenDestination(ctx context.Context, target string) (Destination, error) {
	if strings.HasPrefix(target, "gs://") {
		cfg, err := gcs.ParseURI(target)
		if err != nil {
			return Destination{}, err
		}
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return Destination{}, fmt.Errorf("create gcs client: %w", err)
		}
		store, err := gcs.New(client, cfg)
		if err != nil {
			_ = client.Close()
			return Destination{}, err
		}
		return Destination{Store: store, close: client.Close}, nil
	}
	store, err := local.New(local.Config{BaseDir: target})
	if err != nil {
		return Destination{}, fmt.Errorf("open export directory: %w", err)
	}
	return Destination{Store: store}, nil
}
