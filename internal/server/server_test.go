package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/polite-crawler/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Backend = config.BackendMemory
	cfg.Server.Port = 0
	cfg.Export.Destination = t.TempDir()
	cfg.Logging.Level = "error"
	return &cfg
}

// TestBuildWiresMemoryStack ensures the in-memory backend and sink come up ready.
func TestBuildWiresMemoryStack(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(app.Close)

	require.NotNil(t, app.Engine())
	require.NoError(t, app.Engine().Ready(context.Background()))
	assert.NotEmpty(t, app.Engine().Status(context.Background()).RunID)
}

func TestBuildWiresBadgerInMemory(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Backend = config.BackendBadger
	cfg.Badger.InMemory = true
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(app.Close)

	require.NoError(t, app.Engine().Ready(context.Background()))
}

func TestBuildRejectsUnknownBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Backend = "cassandra"
	_, err := Build(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend init failed")
}

// TestRunSeedsAndExportsOnShutdown ensures a cancelled run still seeds the
// frontier, shuts down and writes the CSV export.
func TestRunSeedsAndExportsOnShutdown(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Targets.Domains = []string{"bandcamp.com", "last.fm"}
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	engine := app.Engine()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, app.Run(ctx))

	status := engine.Status(context.Background())
	assert.Zero(t, status.Stats.Processed)

	matches, err := filepath.Glob(filepath.Join(cfg.Export.Destination, "crawl_results_*.csv"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "url,domain")
}

func TestExportOnceRequiresDSN(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	_, err := ExportOnce(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.dsn")
}
