package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/polite-crawler/internal/config"
	"github.com/JakeFAU/polite-crawler/internal/export"
)

type fakeRunner struct {
	ran bool
	err error
}

func (f *fakeRunner) Run(context.Context) error {
	f.ran = true
	return f.err
}

// stubFactories swaps the package factories for the duration of a test.
// Tests using it must not run in parallel.
func stubFactories(t *testing.T, build func(context.Context, *config.Config) (runner, error),
	exp func(context.Context, *config.Config) (export.Result, error),
) {
	t.Helper()
	origBuild, origExport := buildApp, exportOnce
	if build != nil {
		buildApp = build
	}
	if exp != nil {
		exportOnce = exp
	}
	t.Cleanup(func() {
		buildApp, exportOnce = origBuild, origExport
		cfgFile = ""
	})
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// TestCrawlAppliesMaxPagesOverride ensures the flag reaches the built app's config.
func TestCrawlAppliesMaxPagesOverride(t *testing.T) {
	fake := &fakeRunner{}
	var got *config.Config
	stubFactories(t, func(_ context.Context, cfg *config.Config) (runner, error) {
		got = cfg
		return fake, nil
	}, nil)

	path := writeConfig(t, "backend: memory\n")
	_, err := execute(t, "--config", path, "crawl", "--max-pages", "25")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(25), got.Crawler.MaxPages)
	assert.Equal(t, config.BackendMemory, got.Backend)
	assert.True(t, fake.ran)
}

func TestCrawlRejectsNonPositiveMaxPages(t *testing.T) {
	stubFactories(t, func(context.Context, *config.Config) (runner, error) {
		t.Fatal("app should not be built")
		return nil, nil
	}, nil)

	_, err := execute(t, "crawl", "--max-pages", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--max-pages")
}

func TestCrawlPropagatesBuildFailure(t *testing.T) {
	stubFactories(t, func(context.Context, *config.Config) (runner, error) {
		return nil, errors.New("redis down")
	}, nil)

	_, err := execute(t, "crawl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
}

func TestRootRejectsInvalidConfig(t *testing.T) {
	stubFactories(t, nil, nil)

	path := writeConfig(t, "backend: cassandra\n")
	_, err := execute(t, "--config", path, "crawl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

// TestExportOverridesDestination ensures --to and --limit reach the exporter.
func TestExportOverridesDestination(t *testing.T) {
	var got *config.Config
	stubFactories(t, nil, func(_ context.Context, cfg *config.Config) (export.Result, error) {
		got = cfg
		return export.Result{URI: "file:///tmp/out/crawl_results_1.csv", Rows: 3}, nil
	})

	out, err := execute(t, "export", "--to", "/tmp/out", "--limit", "10")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "/tmp/out", got.Export.Destination)
	assert.Equal(t, 10, got.Export.Limit)
	assert.Contains(t, out, "exported 3 rows to file:///tmp/out/crawl_results_1.csv")
}
