package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/esg-news-digest/internal/config"
	"github.com/JakeFAU/esg-news-digest/internal/news"
	"github.com/JakeFAU/esg-news-digest/internal/pipeline"
	memorypublisher "github.com/JakeFAU/esg-news-digest/internal/publisher/memory"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.LLM.Provider = config.ProviderMock
	cfg.Worker.PollIntervalMs = 10
	return cfg
}

func TestBuild_InMemory(t *testing.T) {
	app, err := Build(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/topics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string][]news.Topic
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body["topics"])
}

func TestRunWorkers_ExecutesQueuedRun(t *testing.T) {
	app, err := Build(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)

	run, err := app.Orchestrator().SubmitRun(context.Background(), pipeline.SubmitRequest{
		Kind:        news.RunKindDiscovery,
		TriggeredBy: "test",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, app.RunWorkers(ctx))

	final, err := app.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, news.RunStatusSucceeded, final.Status)
	require.NotNil(t, final.FinishedAt)

	notices := app.notices.MessagesFor(memorypublisher.DefaultTopic)
	require.Len(t, notices, 1)
	payload, ok := notices[0].Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, run.ID, payload["runId"])
}

func TestBuild_LocalStoragePublishesDigest(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = config.StorageLocal
	cfg.Storage.Local.BaseDir = t.TempDir()

	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	res, err := app.Digests().Publish(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(res.HTMLURI, "file://"), res.HTMLURI)
	require.True(t, strings.HasSuffix(res.TextURI, "digest.txt"), res.TextURI)

	data, err := os.ReadFile(strings.TrimPrefix(res.TextURI, "file://"))
	require.NoError(t, err)
	require.Contains(t, string(data), "ESG NEWS DIGEST")
}

func TestBuild_TaxonomyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxonomy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
topics:
  - slug: water
    name: Water
    keywords: [drought]
sources:
  - id: esg-wire
    name: ESG Wire
    kind: feed
    urls: [https://example.com/feed.xml]
`), 0o600))
	cfg := testConfig(t)
	cfg.Taxonomy.File = path

	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	sources, err := app.store.ListSources(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	require.Equal(t, "esg-wire", sources[0].ID)

	topics, err := app.store.ListTopics(context.Background())
	require.NoError(t, err)
	require.Len(t, topics, 1)
	require.Equal(t, "water", topics[0].Slug)
}

func TestBuild_MissingTaxonomyFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Taxonomy.File = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := Build(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "taxonomy")
}

func TestBuild_InvalidLocalStorage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = config.StorageLocal
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	cfg.Storage.Local.BaseDir = file

	_, err := Build(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "local blob store init failed")
}

func TestMigrate_RequiresDSN(t *testing.T) {
	err := Migrate(context.Background(), testConfig(t), zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "database.dsn is required")
}

func TestBuild_HeadlessFallback(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fetcher.Headless.Enabled = true

	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, app.browser)
	app.Close()
	require.Nil(t, app.browser)
}
