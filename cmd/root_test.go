package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("ESG_DIGEST_LLM_PROVIDER", "mock")
	t.Setenv("ESG_DIGEST_LOGGING_LEVEL", "error")
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSubmitWaitExecutesRun(t *testing.T) {
	out, err := execute(t, "submit", "--wait")
	require.NoError(t, err)
	require.Contains(t, out, `"status": "succeeded"`)
	require.Contains(t, out, `"triggeredBy": "cli"`)
}

func TestSubmitRejectsUnknownItems(t *testing.T) {
	_, err := execute(t, "submit", "--kind", "reanalysis", "--item", "ghost")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ghost")
}

func TestDigestWritesToMemory(t *testing.T) {
	out, err := execute(t, "digest", "--hours", "12")
	require.NoError(t, err)
	require.Contains(t, out, "memory://digests/")
	require.Contains(t, out, `"totalArticles": 0`)
}

func TestWorkerRequiresDatabase(t *testing.T) {
	_, err := execute(t, "worker")
	require.Error(t, err)
	require.Contains(t, err.Error(), "database.dsn")
}

func TestMigrateRequiresDSN(t *testing.T) {
	_, err := execute(t, "migrate")
	require.Error(t, err)
	require.Contains(t, err.Error(), "database.dsn is required")
}

func TestInvalidConfigFile(t *testing.T) {
	_, err := execute(t, "--config", "/nonexistent/config.yaml", "digest")
	require.Error(t, err)
	require.Contains(t, err.Error(), "load config")
}
