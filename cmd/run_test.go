package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagOverridesOnlyChangedFlags(t *testing.T) {
	cmd := newRunCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--paths", "warc.paths.gz", "--batch-size", "3"}))

	overrides := flagOverrides(cmd.Flags())
	assert.Equal(t, map[string]any{
		"input.paths_file":    "warc.paths.gz",
		"pipeline.batch_size": "3",
	}, overrides)
}

func TestRunRequiresPathsFile(t *testing.T) {
	dir := t.TempDir()
	root := newRootCmd()
	root.SetArgs([]string{"run", "--work-dir", filepath.Join(dir, "work"), "--output-dir", filepath.Join(dir, "out")})
	root.SetOut(&bytes.Buffer{})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input.paths_file")
}

func TestRunReportsFailedShard(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	paths := filepath.Join(dir, "warc.paths")
	require.NoError(t, os.WriteFile(paths, []byte("crawl-data/missing-00000.warc.gz\n"), 0o600))
	cfgPath := filepath.Join(dir, "langfilter.yaml")
	cfgBody := fmt.Sprintf("source:\n  base_url: %s\nclassifier:\n  languages: [vi, en]\nlogging:\n  development: false\n  level: error\n", srv.URL)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgBody), 0o600))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{
		"--config", cfgPath,
		"run",
		"--paths", paths,
		"--work-dir", filepath.Join(dir, "work"),
		"--output-dir", filepath.Join(dir, "out"),
		"--batch-size", "2",
	})

	err := root.Execute()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errIncomplete))
	assert.Contains(t, out.String(), "Error processing crawl-data/missing-00000.warc.gz")
}
