package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_setupLog(t *testing.T) {
	setupLog(false)
	setupLog(true)
	setupLog(true, "secret")
}

func Test_run(t *testing.T) {
	tmpDir := t.TempDir()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?><rss version="2.0"><channel><title>T</title></channel></rss>`)) //nolint:errcheck // test server
	}))
	defer ts.Close()

	// registry with a single local source so the scheduler never goes external
	feedsFile := filepath.Join(tmpDir, "feeds.json")
	feedsJSON := `[{"id": "local", "url": "` + ts.URL + `", "type": "RSS", "source_type": "news"}]`
	require.NoError(t, os.WriteFile(feedsFile, []byte(feedsJSON), 0o600))

	configFile := filepath.Join(tmpDir, "secfeed.yml")
	configYaml := "server:\n  listen: \"localhost:0\"\nfeeds:\n  path: \"" + feedsFile + "\"\n"
	require.NoError(t, os.WriteFile(configFile, []byte(configYaml), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, Opts{Config: configFile})
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
