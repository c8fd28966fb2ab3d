package fetcher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appdockio/appdock/client/internal/catalog"
)

func serveArtifact(t *testing.T, body []byte, failures int) *httptest.Server {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if int(calls.Add(1)) <= failures {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testVariant(srv *httptest.Server, body []byte) catalog.Variant {
	sum := sha256.Sum256(body)
	return catalog.Variant{
		PackageID:   "io.appdock.example",
		Name:        "Example",
		Channel:     catalog.DefaultChannel,
		VersionCode: 5,
		VersionName: "1.0.5",
		SHA256:      hex.EncodeToString(sum[:]),
		DownloadURL: srv.URL + "/example-1.0.5.pkg",
		SizeBytes:   int64(len(body)),
	}
}

func TestFetchStagesAndVerifiesArtifact(t *testing.T) {
	body := bytes.Repeat([]byte("appdock"), 4096)
	srv := serveArtifact(t, body, 0)

	f := NewHTTPFetcher(t.TempDir())

	var percents []int
	completed := false
	files, err := f.Fetch(context.Background(), testVariant(srv, body), func(_, _ int64, percent int, done bool) {
		percents = append(percents, percent)
		if done {
			completed = true
		}
	})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "example-1.0.5.pkg", filepath.Base(files[0]))

	staged, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, body, staged)

	require.NotEmpty(t, percents)
	assert.True(t, completed, "expected a final completed update")
	assert.Equal(t, 100, percents[len(percents)-1])
	assert.True(t, sort.IntsAreSorted(percents), "progress must be monotonic")
}

func TestFetchRejectsCorruptArtifact(t *testing.T) {
	body := []byte("legit artifact content")
	srv := serveArtifact(t, []byte("tampered content"), 0)

	f := NewHTTPFetcher(t.TempDir())
	f.retryDelay = 0

	_, err := f.Fetch(context.Background(), testVariant(srv, body), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "digest mismatch")

	staged := filepath.Join(f.stagingDir, "io.appdock.example-5", "example-1.0.5.pkg")
	_, statErr := os.Stat(staged)
	assert.True(t, os.IsNotExist(statErr), "corrupt artifact must be removed")
}

func TestFetchRetriesOnce(t *testing.T) {
	body := []byte("artifact served on the second attempt")
	srv := serveArtifact(t, body, 1)

	f := NewHTTPFetcher(t.TempDir())
	f.retryDelay = 10 * time.Millisecond

	files, err := f.Fetch(context.Background(), testVariant(srv, body), nil)
	require.NoError(t, err)

	staged, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, body, staged)
}

func TestFetchGivesUpAfterRetry(t *testing.T) {
	srv := serveArtifact(t, nil, 2)

	f := NewHTTPFetcher(t.TempDir())
	f.retryDelay = 10 * time.Millisecond

	_, err := f.Fetch(context.Background(), testVariant(srv, []byte("never served")), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after retry")
}

func TestFetchUnknownSizeEmitsSentinel(t *testing.T) {
	body := bytes.Repeat([]byte("chunk"), 64*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		// flushing before the body forces chunked encoding without a
		// Content-Length header
		w.(http.Flusher).Flush()
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	v := testVariant(srv, body)
	v.SizeBytes = 0

	f := NewHTTPFetcher(t.TempDir())

	var sentinel, final bool
	_, err := f.Fetch(context.Background(), v, func(_, _ int64, percent int, done bool) {
		if percent == UnknownProgress {
			sentinel = true
		}
		if done {
			final = true
			assert.Equal(t, 100, percent)
		}
	})
	require.NoError(t, err)
	assert.True(t, sentinel, "expected synthetic unknown-progress updates")
	assert.True(t, final)
}

func TestCleanStaging(t *testing.T) {
	dir := t.TempDir()
	slot := filepath.Join(dir, "io.appdock.example-5")
	require.NoError(t, os.MkdirAll(slot, 0o755))

	file := filepath.Join(slot, "example.pkg")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	require.NoError(t, CleanStaging([]string{file}))

	_, err := os.Stat(slot)
	assert.True(t, os.IsNotExist(err))
}
