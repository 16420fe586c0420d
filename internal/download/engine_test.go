package download

import (
	"context"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mediaforge/media_downloader/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDownload(id string) *storage.ActiveDownload {
	return storage.NewActiveDownload(storage.DownloadRecord{
		ID:     id,
		UserID: "u1",
		Status: storage.StatusActive,
	})
}

func writeSourceFile(t *testing.T, size int) string {
	t.Helper()

	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "source.mkv")
	require.NoError(t, os.WriteFile(path, data, 0644))

	return path
}

func TestLocalCopy_Success(t *testing.T) {
	const size = 10 * 1024 * 1024 // 10 MiB

	src := writeSourceFile(t, size)
	dest := filepath.Join(t.TempDir(), "dest.mkv")
	d := newTestDownload("dl-1")

	e := NewEngine(time.Minute, DefaultChunkSize)

	written, err := e.Run(context.Background(), src, dest, d, nil)
	require.NoError(t, err)

	assert.EqualValues(t, size, written)
	assert.EqualValues(t, size, d.TotalSize())

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.EqualValues(t, size, info.Size())
}

func TestLocalCopy_MissingSource(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "dest.mkv")
	d := newTestDownload("dl-1")

	e := NewEngine(time.Minute, DefaultChunkSize)

	_, err := e.Run(context.Background(), "/nonexistent/source.mkv", dest, d, nil)
	require.Error(t, err)

	var srcErr *SourceUnavailableError
	assert.ErrorAs(t, err, &srcErr)
	assert.NoFileExists(t, dest)
}

func TestRemoteFetch_Success(t *testing.T) {
	payload := make([]byte, 256*1024)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "dest.mkv")
	d := newTestDownload("dl-1")

	e := NewEngine(time.Minute, 64*1024)

	written, err := e.Run(context.Background(), srv.URL+"/clip.mkv", dest, d, nil)
	require.NoError(t, err)

	assert.EqualValues(t, len(payload), written)
	assert.EqualValues(t, len(payload), d.TotalSize(), "content length becomes total size")

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestRemoteFetch_NotFoundStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "dest.mkv")
	d := newTestDownload("dl-1")

	e := NewEngine(time.Minute, DefaultChunkSize)

	_, err := e.Run(context.Background(), srv.URL+"/missing.mkv", dest, d, nil)
	require.Error(t, err)

	var srcErr *SourceUnavailableError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, http.StatusNotFound, srcErr.StatusCode)
	assert.NoFileExists(t, dest, "no partial file may remain after a failed fetch")
}

func TestRemoteFetch_UnknownLengthLeavesTotalUnset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)

		// Chunked response: no Content-Length header.
		w.Write(make([]byte, 1024))
		flusher.Flush()
		w.Write(make([]byte, 1024))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "dest.mkv")
	d := newTestDownload("dl-1")

	e := NewEngine(time.Minute, 512)

	written, err := e.Run(context.Background(), srv.URL, dest, d, nil)
	require.NoError(t, err)

	assert.EqualValues(t, 2048, written)
	assert.EqualValues(t, 2048, d.TotalSize(), "observed size corrects the unknown estimate")
}

func TestCopy_CancelledBetweenChunks(t *testing.T) {
	src := writeSourceFile(t, 1024*1024)
	dest := filepath.Join(t.TempDir(), "dest.mkv")
	d := newTestDownload("dl-1")

	// Small chunks so the probe fires several times; deregister after the
	// second chunk.
	chunks := 0
	probe := func(id string) bool {
		chunks++

		return chunks < 2
	}

	e := NewEngine(time.Minute, 4*1024)

	_, err := e.Run(context.Background(), src, dest, d, probe)
	require.ErrorIs(t, err, ErrCancelled)
	assert.NoFileExists(t, dest, "partial file must be deleted on cancellation")
}
