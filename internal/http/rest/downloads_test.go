package rest

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mediaforge/media_downloader/internal/download"
	"github.com/mediaforge/media_downloader/internal/registry"
	"github.com/mediaforge/media_downloader/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu      sync.Mutex
	records []storage.DownloadRecord
}

func (s *memoryStore) LoadAll(ctx context.Context) ([]storage.DownloadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]storage.DownloadRecord, len(s.records))
	copy(out, s.records)

	return out, nil
}

func (s *memoryStore) SaveAll(ctx context.Context, records []storage.DownloadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make([]storage.DownloadRecord, len(records))
	copy(s.records, records)

	return nil
}

type mapLocator map[string]*download.MediaSource

func (l mapLocator) Resolve(ctx context.Context, sourceID string) (*download.MediaSource, error) {
	src, ok := l[sourceID]
	if !ok {
		return nil, storage.ErrNotFound
	}

	return src, nil
}

func newTestServer(t *testing.T, locator download.MediaLocator) *httptest.Server {
	t.Helper()

	reg := registry.New()
	store := &memoryStore{}

	engine := download.NewEngine(time.Minute, download.DefaultChunkSize)
	monitor := download.NewMonitor(reg, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	downloadDir := filepath.Join(t.TempDir(), "downloads")
	dl := download.NewDownloader(ctx, reg, store, locator, engine, monitor, nil, downloadDir)
	t.Cleanup(dl.Close)

	srv := httptest.NewServer(NewDownloadHandler(dl, nil).Routes())
	t.Cleanup(srv.Close)

	return srv
}

func startDownload(t *testing.T, srv *httptest.Server, sourceID, userID string) download.StartReceipt {
	t.Helper()

	body, err := json.Marshal(map[string]string{
		"sourceId": sourceID,
		"userId":   userID,
		"username": "alice",
	})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/downloads", "application/json", bytes.NewReader(body))
	require.NoError(t, err)

	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var receipt download.StartReceipt
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&receipt))
	require.NotEmpty(t, receipt.ID)
	require.Equal(t, storage.StatusActive, receipt.Status)

	return receipt
}

func waitCompleted(t *testing.T, srv *httptest.Server, id string) storage.DownloadRecord {
	t.Helper()

	var rec storage.DownloadRecord

	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/downloads/" + id)
		if err != nil {
			return false
		}

		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return false
		}

		if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
			return false
		}

		return rec.Status == storage.StatusCompleted
	}, 10*time.Second, 20*time.Millisecond)

	return rec
}

func writeSource(t *testing.T, size int) (string, []byte) {
	t.Helper()

	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "source.mp4")
	require.NoError(t, os.WriteFile(path, data, 0644))

	return path, data
}

func TestStartDownload_InvalidBody(t *testing.T) {
	srv := newTestServer(t, mapLocator{})

	resp, err := http.Post(srv.URL+"/downloads", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartDownload_EmptyUserID(t *testing.T) {
	srv := newTestServer(t, mapLocator{})

	body, _ := json.Marshal(map[string]string{"sourceId": "m1"})

	resp, err := http.Post(srv.URL+"/downloads", "application/json", bytes.NewReader(body))
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartDownload_UnknownSource(t *testing.T) {
	srv := newTestServer(t, mapLocator{})

	body, _ := json.Marshal(map[string]string{"sourceId": "nope", "userId": "u1"})

	resp, err := http.Post(srv.URL+"/downloads", "application/json", bytes.NewReader(body))
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetDownload_Unknown(t *testing.T) {
	srv := newTestServer(t, mapLocator{})

	resp, err := http.Get(srv.URL + "/downloads/nope")
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelDownload_Unknown(t *testing.T) {
	srv := newTestServer(t, mapLocator{})

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/downloads/nope", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDownloadLifecycle_OverREST(t *testing.T) {
	const size = 512 * 1024

	src, payload := writeSource(t, size)

	srv := newTestServer(t, mapLocator{
		"m1": {Path: src, Size: size, Title: "REST Movie", ItemType: storage.ItemTypeMovie},
	})

	receipt := startDownload(t, srv, "m1", "u1")
	rec := waitCompleted(t, srv, receipt.ID)

	assert.Equal(t, 100, rec.Progress)
	assert.EqualValues(t, size, rec.TotalSize)

	// List shows the record as completed, and not active.
	resp, err := http.Get(srv.URL + "/downloads?userId=u1")
	require.NoError(t, err)

	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list download.ListResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Empty(t, list.Active)
	require.Len(t, list.Completed, 1)
	assert.Equal(t, receipt.ID, list.Completed[0].ID)

	// Full stream.
	streamResp, err := http.Get(srv.URL + "/downloads/" + receipt.ID + "/stream")
	require.NoError(t, err)

	defer streamResp.Body.Close()

	require.Equal(t, http.StatusOK, streamResp.StatusCode)
	assert.Equal(t, "video/mp4", streamResp.Header.Get("Content-Type"))

	got, err := io.ReadAll(streamResp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestStreamDownload_RangeRequest(t *testing.T) {
	const size = 256 * 1024

	src, payload := writeSource(t, size)

	srv := newTestServer(t, mapLocator{
		"m1": {Path: src, Size: size, Title: "Seekable", ItemType: storage.ItemTypeMovie},
	})

	receipt := startDownload(t, srv, "m1", "u1")
	waitCompleted(t, srv, receipt.ID)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/downloads/"+receipt.ID+"/stream", nil)
	require.NoError(t, err)

	req.Header.Set("Range", "bytes=1000-1999")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, fmt.Sprintf("bytes 1000-1999/%d", size), resp.Header.Get("Content-Range"))

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload[1000:2000], got)
}

func TestStreamDownload_Unknown(t *testing.T) {
	srv := newTestServer(t, mapLocator{})

	resp, err := http.Get(srv.URL + "/downloads/nope/stream")
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestContentTypeForPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{path: "/a/b.mp4", want: "video/mp4"},
		{path: "/a/b.MKV", want: "video/x-matroska"},
		{path: "/a/b.avi", want: "video/x-msvideo"},
		{path: "/a/b.mov", want: "video/quicktime"},
		{path: "/a/b.wmv", want: "video/x-ms-wmv"},
		{path: "/a/b.flv", want: "video/x-flv"},
		{path: "/a/b.webm", want: "video/webm"},
		{path: "/a/b.m4v", want: "video/x-m4v"},
		{path: "/a/b.bin", want: "application/octet-stream"},
		{path: "/a/b", want: "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, ContentTypeForPath(tt.path))
		})
	}
}
