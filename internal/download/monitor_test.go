package download

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mediaforge/media_downloader/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_PublishesProgressFromFileSize(t *testing.T) {
	reg := registry.New()
	d := newTestDownload("dl-1")
	d.SetTotalSize(1000)

	require.NoError(t, reg.Put("dl-1", d))

	dest := filepath.Join(t.TempDir(), "dest.mkv")
	require.NoError(t, os.WriteFile(dest, make([]byte, 400), 0644))

	m := NewMonitor(reg, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})

	go func() {
		m.Watch(ctx, d, dest)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return d.Snapshot().Progress == 40
	}, time.Second, 5*time.Millisecond)

	// Growing file advances progress.
	require.NoError(t, os.WriteFile(dest, make([]byte, 900), 0644))

	require.Eventually(t, func() bool {
		return d.Snapshot().Progress == 90
	}, time.Second, 5*time.Millisecond)

	// Deregistration ends the watch.
	reg.Remove("dl-1")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not exit after deregistration")
	}
}

func TestMonitor_SkipsWhenTotalUnknown(t *testing.T) {
	reg := registry.New()
	d := newTestDownload("dl-1")

	require.NoError(t, reg.Put("dl-1", d))

	dest := filepath.Join(t.TempDir(), "dest.mkv")
	require.NoError(t, os.WriteFile(dest, make([]byte, 500), 0644))

	m := NewMonitor(reg, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	m.Watch(ctx, d, dest)

	assert.Zero(t, d.Snapshot().Progress, "no percentage can be computed without a total size")
}
