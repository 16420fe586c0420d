package download

import (
	"context"
	"os"
	"time"

	"github.com/mediaforge/media_downloader/internal/logctx"
	"github.com/mediaforge/media_downloader/internal/registry"
	"github.com/mediaforge/media_downloader/internal/storage"
)

// DefaultProgressInterval is how often the monitor samples the destination
// file size.
const DefaultProgressInterval = 2 * time.Second

// Monitor periodically samples a destination file's size and publishes the
// derived percentage onto the shared record. Progress is advisory: readers
// between ticks may see a slightly stale value.
type Monitor struct {
	registry *registry.Registry
	interval time.Duration
}

// NewMonitor builds a monitor sampling at the given interval. A zero
// interval falls back to the default.
func NewMonitor(reg *registry.Registry, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}

	return &Monitor{registry: reg, interval: interval}
}

// Watch runs until the context is cancelled, the download leaves the
// registry, or its status is no longer active. It holds no resources beyond
// its ticker.
func (m *Monitor) Watch(ctx context.Context, d *storage.ActiveDownload, destPath string) {
	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.registry.Has(d.ID()) || d.Status() != storage.StatusActive {
				logger.Debug("progress monitor exiting", "download_id", d.ID())

				return
			}

			m.sample(d, destPath)
		}
	}
}

func (m *Monitor) sample(d *storage.ActiveDownload, destPath string) {
	total := d.TotalSize()
	if total <= 0 {
		// Unknown size, no percentage can be computed.
		return
	}

	info, err := os.Stat(destPath)
	if err != nil {
		// Destination may not exist yet.
		return
	}

	pct := int(info.Size() * 100 / total)
	if pct > 100 {
		pct = 100
	}

	d.SetProgress(pct)
}
