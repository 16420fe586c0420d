package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mediaforge/media_downloader/internal/logctx"
	"github.com/mediaforge/media_downloader/internal/storage"
)

const (
	// DefaultChunkSize is how many bytes are moved between cancellation
	// probes. A single chunk bounds cancellation latency.
	DefaultChunkSize = 1 << 20 // 1 MiB

	// DefaultTransferTimeout is the ceiling for one whole remote fetch.
	DefaultTransferTimeout = 4 * time.Hour
)

// ProbeFunc reports whether a download id is still registered. The transfer
// loop calls it after every chunk; a false result aborts the transfer.
type ProbeFunc func(id string) bool

// Engine moves bytes from a source locator to a destination file. Locators
// with an http(s) scheme are fetched remotely; everything else is treated as
// a local filesystem path.
type Engine struct {
	client    *http.Client
	chunkSize int64
}

// NewEngine builds an engine with the given whole-transfer ceiling for
// remote fetches. Zero values fall back to the defaults.
func NewEngine(transferTimeout time.Duration, chunkSize int64) *Engine {
	if transferTimeout <= 0 {
		transferTimeout = DefaultTransferTimeout
	}

	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	return &Engine{
		client:    &http.Client{Timeout: transferTimeout},
		chunkSize: chunkSize,
	}
}

// Run streams the source behind locator into destPath, probing for
// cancellation between chunks. On success it returns the number of bytes
// written and corrects the record's total size to the observed size. On
// cancellation or failure the partial file is removed.
func (e *Engine) Run(ctx context.Context, locator, destPath string, d *storage.ActiveDownload, probe ProbeFunc) (int64, error) {
	var written int64

	var err error

	if isRemote(locator) {
		written, err = e.remoteFetch(ctx, locator, destPath, d, probe)
	} else {
		written, err = e.localCopy(ctx, locator, destPath, d, probe)
	}

	if err != nil {
		return 0, err
	}

	d.SetTotalSize(written)

	return written, nil
}

func isRemote(locator string) bool {
	return strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://")
}

func (e *Engine) remoteFetch(ctx context.Context, url, destPath string, d *storage.ActiveDownload, probe ProbeFunc) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &SourceUnavailableError{Locator: url, Reason: "malformed source URL", Err: err}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, &SourceUnavailableError{Locator: url, Reason: err.Error(), Err: err}
	}

	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return 0, &SourceUnavailableError{
			Locator:    url,
			StatusCode: resp.StatusCode,
			Reason:     fmt.Sprintf("unexpected status %s", resp.Status),
		}
	}

	if resp.ContentLength > 0 {
		d.SetTotalSize(resp.ContentLength)
		logger.Debug("remote source resolved",
			"download_id", d.ID(),
			"total_size", humanize.Bytes(uint64(resp.ContentLength)))
	} else {
		logger.Debug("remote source has unknown size", "download_id", d.ID())
	}

	return e.copyChunks(ctx, resp.Body, destPath, d.ID(), probe)
}

func (e *Engine) localCopy(ctx context.Context, srcPath, destPath string, d *storage.ActiveDownload, probe ProbeFunc) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	info, err := os.Stat(srcPath)
	if err != nil {
		return 0, &SourceUnavailableError{Locator: srcPath, Reason: "source file not accessible", Err: err}
	}

	d.SetTotalSize(info.Size())
	logger.Debug("local source resolved",
		"download_id", d.ID(),
		"total_size", humanize.Bytes(uint64(info.Size())))

	src, err := os.Open(srcPath)
	if err != nil {
		return 0, &SourceUnavailableError{Locator: srcPath, Reason: "failed to open source file", Err: err}
	}

	defer src.Close()

	return e.copyChunks(ctx, src, destPath, d.ID(), probe)
}

// copyChunks is the shared copy loop. After every chunk the probe decides
// whether the download is still wanted; deregistration aborts the transfer,
// closes the destination and deletes the partial file.
func (e *Engine) copyChunks(ctx context.Context, src io.Reader, destPath, id string, probe ProbeFunc) (int64, error) {
	out, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create destination file: %w", err)
	}

	var written int64

	buf := make([]byte, e.chunkSize)

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				e.discard(ctx, out, destPath)

				return 0, fmt.Errorf("failed to write destination file: %w", writeErr)
			}

			written += int64(n)
		}

		if probe != nil && !probe(id) {
			e.discard(ctx, out, destPath)

			return 0, ErrCancelled
		}

		if readErr == io.EOF {
			break
		}

		if readErr != nil {
			e.discard(ctx, out, destPath)

			return 0, &SourceUnavailableError{Locator: destPath, Reason: "read from source failed", Err: readErr}
		}
	}

	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("failed to close destination file: %w", err)
	}

	return written, nil
}

func (e *Engine) discard(ctx context.Context, out *os.File, destPath string) {
	logger := logctx.LoggerFromContext(ctx)

	if err := out.Close(); err != nil {
		logger.Warn("failed to close partial file", "file_path", destPath, "err", err)
	}

	if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove partial file", "file_path", destPath, "err", err)
	}
}
