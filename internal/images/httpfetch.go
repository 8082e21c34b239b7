package images

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/roadwatch/roadwatch/internal/provider/resilience"
)

// defaultMaxImageBytes caps the size of a single downloaded image.
const defaultMaxImageBytes = 5 << 20

// upstreamName identifies the sign image servers in health reports and
// metrics.
const upstreamName = "sign-images"

// HTTPDownloaderConfig holds configuration for the HTTP image downloader.
type HTTPDownloaderConfig struct {
	// Timeout is the per-download timeout (default: 15 seconds).
	Timeout time.Duration

	// MaxBytes caps the accepted image size (default: 5 MiB).
	MaxBytes int64
}

// HTTPDownloader fetches image bytes over HTTP through the resilient client,
// so transient sign-server failures are retried and a misbehaving server
// trips the circuit breaker instead of saturating the download workers.
type HTTPDownloader struct {
	client   *resilience.Client
	maxBytes int64
}

// NewHTTPDownloader creates a downloader backed by a resilient HTTP client.
func NewHTTPDownloader(cfg HTTPDownloaderConfig) *HTTPDownloader {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	maxBytes := cfg.MaxBytes
	if maxBytes == 0 {
		maxBytes = defaultMaxImageBytes
	}

	clientCfg := resilience.DefaultConfig(upstreamName)
	clientCfg.Timeout = timeout

	return &HTTPDownloader{
		client:   resilience.NewClient(clientCfg),
		maxBytes: maxBytes,
	}
}

// Download implements Downloader.
func (d *HTTPDownloader) Download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating image request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetching image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("image server returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		err = fmt.Errorf("reading image body: %w", err)
		d.client.ReportFailure(err)
		return nil, "", err
	}
	if int64(len(data)) > d.maxBytes {
		err := fmt.Errorf("image exceeds %d byte limit", d.maxBytes)
		d.client.ReportFailure(err)
		return nil, "", err
	}

	return data, resp.Header.Get("Content-Type"), nil
}
