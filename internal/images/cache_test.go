package images

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDownloader struct {
	calls    atomic.Int64
	inFlight atomic.Int64
	maxSeen  atomic.Int64
	delay    time.Duration
	fn       func(url string) ([]byte, string, error)
}

func (d *stubDownloader) Download(_ context.Context, url string) ([]byte, string, error) {
	d.calls.Add(1)
	n := d.inFlight.Add(1)
	for {
		max := d.maxSeen.Load()
		if n <= max || d.maxSeen.CompareAndSwap(max, n) {
			break
		}
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.inFlight.Add(-1)

	if d.fn != nil {
		return d.fn(url)
	}
	return []byte("raw-bytes"), "image/png", nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func newTestCache(cfg CacheConfig) *Cache {
	cfg.Logger = zerolog.Nop()
	return NewCache(cfg)
}

func TestCacheEnsure(t *testing.T) {
	t.Run("caches image with decoded metadata", func(t *testing.T) {
		payload := pngBytes(t, 64, 32)
		dl := &stubDownloader{fn: func(_ string) ([]byte, string, error) {
			return payload, "image/png", nil
		}}
		c := newTestCache(CacheConfig{Downloader: dl})

		require.NoError(t, c.Ensure(context.Background(), "inc-1", "https://signs.example.com/1.png"))

		img := c.Get("inc-1")
		require.NotNil(t, img)
		assert.Equal(t, "inc-1", img.IncidentID)
		assert.Equal(t, "png", img.Format)
		assert.Equal(t, 64, img.Width)
		assert.Equal(t, 32, img.Height)
		assert.Equal(t, "image/png", img.ContentType)
		assert.Equal(t, payload, img.Data)
	})

	t.Run("caches undecodable payloads without metadata", func(t *testing.T) {
		dl := &stubDownloader{fn: func(_ string) ([]byte, string, error) {
			return []byte("not an image"), "application/octet-stream", nil
		}}
		c := newTestCache(CacheConfig{Downloader: dl})

		require.NoError(t, c.Ensure(context.Background(), "inc-1", "https://signs.example.com/1"))

		img := c.Get("inc-1")
		require.NotNil(t, img)
		assert.Empty(t, img.Format)
		assert.Zero(t, img.Width)
	})

	t.Run("rejects an empty source url", func(t *testing.T) {
		c := newTestCache(CacheConfig{Downloader: &stubDownloader{}})
		assert.ErrorIs(t, c.Ensure(context.Background(), "inc-1", ""), ErrNoImage)
	})

	t.Run("present entries are never re-downloaded", func(t *testing.T) {
		dl := &stubDownloader{}
		c := newTestCache(CacheConfig{Downloader: dl})

		require.NoError(t, c.Ensure(context.Background(), "inc-1", "https://signs.example.com/1.png"))
		require.NoError(t, c.Ensure(context.Background(), "inc-1", "https://signs.example.com/other.png"))

		assert.Equal(t, int64(1), dl.calls.Load())
		assert.Equal(t, 1, c.Len())
	})

	t.Run("failed downloads leave the entry absent for retry", func(t *testing.T) {
		var attempts atomic.Int64
		dl := &stubDownloader{fn: func(_ string) ([]byte, string, error) {
			if attempts.Add(1) == 1 {
				return nil, "", errors.New("boom")
			}
			return []byte("ok"), "image/jpeg", nil
		}}
		c := newTestCache(CacheConfig{Downloader: dl})

		err := c.Ensure(context.Background(), "inc-1", "https://signs.example.com/1.jpg")
		require.Error(t, err)
		assert.False(t, c.Has("inc-1"))

		require.NoError(t, c.Ensure(context.Background(), "inc-1", "https://signs.example.com/1.jpg"))
		assert.True(t, c.Has("inc-1"))
	})
}

func TestCacheConcurrency(t *testing.T) {
	t.Run("concurrent requests for one incident collapse into one download", func(t *testing.T) {
		dl := &stubDownloader{delay: 20 * time.Millisecond}
		c := newTestCache(CacheConfig{Downloader: dl})

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, c.Ensure(context.Background(), "inc-1", "https://signs.example.com/1.png"))
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(1), dl.calls.Load())
	})

	t.Run("downloads never exceed the concurrency bound", func(t *testing.T) {
		dl := &stubDownloader{delay: 10 * time.Millisecond}
		c := newTestCache(CacheConfig{Downloader: dl, MaxConcurrent: 3})

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := string(rune('a' + i))
				assert.NoError(t, c.Ensure(context.Background(), id, "https://signs.example.com/"+id))
			}(i)
		}
		wg.Wait()

		assert.LessOrEqual(t, dl.maxSeen.Load(), int64(3))
		assert.Equal(t, 20, c.Len())
	})
}
