package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/genricoloni/signage/internal/domain"
	"github.com/genricoloni/signage/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	chunkSize     = 64 * 1024
	partSuffix    = ".part"
	defaultExt    = ".bin"
	maxExtLength  = 6
	headerTimeout = 15 * time.Second
)

// ErrDownload wraps every failure to fetch a remote media file
var ErrDownload = errors.New("media download failed")

// Live playlists and stream manifests are handed to the player as-is
var streamExtensions = map[string]bool{".m3u8": true, ".m3u": true, ".pls": true, ".mpd": true}

// MediaCache maps media URLs to fully-written local files.
// A path under dir is either absent or complete: downloads go to a ".part"
// sibling and are renamed into place only after the last byte is written.
type MediaCache struct {
	logger *zap.Logger
	dir    string
	client *http.Client
	group  singleflight.Group
}

// New creates a cache rooted at dir
func New(logger *zap.Logger, dir string) *MediaCache {
	return &MediaCache{
		logger: logger,
		dir:    dir,
		client: &http.Client{
			// No overall timeout: videos can take minutes. Stalled handshakes still fail.
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: headerTimeout,
			},
		},
	}
}

// Dir returns the cache root
func (c *MediaCache) Dir() string {
	return c.dir
}

// PathFor returns the local path rawURL resolves to, whether or not it is cached yet
func (c *MediaCache) PathFor(rawURL string) string {
	if local, ok := localPath(rawURL); ok {
		return local
	}
	return filepath.Join(c.dir, cacheKey(rawURL))
}

// Resolve returns a local path for rawURL, downloading it first when it is remote and
// not yet cached. Concurrent calls for one URL share a single download; only the
// caller that started it receives progress reports. Cancelling ctx abandons only this
// caller's wait; a started download still commits for everyone else.
func (c *MediaCache) Resolve(ctx context.Context, rawURL string, progress domain.ProgressFunc) (string, error) {
	if local, ok := localPath(rawURL); ok {
		return local, nil
	}

	dest := c.PathFor(rawURL)
	if fileExists(dest) {
		c.logger.Debug("Cache hit", zap.String("url", rawURL), zap.String("path", dest))
		return dest, nil
	}

	// The flight outlives any single caller; each caller only abandons its own wait.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(dest, func() (any, error) {
		// Another flight may have committed between our check and this one starting
		if fileExists(dest) {
			return dest, nil
		}
		return dest, c.download(flightCtx, rawURL, dest, progress)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return dest, nil
	}
}

func (c *MediaCache) download(ctx context.Context, rawURL, dest string, progress domain.ProgressFunc) (err error) {
	if progress == nil {
		progress = func(domain.DownloadProgress) {}
	}

	start := time.Now()
	var done, total int64

	defer func() {
		if err != nil {
			metrics.ObserveDownload(metrics.ResultError, 0)
			progress(domain.DownloadProgress{Done: done, Total: total, Elapsed: time.Since(start), Err: err})
			c.logger.Warn("Media download failed", zap.String("url", rawURL), zap.Error(err))
		}
	}()

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}
	req.Header.Set("User-Agent", "signageClient/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status code: %d", ErrDownload, resp.StatusCode)
	}
	if resp.ContentLength > 0 {
		total = resp.ContentLength
	}

	tmp := dest + partSuffix
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}
	committed := false
	defer func() {
		if !committed {
			f.Close() // second Close after a failed commit is harmless
			os.Remove(tmp)
		}
	}()

	buf := make([]byte, chunkSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return fmt.Errorf("%w: %w", ErrDownload, werr)
			}
			done += int64(n)
			progress(report(done, total, start))
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("%w: %w", ErrDownload, rerr)
		}
	}

	if total > 0 && done != total {
		return fmt.Errorf("%w: short body: got %d of %d bytes", ErrDownload, done, total)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}
	committed = true

	metrics.ObserveDownload(metrics.ResultSuccess, done)
	progress(report(done, total, start))

	c.logger.Info("Media cached",
		zap.String("url", rawURL),
		zap.String("path", dest),
		zap.Int64("bytes", done),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func report(done, total int64, start time.Time) domain.DownloadProgress {
	elapsed := time.Since(start)
	var rate float64
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(done) / secs
	}
	return domain.DownloadProgress{Done: done, Total: total, Rate: rate, Elapsed: elapsed}
}

// cacheKey is sha1(url) plus the URL path's extension
func cacheKey(rawURL string) string {
	sum := sha1.Sum([]byte(rawURL))
	return hex.EncodeToString(sum[:]) + extension(rawURL)
}

func extension(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" || len(ext) > maxExtLength {
		return defaultExt
	}
	return ext
}

// localPath reports whether rawURL needs no download, returning the path to hand to the player
func localPath(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL, true
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return rawURL, streamExtensions[strings.ToLower(path.Ext(u.Path))]
	case "file":
		return filepath.FromSlash(u.Path), true
	default:
		// Plain paths, Windows drive letters, and stream schemes like rtsp
		return rawURL, true
	}
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
