package playback

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/genricoloni/signage/internal/domain"
	"github.com/genricoloni/signage/internal/metrics"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const defaultRetryDelay = 2 * time.Second

type occupantKind string

const (
	occupantStream   occupantKind = "stream"
	occupantPlaylist occupantKind = "playlist"
)

// occupant is the background activity that currently owns the screen
type occupant struct {
	kind   occupantKind
	stream string
	items  []domain.PlaylistItem
	cursor atomic.Int64
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller owns the single on-screen occupant: nothing, one stream, or one playlist.
// Starting an occupant always stops and joins the previous one first. The player window
// stays open across occupant changes and is closed only by Stop.
type Controller struct {
	logger     *zap.Logger
	player     domain.MediaPlayer
	resolver   domain.MediaResolver
	images     domain.ImagePreparer
	screen     *domain.ScreenResolution
	retryDelay time.Duration

	mu       sync.Mutex
	geometry domain.Geometry
	opened   bool
	openedAt domain.Geometry
	occ      *occupant
}

// NewController creates a playback controller. screen is the letterbox target for
// images when no explicit geometry is set; it may be nil.
func NewController(
	logger *zap.Logger,
	player domain.MediaPlayer,
	resolver domain.MediaResolver,
	images domain.ImagePreparer,
	screen *domain.ScreenResolution,
) *Controller {
	return &Controller{
		logger:     logger,
		player:     player,
		resolver:   resolver,
		images:     images,
		screen:     screen,
		retryDelay: defaultRetryDelay,
	}
}

// SetGeometry changes the playback window placement. A running occupant is
// restarted in the new window from its current position.
func (c *Controller) SetGeometry(ctx context.Context, g domain.Geometry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if g == c.geometry {
		return nil
	}
	c.geometry = g
	c.logger.Info("Playback geometry changed",
		zap.Int("x", g.X), zap.Int("y", g.Y),
		zap.Int("width", g.Width), zap.Int("height", g.Height))

	if !c.opened || c.occ == nil {
		return nil
	}

	prev := c.occ
	c.stopOccupantLocked()
	if err := c.closeWindowLocked(ctx); err != nil {
		c.logger.Warn("Failed to close player window", zap.Error(err))
	}
	switch prev.kind {
	case occupantStream:
		return c.startLocked(ctx, &occupant{kind: occupantStream, stream: prev.stream}, 0)
	default:
		return c.startLocked(ctx, &occupant{kind: occupantPlaylist, items: prev.items}, int(prev.cursor.Load()))
	}
}

// PlayStream makes url the occupant, looping it. Already streaming url is a no-op.
func (c *Controller) PlayStream(ctx context.Context, url string) error {
	if url == "" {
		return fmt.Errorf("stream url is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.occ != nil && c.occ.kind == occupantStream && c.occ.stream == url {
		c.logger.Debug("Stream already playing", zap.String("url", url))
		return nil
	}

	c.stopOccupantLocked()
	return c.startLocked(ctx, &occupant{kind: occupantStream, stream: url}, 0)
}

// PlayPlaylist makes items the occupant starting at start, looping forever.
// An equivalent playlist already playing is left untouched. An empty playlist stops playback.
func (c *Controller) PlayPlaylist(ctx context.Context, items []domain.PlaylistItem, start int) error {
	if len(items) == 0 {
		c.logger.Info("Empty playlist, stopping playback")
		return c.Stop(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.occ != nil && c.occ.kind == occupantPlaylist && Equivalent(c.occ.items, items) {
		c.logger.Debug("Playlist unchanged, keeping current playback", zap.Int("items", len(items)))
		return nil
	}

	c.stopOccupantLocked()
	owned := append([]domain.PlaylistItem(nil), items...)
	return c.startLocked(ctx, &occupant{kind: occupantPlaylist, items: owned}, start)
}

// JumpTo restarts the active playlist at the item whose media id (or, failing that,
// item id) is mediaID. It reports false when there is no playlist or no such item.
func (c *Controller) JumpTo(ctx context.Context, mediaID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.occ == nil || c.occ.kind != occupantPlaylist || mediaID == "" {
		return false
	}

	items := c.occ.items
	idx := indexOf(items, func(it domain.PlaylistItem) bool { return it.MediaID == mediaID })
	if idx < 0 {
		idx = indexOf(items, func(it domain.PlaylistItem) bool { return it.ID == mediaID })
	}
	if idx < 0 {
		return false
	}

	c.stopOccupantLocked()
	if err := c.startLocked(ctx, &occupant{kind: occupantPlaylist, items: items}, idx); err != nil {
		c.logger.Error("Failed to restart playlist", zap.Error(err))
		return false
	}
	return true
}

// Playlist returns a copy of the active playlist, nil when none is playing
func (c *Controller) Playlist() []domain.PlaylistItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.occ == nil || c.occ.kind != occupantPlaylist {
		return nil
	}
	return append([]domain.PlaylistItem(nil), c.occ.items...)
}

// Stop ends the occupant and closes the player window. Idempotent.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	hadOccupant := c.occ != nil
	c.stopOccupantLocked()
	err := c.closeWindowLocked(ctx)
	if hadOccupant {
		c.logger.Info("Playback stopped")
	}
	return err
}

func (c *Controller) startLocked(ctx context.Context, occ *occupant, start int) error {
	if err := c.openWindowLocked(ctx); err != nil {
		return err
	}

	if n := len(occ.items); n > 0 && (start < 0 || start >= n) {
		start = 0
	}
	occ.cursor.Store(int64(start))

	// The occupant outlives the request that started it
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	occ.cancel = cancel
	occ.done = make(chan struct{})
	c.occ = occ

	target := c.imageTarget()
	switch occ.kind {
	case occupantStream:
		go c.runStream(runCtx, occ)
		c.logger.Info("Stream playback started", zap.String("url", occ.stream))
	default:
		go c.runPlaylist(runCtx, occ, target)
		c.logger.Info("Playlist playback started",
			zap.Int("items", len(occ.items)),
			zap.Int("start", start))
	}
	metrics.IncPlaybackStart(string(occ.kind))
	return nil
}

// stopOccupantLocked cancels the occupant and waits for its goroutine to exit
func (c *Controller) stopOccupantLocked() {
	if c.occ == nil {
		return
	}
	c.occ.cancel()
	<-c.occ.done
	c.occ = nil
}

func (c *Controller) openWindowLocked(ctx context.Context) error {
	if c.opened && c.openedAt == c.geometry {
		return nil
	}
	if c.opened {
		if err := c.closeWindowLocked(ctx); err != nil {
			c.logger.Warn("Failed to close player window", zap.Error(err))
		}
	}
	if err := c.player.Open(ctx, c.geometry); err != nil {
		return fmt.Errorf("failed to open player: %w", err)
	}
	c.opened = true
	c.openedAt = c.geometry
	return nil
}

func (c *Controller) closeWindowLocked(ctx context.Context) error {
	if !c.opened {
		return nil
	}
	c.opened = false
	return multierr.Append(c.player.Stop(ctx), c.player.Close(ctx))
}

// imageTarget is the size images are letterboxed to
func (c *Controller) imageTarget() domain.ScreenResolution {
	if !c.geometry.FullScreen() {
		return domain.ScreenResolution{Width: c.geometry.Width, Height: c.geometry.Height}
	}
	if c.screen != nil {
		return *c.screen
	}
	return domain.ScreenResolution{}
}

func (c *Controller) runStream(ctx context.Context, occ *occupant) {
	defer close(occ.done)

	for ctx.Err() == nil {
		path, err := c.resolver.Resolve(ctx, occ.stream, c.progressLogger(occ.stream))
		if err != nil {
			c.logger.Error("Failed to resolve stream", zap.String("url", occ.stream), zap.Error(err))
			if !sleepCtx(ctx, c.retryDelay) {
				return
			}
			continue
		}

		// Replay from the start each time the media ends
		for ctx.Err() == nil {
			if err := c.play(ctx, path); err != nil {
				c.logger.Error("Failed to play stream", zap.String("url", occ.stream), zap.Error(err))
				if !sleepCtx(ctx, c.retryDelay) {
					return
				}
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-c.player.EndOfMedia():
				c.logger.Debug("Stream ended, replaying", zap.String("url", occ.stream))
			}
		}
	}
}

func (c *Controller) runPlaylist(ctx context.Context, occ *occupant, target domain.ScreenResolution) {
	defer close(occ.done)

	idx := int(occ.cursor.Load())
	for ctx.Err() == nil {
		occ.cursor.Store(int64(idx))
		if !c.playItem(ctx, occ.items[idx], target) {
			if !sleepCtx(ctx, c.retryDelay) {
				return
			}
		}
		idx = (idx + 1) % len(occ.items)
	}
}

// playItem renders one playlist item until it completes. It reports false when the
// item could not be played.
func (c *Controller) playItem(ctx context.Context, item domain.PlaylistItem, target domain.ScreenResolution) bool {
	if item.URL == "" {
		c.logger.Warn("Playlist item has no media url", zap.String("id", item.Key()))
		return false
	}

	path, err := c.resolver.Resolve(ctx, item.URL, c.progressLogger(item.URL))
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error("Failed to resolve media, skipping to next item",
				zap.String("url", item.URL),
				zap.Error(err))
		}
		return false
	}

	if item.Kind == domain.MediaImage && c.images != nil {
		if fitted, err := c.images.Fit(ctx, path, target.Width, target.Height); err != nil {
			c.logger.Warn("Failed to letterbox image, showing original", zap.String("path", path), zap.Error(err))
		} else {
			path = fitted
		}
	}

	if item.Volume != nil {
		if err := c.player.SetVolume(ctx, *item.Volume); err != nil {
			c.logger.Warn("Failed to set item volume", zap.Int("volume", *item.Volume), zap.Error(err))
		}
	}

	if err := c.play(ctx, path); err != nil {
		if ctx.Err() == nil {
			c.logger.Error("Failed to play media", zap.String("path", path), zap.Error(err))
		}
		return false
	}

	c.logger.Debug("Playing playlist item",
		zap.String("id", item.Key()),
		zap.String("kind", string(item.Kind)))

	if item.Kind == domain.MediaImage {
		sleepCtx(ctx, item.DisplayDuration())
		return true
	}

	select {
	case <-ctx.Done():
	case <-c.player.EndOfMedia():
	}
	return true
}

// play drains stale end-of-media events and starts path
func (c *Controller) play(ctx context.Context, path string) error {
	ends := c.player.EndOfMedia()
	for {
		select {
		case <-ends:
			continue
		default:
		}
		break
	}
	return c.player.Play(ctx, path)
}

func (c *Controller) progressLogger(url string) domain.ProgressFunc {
	var lastLogged time.Time
	return func(p domain.DownloadProgress) {
		if p.Err != nil || time.Since(lastLogged) < 2*time.Second {
			return
		}
		lastLogged = time.Now()
		c.logger.Info("Downloading media",
			zap.String("url", url),
			zap.Int64("done", p.Done),
			zap.Int64("total", p.Total),
			zap.Float64("rate", p.Rate))
	}
}

func indexOf(items []domain.PlaylistItem, match func(domain.PlaylistItem) bool) int {
	for i, it := range items {
		if match(it) {
			return i
		}
	}
	return -1
}

// sleepCtx waits d or until ctx ends, reporting whether the full wait elapsed
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
