package playback

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/genricoloni/signage/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePlayer struct {
	mu         sync.Mutex
	opens      []domain.Geometry
	closes     int
	played     []string
	volumes    []int
	ends       chan struct{}
	playNotify chan string
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{
		ends:       make(chan struct{}, 1),
		playNotify: make(chan string, 64),
	}
}

func (f *fakePlayer) Open(ctx context.Context, g domain.Geometry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens = append(f.opens, g)
	return nil
}

func (f *fakePlayer) Play(ctx context.Context, p string) error {
	f.mu.Lock()
	f.played = append(f.played, p)
	f.mu.Unlock()
	f.playNotify <- p
	return nil
}

func (f *fakePlayer) Stop(ctx context.Context) error { return nil }

func (f *fakePlayer) SetVolume(ctx context.Context, level int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes = append(f.volumes, level)
	return nil
}

func (f *fakePlayer) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakePlayer) EndOfMedia() <-chan struct{} { return f.ends }

func (f *fakePlayer) end() { f.ends <- struct{}{} }

func (f *fakePlayer) playCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.played)
}

func (f *fakePlayer) counts() (opens, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opens), f.closes
}

// expectPlay waits for the next Play call and returns its path
func (f *fakePlayer) expectPlay(t *testing.T) string {
	t.Helper()
	select {
	case p := <-f.playNotify:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Play")
		return ""
	}
}

func (f *fakePlayer) expectNoPlay(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case p := <-f.playNotify:
		t.Fatalf("unexpected Play(%s)", p)
	case <-time.After(wait):
	}
}

// fakeResolver maps a URL to /cache/<base>. URLs containing "broken" fail.
type fakeResolver struct{}

func (fakeResolver) Resolve(ctx context.Context, url string, progress domain.ProgressFunc) (string, error) {
	if strings.Contains(url, "broken") {
		return "", errors.New("download failed")
	}
	return "/cache/" + path.Base(url), nil
}

type fakeImages struct{}

func (fakeImages) Fit(ctx context.Context, p string, w, h int) (string, error) {
	if w <= 0 || h <= 0 {
		return p, nil
	}
	return p + ".fit", nil
}

func video(id, url string) domain.PlaylistItem {
	return domain.PlaylistItem{MediaID: id, URL: url, Kind: domain.MediaVideo}
}

func image(id, url string, d time.Duration) domain.PlaylistItem {
	return domain.PlaylistItem{MediaID: id, URL: url, Kind: domain.MediaImage, Duration: d}
}

func newTestController(t *testing.T, player *fakePlayer) *Controller {
	t.Helper()
	c := NewController(zap.NewNop(), player, fakeResolver{}, fakeImages{}, &domain.ScreenResolution{Width: 1920, Height: 1080})
	c.retryDelay = 10 * time.Millisecond
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c
}

func intPtr(v int) *int { return &v }

func TestEquivalent(t *testing.T) {
	a := []domain.PlaylistItem{video("1", "http://x/a.mp4"), {MediaID: "2", URL: "http://x/b.mp4", Volume: intPtr(50)}}

	tests := []struct {
		name     string
		b        []domain.PlaylistItem
		expected bool
	}{
		{name: "Reflexive", b: a, expected: true},
		{name: "Same Identity Different URL", b: []domain.PlaylistItem{video("1", "http://mirror/a.mp4"), {MediaID: "2", Volume: intPtr(50)}}, expected: true},
		{name: "Different Volume", b: []domain.PlaylistItem{video("1", ""), {MediaID: "2", Volume: intPtr(60)}}, expected: false},
		{name: "Volume Removed", b: []domain.PlaylistItem{video("1", ""), {MediaID: "2"}}, expected: false},
		{name: "Reordered", b: []domain.PlaylistItem{{MediaID: "2", Volume: intPtr(50)}, video("1", "")}, expected: false},
		{name: "Shorter", b: a[:1], expected: false},
		{name: "Empty", b: nil, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Equivalent(a, tt.b))
			assert.Equal(t, tt.expected, Equivalent(tt.b, a), "must be symmetric")
		})
	}

	assert.True(t, Equivalent(nil, nil))
	assert.True(t, Equivalent(
		[]domain.PlaylistItem{{URL: "http://x/only-url.mp4"}},
		[]domain.PlaylistItem{{URL: "http://x/only-url.mp4"}},
	), "URL is the identity of last resort")
}

func TestPlayPlaylist_EquivalentIsNoop(t *testing.T) {
	player := newFakePlayer()
	c := newTestController(t, player)
	ctx := context.Background()

	items := []domain.PlaylistItem{video("1", "http://x/a.mp4"), video("2", "http://x/b.mp4")}
	require.NoError(t, c.PlayPlaylist(ctx, items, 0))
	assert.Equal(t, "/cache/a.mp4", player.expectPlay(t))

	same := []domain.PlaylistItem{video("1", "http://x/a.mp4"), video("2", "http://x/b.mp4")}
	require.NoError(t, c.PlayPlaylist(ctx, same, 0))

	player.expectNoPlay(t, 50*time.Millisecond)
	opens, closes := player.counts()
	assert.Equal(t, 1, opens)
	assert.Equal(t, 0, closes)
	assert.Equal(t, 1, player.playCount(), "equivalent playlist must produce exactly one start")
}

func TestPlayPlaylist_AdvancesAndWraps(t *testing.T) {
	player := newFakePlayer()
	c := newTestController(t, player)

	items := []domain.PlaylistItem{video("1", "http://x/a.mp4"), video("2", "http://x/b.mp4")}
	require.NoError(t, c.PlayPlaylist(context.Background(), items, 1))

	assert.Equal(t, "/cache/b.mp4", player.expectPlay(t), "starts at start index")
	player.end()
	assert.Equal(t, "/cache/a.mp4", player.expectPlay(t), "wraps to index 0")
	player.end()
	assert.Equal(t, "/cache/b.mp4", player.expectPlay(t))
}

func TestPlayPlaylist_ImagesAdvanceOnTimer(t *testing.T) {
	player := newFakePlayer()
	c := newTestController(t, player)

	items := []domain.PlaylistItem{
		image("1", "http://x/a.png", 20*time.Millisecond),
		image("2", "http://x/b.png", 20*time.Millisecond),
	}
	require.NoError(t, c.PlayPlaylist(context.Background(), items, 0))

	assert.Equal(t, "/cache/a.png.fit", player.expectPlay(t), "images are letterboxed to the screen")
	assert.Equal(t, "/cache/b.png.fit", player.expectPlay(t))
	assert.Equal(t, "/cache/a.png.fit", player.expectPlay(t))
}

func TestPlayPlaylist_FailedItemSkipped(t *testing.T) {
	player := newFakePlayer()
	c := newTestController(t, player)

	items := []domain.PlaylistItem{video("1", "http://x/broken.mp4"), video("2", "http://x/b.mp4")}
	require.NoError(t, c.PlayPlaylist(context.Background(), items, 0))

	assert.Equal(t, "/cache/b.mp4", player.expectPlay(t))
}

func TestPlayPlaylist_ItemVolume(t *testing.T) {
	player := newFakePlayer()
	c := newTestController(t, player)

	items := []domain.PlaylistItem{{MediaID: "1", URL: "http://x/a.mp4", Kind: domain.MediaVideo, Volume: intPtr(30)}}
	require.NoError(t, c.PlayPlaylist(context.Background(), items, 0))
	player.expectPlay(t)

	player.mu.Lock()
	defer player.mu.Unlock()
	assert.Equal(t, []int{30}, player.volumes)
}

func TestPlayPlaylist_ReplaceKeepsWindow(t *testing.T) {
	player := newFakePlayer()
	c := newTestController(t, player)
	ctx := context.Background()

	require.NoError(t, c.PlayPlaylist(ctx, []domain.PlaylistItem{video("1", "http://x/a.mp4")}, 0))
	player.expectPlay(t)

	require.NoError(t, c.PlayPlaylist(ctx, []domain.PlaylistItem{video("9", "http://x/z.mp4")}, 0))
	assert.Equal(t, "/cache/z.mp4", player.expectPlay(t))

	opens, closes := player.counts()
	assert.Equal(t, 1, opens, "window must not be reopened")
	assert.Equal(t, 0, closes, "window must not be torn down")
	assert.Equal(t, "9", c.Playlist()[0].MediaID)
}

func TestJumpTo(t *testing.T) {
	player := newFakePlayer()
	c := newTestController(t, player)
	ctx := context.Background()

	assert.False(t, c.JumpTo(ctx, "2"), "no playlist active")

	items := []domain.PlaylistItem{
		video("1", "http://x/a.mp4"),
		{ID: "item-7", MediaID: "2", URL: "http://x/b.mp4", Kind: domain.MediaVideo},
		{ID: "item-8", URL: "http://x/c.mp4", Kind: domain.MediaVideo},
	}
	require.NoError(t, c.PlayPlaylist(ctx, items, 0))
	player.expectPlay(t)

	assert.True(t, c.JumpTo(ctx, "2"))
	assert.Equal(t, "/cache/b.mp4", player.expectPlay(t))

	assert.True(t, c.JumpTo(ctx, "item-8"), "falls back to item id")
	assert.Equal(t, "/cache/c.mp4", player.expectPlay(t))

	assert.False(t, c.JumpTo(ctx, "missing"))
	player.expectNoPlay(t, 30*time.Millisecond)
}

func TestPlayStream(t *testing.T) {
	player := newFakePlayer()
	c := newTestController(t, player)
	ctx := context.Background()

	require.NoError(t, c.PlayStream(ctx, "rtsp://cam/live"))
	assert.Equal(t, "/cache/live", player.expectPlay(t))

	require.NoError(t, c.PlayStream(ctx, "rtsp://cam/live"))
	player.expectNoPlay(t, 30*time.Millisecond)

	player.end()
	assert.Equal(t, "/cache/live", player.expectPlay(t), "stream replays at end")

	require.NoError(t, c.PlayPlaylist(ctx, []domain.PlaylistItem{video("1", "http://x/a.mp4")}, 0))
	assert.Equal(t, "/cache/a.mp4", player.expectPlay(t), "playlist replaces the stream")
	assert.Len(t, c.Playlist(), 1)

	assert.Error(t, c.PlayStream(ctx, ""))
}

func TestStop(t *testing.T) {
	player := newFakePlayer()
	c := newTestController(t, player)
	ctx := context.Background()

	require.NoError(t, c.Stop(ctx), "stop with nothing playing")

	require.NoError(t, c.PlayPlaylist(ctx, []domain.PlaylistItem{video("1", "http://x/a.mp4")}, 0))
	player.expectPlay(t)

	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx))

	_, closes := player.counts()
	assert.Equal(t, 1, closes)
	assert.Nil(t, c.Playlist())

	select {
	case player.ends <- struct{}{}:
	default:
	}
	player.expectNoPlay(t, 30*time.Millisecond)
}

func TestSetGeometry_RestartsInNewWindow(t *testing.T) {
	player := newFakePlayer()
	c := newTestController(t, player)
	ctx := context.Background()

	require.NoError(t, c.SetGeometry(ctx, domain.Geometry{}), "same geometry is a no-op")

	items := []domain.PlaylistItem{video("1", "http://x/a.mp4"), video("2", "http://x/b.mp4")}
	require.NoError(t, c.PlayPlaylist(ctx, items, 0))
	player.expectPlay(t)
	player.end()
	assert.Equal(t, "/cache/b.mp4", player.expectPlay(t))

	g := domain.Geometry{X: 10, Y: 20, Width: 640, Height: 360}
	require.NoError(t, c.SetGeometry(ctx, g))
	assert.Equal(t, "/cache/b.mp4", player.expectPlay(t), "resumes the current item")

	player.mu.Lock()
	defer player.mu.Unlock()
	require.Len(t, player.opens, 2)
	assert.Equal(t, g, player.opens[1])
	assert.Equal(t, 1, player.closes)
}
