package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/genricoloni/signage/internal/config"
	"github.com/genricoloni/signage/internal/domain"
	"github.com/genricoloni/signage/internal/playback"
	"github.com/genricoloni/signage/internal/store"
	"github.com/genricoloni/signage/internal/transport"
)

var errRefused = errors.New("connection refused")

type fakeDevice struct {
	mu      sync.Mutex
	cfg     config.DeviceConfig
	renames []string
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{cfg: config.DeviceConfig{
		Host:     "http://signage.local:65000",
		APIKey:   "secret",
		DeviceID: "PC-CLIENT",
		MAC:      "aa:bb:cc:dd:ee:ff",
	}}
}

func (d *fakeDevice) Snapshot() config.DeviceConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

func (d *fakeDevice) Rename(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.DeviceID = id
	d.renames = append(d.renames, id)
	return nil
}

func (d *fakeDevice) id() string {
	return d.Snapshot().DeviceID
}

type fakeConn struct {
	msgs   chan []byte
	writes chan []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{msgs: make(chan []byte, 16), writes: make(chan []byte, 16)}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case m, ok := <-c.msgs:
		if !ok {
			return nil, transport.ErrClosed
		}
		return m, nil
	}
}

func (c *fakeConn) Write(_ context.Context, msg []byte) error {
	c.writes <- msg
	return nil
}

func (c *fakeConn) Close() error { return nil }

// fakeDialer hands out queued results in order, then refuses
type fakeDialer struct {
	mu      sync.Mutex
	results []transport.Conn
	urls    []string
}

func (d *fakeDialer) Dial(_ context.Context, url string) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if len(d.results) == 0 {
		return nil, errRefused
	}
	next := d.results[0]
	d.results = d.results[1:]
	if next == nil {
		return nil, errRefused
	}
	return next, nil
}

func (d *fakeDialer) dialURLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

type fakeSchedules struct {
	mu      sync.Mutex
	entries []domain.ScheduleEntry
	byID    map[string]domain.ScheduleEntry
	err     error
	lists   int
}

func (f *fakeSchedules) ListSchedules(context.Context) ([]domain.ScheduleEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	return f.entries, f.err
}

func (f *fakeSchedules) GetSchedule(_ context.Context, id string) (domain.ScheduleEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.byID[id]; ok {
		return e, nil
	}
	return domain.ScheduleEntry{}, errors.New("not found on server")
}

func (f *fakeSchedules) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

type fakeStore struct {
	mu    sync.Mutex
	byID  map[string]domain.ScheduleEntry
	saves int
}

func newFakeStore() *fakeStore { return &fakeStore{byID: map[string]domain.ScheduleEntry{}} }

func (f *fakeStore) SaveSchedules(entries []domain.ScheduleEntry, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	f.byID = map[string]domain.ScheduleEntry{}
	for _, e := range entries {
		f.byID[string(e.ID)] = e
	}
	return nil
}

func (f *fakeStore) GetSchedule(id string) (*domain.ScheduleEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &e, nil
}

type fakePlayback struct {
	mu             sync.Mutex
	playlist       []domain.PlaylistItem
	playlistStarts int
	startIndex     int
	streams        []string
	geometries     []domain.Geometry
	stops          int
	jumps          []string
}

func (f *fakePlayback) SetGeometry(_ context.Context, g domain.Geometry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.geometries = append(f.geometries, g)
	return nil
}

func (f *fakePlayback) PlayStream(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playlist = nil
	f.streams = append(f.streams, url)
	return nil
}

func (f *fakePlayback) PlayPlaylist(_ context.Context, items []domain.PlaylistItem, start int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if playback.Equivalent(f.playlist, items) {
		return nil
	}
	f.playlist = append([]domain.PlaylistItem(nil), items...)
	f.playlistStarts++
	f.startIndex = start
	return nil
}

func (f *fakePlayback) JumpTo(_ context.Context, mediaID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.playlist {
		if it.MediaID == mediaID || it.ID == mediaID {
			f.jumps = append(f.jumps, mediaID)
			return true
		}
	}
	return false
}

func (f *fakePlayback) Playlist() []domain.PlaylistItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.PlaylistItem(nil), f.playlist...)
}

func (f *fakePlayback) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playlist = nil
	f.stops++
	return nil
}

func (f *fakePlayback) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

type fakeBroadcaster struct {
	mu         sync.Mutex
	texts      []string
	broadcasts []string
	volumes    []*int
}

func (f *fakeBroadcaster) Announce(_ context.Context, text string, _, _ float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, url string, volume *int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, url)
	f.volumes = append(f.volumes, volume)
	return nil
}

type fakeDisplay struct {
	mu          sync.Mutex
	resolutions []string
	orientation []*int
}

func (f *fakeDisplay) ApplyDisplaySettings(_ context.Context, resolution string, orientation *int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolutions = append(f.resolutions, resolution)
	f.orientation = append(f.orientation, orientation)
	return nil
}

type fakeRunner struct {
	mu      sync.Mutex
	entries []domain.ScheduleEntry
	started bool
	stopped bool
}

func (r *fakeRunner) Start(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = true
}

func (r *fakeRunner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
}

func (r *fakeRunner) state() (started, stopped bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started, r.stopped
}

type runnerFactory struct {
	mu      sync.Mutex
	runners []*fakeRunner
}

func (f *runnerFactory) build(entries []domain.ScheduleEntry) Runner {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &fakeRunner{entries: entries}
	f.runners = append(f.runners, r)
	return r
}

func (f *runnerFactory) all() []*fakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeRunner(nil), f.runners...)
}

// recordingSleep records requested delays and reports ctx-ended after limit calls
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
	limit  int
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return len(r.delays) < r.limit && ctx.Err() == nil
}

func (r *recordingSleep) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}
