package session

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/genricoloni/signage/internal/domain"
	"github.com/genricoloni/signage/internal/protocol"
	"github.com/genricoloni/signage/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type harness struct {
	session   *Session
	device    *fakeDevice
	dialer    *fakeDialer
	schedules *fakeSchedules
	store     *fakeStore
	playback  *fakePlayback
	announcer *fakeBroadcaster
	display   *fakeDisplay
	runners   *runnerFactory
	sleeper   *recordingSleep
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		device: newFakeDevice(),
		dialer: &fakeDialer{},
		schedules: &fakeSchedules{
			entries: []domain.ScheduleEntry{{ID: "1", TTSContent: "morning", Speed: 1, Pitch: 1}},
			byID:    map[string]domain.ScheduleEntry{},
		},
		store:     newFakeStore(),
		playback:  &fakePlayback{},
		announcer: &fakeBroadcaster{},
		display:   &fakeDisplay{},
		runners:   &runnerFactory{},
		sleeper:   &recordingSleep{limit: 1000},
	}
	h.session = New(
		zap.NewNop(),
		h.device,
		h.dialer,
		h.schedules,
		h.store,
		h.playback,
		h.announcer,
		h.display,
		WithSleep(h.sleeper.sleep),
		WithSchedulerFactory(h.runners.build),
	)
	return h
}

func (h *harness) send(t *testing.T, raw string) {
	t.Helper()
	h.session.handleMessage(context.Background(), []byte(raw))
}

func TestBackoffSequence(t *testing.T) {
	h := newHarness(t)
	h.sleeper.limit = 9

	require.NoError(t, h.session.Start(context.Background()))
	require.Eventually(t, func() bool { return len(h.sleeper.recorded()) == 9 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, h.session.Stop(context.Background()))

	want := []time.Duration{1, 2, 4, 8, 16, 32, 60, 60, 60}
	for i := range want {
		want[i] *= time.Second
	}
	assert.Equal(t, want, h.sleeper.recorded())
	assert.Equal(t, domain.StateDisconnected, h.session.State())
}

func TestBackoffResetsAfterConnect(t *testing.T) {
	h := newHarness(t)
	h.sleeper.limit = 4

	conn := newFakeConn()
	close(conn.msgs)
	h.dialer.results = []transport.Conn{nil, nil, conn}

	require.NoError(t, h.session.Start(context.Background()))
	require.Eventually(t, func() bool { return len(h.sleeper.recorded()) == 4 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, h.session.Stop(context.Background()))

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, time.Second, 2 * time.Second}, h.sleeper.recorded())

	select {
	case greeting := <-conn.writes:
		assert.JSONEq(t, `{"hello":"world","mac":"aa:bb:cc:dd:ee:ff"}`, string(greeting))
	default:
		t.Fatal("greeting was not sent")
	}
}

func TestDialUsesCurrentIdentity(t *testing.T) {
	h := newHarness(t)
	h.sleeper.limit = 2
	require.NoError(t, h.device.Rename("LOBBY"))

	require.NoError(t, h.session.Start(context.Background()))
	require.Eventually(t, func() bool { return len(h.sleeper.recorded()) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, h.session.Stop(context.Background()))

	urls := h.dialer.dialURLs()
	require.NotEmpty(t, urls)
	u, err := url.Parse(urls[0])
	require.NoError(t, err)
	assert.Equal(t, "ws", u.Scheme)
	assert.Equal(t, "/ws", u.Path)
	assert.Equal(t, "LOBBY", u.Query().Get("device_id"))
	assert.Equal(t, "secret", u.Query().Get("api_key"))
}

func TestMalformedMessageSkipped(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	conn.msgs <- []byte("{{{ definitely not a message")
	conn.msgs <- []byte(`{"type":"no-such-command"}`)
	conn.msgs <- []byte(`{"type":"rename","device_id":"HALL-2"}`)
	h.dialer.results = []transport.Conn{conn}

	require.NoError(t, h.session.Start(context.Background()))
	require.Eventually(t, func() bool { return h.device.id() == "HALL-2" }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, domain.StateConnected, h.session.State())
	assert.Equal(t, StatusConnected, h.session.Status())
	assert.Empty(t, h.sleeper.recorded(), "the connection must survive bad messages")

	require.NoError(t, h.session.Stop(context.Background()))
}

func TestStartIsIdempotentAndStopJoins(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	h.dialer.results = []transport.Conn{conn}

	require.NoError(t, h.session.Start(context.Background()))
	require.NoError(t, h.session.Start(context.Background()))
	require.Eventually(t, func() bool { return h.session.State() == domain.StateConnected }, 2*time.Second, 5*time.Millisecond)

	h.send(t, `{"type":"config","IsEnabled":true,"Playmode":1,"StreamURL":"rtsp://cam/live"}`)
	runners := h.runners.all()
	require.Len(t, runners, 1)

	require.NoError(t, h.session.Stop(context.Background()))
	require.NoError(t, h.session.Stop(context.Background()))

	_, stopped := runners[0].state()
	assert.True(t, stopped)
	assert.GreaterOrEqual(t, h.playback.stopCount(), 1)
	assert.Equal(t, StatusDisconnected, h.session.Status())
	assert.Len(t, h.dialer.dialURLs(), 1)
}

func TestConfig_EnableStartsSchedulerAndStream(t *testing.T) {
	h := newHarness(t)

	h.send(t, `{"type":"config","IsEnabled":"yes","Playmode":1,"StreamURL":"rtsp://cam/live"}`)

	assert.Equal(t, StatusEnabled, h.session.Status())
	assert.Equal(t, 1, h.schedules.listCount())
	assert.Equal(t, 1, h.store.saves)
	runners := h.runners.all()
	require.Len(t, runners, 1)
	started, _ := runners[0].state()
	assert.True(t, started)
	assert.Equal(t, h.schedules.entries, runners[0].entries)
	assert.Equal(t, []string{"rtsp://cam/live"}, h.playback.streams)
}

func TestConfig_RefetchReplacesScheduler(t *testing.T) {
	h := newHarness(t)

	h.send(t, `{"type":"config","IsEnabled":true,"Playmode":0}`)
	h.send(t, `{"type":"config","IsEnabled":true,"Playmode":0}`)

	runners := h.runners.all()
	require.Len(t, runners, 2)
	_, firstStopped := runners[0].state()
	_, secondStopped := runners[1].state()
	assert.True(t, firstStopped, "old scheduler must be joined before the new one starts")
	assert.False(t, secondStopped)
	assert.Empty(t, h.playback.streams)
	assert.Equal(t, 2, h.playback.stopCount(), "play mode 0 stops playback")
}

func TestConfig_DisableStopsEverythingWithoutFetch(t *testing.T) {
	h := newHarness(t)

	h.send(t, `{"type":"config","IsEnabled":true,"Playmode":1,"StreamURL":"rtsp://cam/live"}`)
	require.Len(t, h.runners.all(), 1)
	stopsBefore := h.playback.stopCount()

	h.send(t, `{"type":"config","IsEnabled":"0","Playmode":1,"StreamURL":"rtsp://cam/live"}`)

	assert.Equal(t, StatusDisabled, h.session.Status())
	assert.Equal(t, 1, h.schedules.listCount(), "a disabled device must not fetch")
	_, stopped := h.runners.all()[0].state()
	assert.True(t, stopped)
	assert.Equal(t, stopsBefore+1, h.playback.stopCount())
	assert.Len(t, h.playback.streams, 1)

	h.send(t, `{"type":"refresh-schedules"}`)
	assert.Equal(t, 1, h.schedules.listCount())
	assert.Len(t, h.runners.all(), 1)
}

func TestConfig_StreamOnlySuppressesScheduler(t *testing.T) {
	h := newHarness(t)

	h.send(t, `{"type":"config","IsEnabled":true,"Playmode":1,"StreamURL":"rtsp://cam/live"}`)
	require.Len(t, h.runners.all(), 1)

	h.send(t, `{"type":"config","IsEnabled":true,"Playmode":2}`)

	assert.Equal(t, 2, h.schedules.listCount())
	require.Len(t, h.runners.all(), 1, "no scheduler in play mode 2")
	_, stopped := h.runners.all()[0].state()
	assert.True(t, stopped)
	assert.Equal(t, []string{"rtsp://cam/live", "rtsp://cam/live"}, h.playback.streams)
}

func TestConfig_FetchFailureKeepsScheduler(t *testing.T) {
	h := newHarness(t)

	h.send(t, `{"type":"config","IsEnabled":true,"Playmode":0}`)
	h.schedules.err = assert.AnError
	h.send(t, `{"type":"refresh-schedules"}`)

	runners := h.runners.all()
	require.Len(t, runners, 1)
	_, stopped := runners[0].state()
	assert.False(t, stopped)
}

func TestConfig_DisplayAndGeometryAppliedWhileDisabled(t *testing.T) {
	h := newHarness(t)

	h.send(t, `{"type":"config","IsEnabled":false,"Resolution":"1920x1080","Orientation":"1","VlcX":10,"VlcY":20,"VlcWidth":640,"VlcHeight":360}`)

	require.Len(t, h.display.resolutions, 1)
	assert.Equal(t, "1920x1080", h.display.resolutions[0])
	require.NotNil(t, h.display.orientation[0])
	assert.Equal(t, 1, *h.display.orientation[0])
	assert.Equal(t, []domain.Geometry{{X: 10, Y: 20, Width: 640, Height: 360}}, h.playback.geometries)
	assert.Equal(t, 0, h.schedules.listCount())
	assert.Equal(t, StatusDisabled, h.session.Status())
}

func TestConfig_DeviceIdentifierRenames(t *testing.T) {
	h := newHarness(t)

	h.send(t, `{"type":"config","IsEnabled":false,"DeviceIdentifier":"FOYER"}`)
	h.send(t, `{"type":"config","IsEnabled":false,"DeviceIdentifier":"FOYER"}`)

	assert.Equal(t, "FOYER", h.device.id())
	assert.Equal(t, []string{"FOYER"}, h.device.renames)
}

func TestPlaylist_IdenticalIsNoRestart(t *testing.T) {
	h := newHarness(t)
	msg := `{"type":"playlist","items":[{"id":1,"url":"http://h/a.mp4","volume":50},{"id":2,"url":"http://h/b.jpg"}]}`

	h.send(t, msg)
	h.send(t, msg)
	h.send(t, `{'type': 'playlist', 'items': [{'id': 1, 'url': 'http://h/a.mp4', 'volume': 50}, {'id': 2, 'url': 'http://h/b.jpg', 'volume': None}]}`)

	assert.Equal(t, 1, h.playback.playlistStarts)

	h.send(t, `{"type":"playlist","items":[{"id":1,"url":"http://h/a.mp4","volume":60},{"id":2,"url":"http://h/b.jpg"}]}`)
	assert.Equal(t, 2, h.playback.playlistStarts, "a volume change is a different playlist")
}

func TestPlayMedia(t *testing.T) {
	h := newHarness(t)

	h.send(t, `{"type":"play-media","media_id":"m1"}`)
	assert.Empty(t, h.playback.jumps, "no active playlist")

	h.send(t, `{"type":"playlist","items":[{"media_id":"m1","url":"http://h/a.mp4"},{"media_id":"m2","url":"http://h/b.mp4"}]}`)
	h.send(t, `{"type":"play-media","media_id":"m2"}`)
	h.send(t, `{"type":"play-media","media_id":"missing"}`)

	assert.Equal(t, []string{"m2"}, h.playback.jumps)
}

func TestTestBroadcast_StoreThenServer(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.SaveSchedules([]domain.ScheduleEntry{{ID: "7", TTSContent: "from snapshot"}}, time.Now()))
	h.schedules.byID["9"] = domain.ScheduleEntry{ID: "9", TTSContent: "from server"}

	h.send(t, `{"type":"test-broadcast","schedule_id":7}`)
	h.send(t, `{"type":"test-broadcast","schedule_id":"9"}`)
	h.send(t, `{"type":"test-broadcast","schedule_id":"404"}`)
	h.session.broadcasts.Wait()

	assert.ElementsMatch(t, []string{"from snapshot", "from server"}, h.announcer.texts)
	assert.Empty(t, h.runners.all(), "test broadcasts never touch the scheduler")
}

func TestCustomBroadcast(t *testing.T) {
	h := newHarness(t)

	h.send(t, `{"type":"custom-broadcast","audio_url":"http://h/chime.mp3","volume":80}`)
	h.send(t, `{"type":"custom-broadcast","audio_url":""}`)
	h.session.broadcasts.Wait()

	require.Equal(t, []string{"http://h/chime.mp3"}, h.announcer.broadcasts)
	require.NotNil(t, h.announcer.volumes[0])
	assert.Equal(t, 80, *h.announcer.volumes[0])
}

func TestDispatch_UnknownIsIgnored(t *testing.T) {
	h := newHarness(t)
	err := h.session.dispatch(context.Background(), protocol.Unknown{Kind: "reboot"})
	assert.ErrorIs(t, err, errIgnored)
}

func TestRefreshSchedules_ReplacesSchedulerOnly(t *testing.T) {
	h := newHarness(t)

	h.send(t, `{"type":"config","IsEnabled":true,"Playmode":1,"StreamURL":"rtsp://cam/live","Resolution":"1920x1080"}`)
	require.Len(t, h.runners.all(), 1)
	stopsBefore := h.playback.stopCount()

	updated := []domain.ScheduleEntry{
		{ID: "2", TTSContent: "noon", Speed: 1, Pitch: 1},
		{ID: "3", TTSContent: "evening", Speed: 1, Pitch: 1},
	}
	h.schedules.entries = updated

	h.send(t, `{"type":"refresh-schedules"}`)

	runners := h.runners.all()
	require.Len(t, runners, 2)
	_, oldStopped := runners[0].state()
	assert.True(t, oldStopped, "old scheduler must be joined")
	started, stopped := runners[1].state()
	assert.True(t, started)
	assert.False(t, stopped)
	assert.Equal(t, updated, runners[1].entries)
	assert.Equal(t, 2, h.store.saves)

	assert.Equal(t, StatusEnabled, h.session.Status())
	assert.True(t, h.session.enabled)
	assert.Equal(t, domain.PlayModeStream, h.session.playMode)
	assert.Equal(t, []string{"rtsp://cam/live"}, h.playback.streams, "refresh must not restart the stream")
	assert.Equal(t, stopsBefore, h.playback.stopCount())
	assert.Len(t, h.display.resolutions, 1)
	assert.Empty(t, h.playback.geometries)
}

func TestRefreshSchedules_StaysSuppressedInStreamOnly(t *testing.T) {
	h := newHarness(t)

	h.send(t, `{"type":"config","IsEnabled":true,"Playmode":2,"StreamURL":"rtsp://cam/live"}`)
	require.Empty(t, h.runners.all())
	stopsBefore := h.playback.stopCount()

	h.send(t, `{"type":"refresh-schedules"}`)

	assert.Equal(t, 2, h.schedules.listCount(), "the snapshot is still refreshed")
	assert.Equal(t, 2, h.store.saves)
	assert.Empty(t, h.runners.all(), "no scheduler in play mode 2")
	assert.Equal(t, domain.PlayModeStreamOnly, h.session.playMode)
	assert.Equal(t, []string{"rtsp://cam/live"}, h.playback.streams)
	assert.Equal(t, stopsBefore, h.playback.stopCount())
	assert.Equal(t, StatusEnabled, h.session.Status())
}
