package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/genricoloni/signage/internal/config"
	"github.com/genricoloni/signage/internal/domain"
	"github.com/genricoloni/signage/internal/metrics"
	"github.com/genricoloni/signage/internal/protocol"
	"github.com/genricoloni/signage/internal/scheduler"
	"github.com/genricoloni/signage/internal/transport"
	"go.uber.org/zap"
)

// Status strings shown to the operator
const (
	StatusConnecting   = "Connecting…"
	StatusConnected    = "Connected"
	StatusDisconnected = "Disconnected"
	StatusEnabled      = "사용함"
	StatusDisabled     = "사용안함"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 60 * time.Second
)

// Device is the persisted device identity
type Device interface {
	Snapshot() config.DeviceConfig
	Rename(id string) error
}

// ScheduleStore keeps the last schedule snapshot for lookups by id
type ScheduleStore interface {
	SaveSchedules(entries []domain.ScheduleEntry, fetchedAt time.Time) error
	GetSchedule(id string) (*domain.ScheduleEntry, error)
}

// Playback owns the on-screen occupant
type Playback interface {
	SetGeometry(ctx context.Context, g domain.Geometry) error
	PlayStream(ctx context.Context, url string) error
	PlayPlaylist(ctx context.Context, items []domain.PlaylistItem, start int) error
	JumpTo(ctx context.Context, mediaID string) bool
	Playlist() []domain.PlaylistItem
	Stop(ctx context.Context) error
}

// Broadcaster plays announcements and ad-hoc audio
type Broadcaster interface {
	domain.Announcer
	Broadcast(ctx context.Context, url string, volume *int) error
}

// Runner is a started-and-stopped background loop for one schedule list
type Runner interface {
	Start(ctx context.Context)
	Stop()
}

// Option configures a Session
type Option func(*Session)

// WithSleep replaces the backoff sleep. It returns false when ctx ended first.
func WithSleep(sleep func(ctx context.Context, d time.Duration) bool) Option {
	return func(s *Session) { s.sleep = sleep }
}

// WithSchedulerFactory replaces how a scheduler is built for a schedule list
func WithSchedulerFactory(f func(entries []domain.ScheduleEntry) Runner) Option {
	return func(s *Session) { s.newScheduler = f }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session keeps the control connection alive and reconciles server commands
// against the scheduler and the playback controller.
// Device state (enabled, play mode, scheduler) is only touched on the loop goroutine.
type Session struct {
	logger       *zap.Logger
	device       Device
	dialer       transport.Dialer
	schedules    domain.ScheduleSource
	store        ScheduleStore
	playback     Playback
	announcer    Broadcaster
	display      domain.DisplayApplier
	newScheduler func(entries []domain.ScheduleEntry) Runner
	sleep        func(ctx context.Context, d time.Duration) bool
	now          func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	status  string
	state   domain.ConnectionState

	enabled   bool
	playMode  domain.PlayMode
	streamURL string
	sched     Runner

	broadcasts sync.WaitGroup
}

// New creates a stopped session. Start launches the connection loop.
func New(
	logger *zap.Logger,
	device Device,
	dialer transport.Dialer,
	schedules domain.ScheduleSource,
	store ScheduleStore,
	playback Playback,
	announcer Broadcaster,
	display domain.DisplayApplier,
	opts ...Option,
) *Session {
	s := &Session{
		logger:    logger,
		device:    device,
		dialer:    dialer,
		schedules: schedules,
		store:     store,
		playback:  playback,
		announcer: announcer,
		display:   display,
		sleep:     sleepCtx,
		now:       time.Now,
		status:    StatusDisconnected,
		state:     domain.StateDisconnected,
	}
	s.newScheduler = func(entries []domain.ScheduleEntry) Runner {
		return scheduler.New(logger.Named("scheduler"), s.announcer, entries)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the reconnection loop. It returns immediately and is a no-op when already running.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(loopCtx, s.done)

	s.logger.Info("Session started")
	return nil
}

// Stop ends the loop and waits for it, any one-off broadcasts, the scheduler
// and playback to terminate. Safe to call from any goroutine, more than once.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.broadcasts.Wait()

	s.stopScheduler()
	s.enabled = false
	err := s.playback.Stop(ctx)
	if err != nil {
		err = fmt.Errorf("stop playback: %w", err)
	}

	s.setState(domain.StateDisconnected, StatusDisconnected)
	s.logger.Info("Session stopped")
	return err
}

// Status returns the operator-facing status line
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// State returns the connection state
func (s *Session) State() domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	b := newBackOff()
	for {
		s.setState(domain.StateConnecting, StatusConnecting)
		err := s.connectAndServe(ctx, b)
		if ctx.Err() != nil {
			return
		}

		delay := b.NextBackOff()
		s.setState(domain.StateDisconnected,
			fmt.Sprintf("Disconnected: retry in %ds", int(delay/time.Second)))
		s.logger.Warn("Control connection lost",
			zap.Error(err),
			zap.Duration("retryIn", delay))
		metrics.IncReconnect()

		if !s.sleep(ctx, delay) {
			return
		}
	}
}

// connectAndServe runs one connection until it fails or ctx ends
func (s *Session) connectAndServe(ctx context.Context, b backoff.BackOff) error {
	dev := s.device.Snapshot()
	url, err := protocol.ControlURL(dev.Host, dev.APIKey, dev.DeviceID, dev.MAC)
	if err != nil {
		return err
	}

	conn, err := s.dialer.Dial(ctx, url)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", dev.Host, err)
	}
	defer conn.Close()

	b.Reset()
	s.setState(domain.StateConnected, StatusConnected)

	if err := conn.Write(ctx, protocol.Greeting(dev.MAC)); err != nil {
		return fmt.Errorf("send greeting: %w", err)
	}

	for {
		msg, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}
		s.handleMessage(ctx, msg)
	}
}

func (s *Session) setState(state domain.ConnectionState, status string) {
	s.mu.Lock()
	changed := s.status != status
	s.state = state
	s.status = status
	s.mu.Unlock()

	metrics.SetConnectionState(state)
	if changed {
		s.logger.Info("Status changed", zap.String("status", status), zap.Stringer("state", state))
	}
}

func (s *Session) setStatus(status string) {
	s.mu.Lock()
	changed := s.status != status
	s.status = status
	s.mu.Unlock()

	if changed {
		s.logger.Info("Status changed", zap.String("status", status))
	}
}

// newBackOff returns 1s, 2s, 4s ... capped at 60s, forever
func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

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
