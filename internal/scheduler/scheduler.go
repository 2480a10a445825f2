package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/genricoloni/signage/internal/domain"
	"go.uber.org/zap"
)

const defaultPollInterval = time.Second

// ParseDays decodes a weekday bitmask where bit 0 is Monday and bit 6 is Sunday.
// Higher bits are ignored.
func ParseDays(mask int) []time.Weekday {
	var days []time.Weekday
	for i := 0; i < 7; i++ {
		if mask&(1<<i) != 0 {
			days = append(days, time.Weekday((i+1)%7))
		}
	}
	return days
}

// NextRun returns the first occurrence of entry at or after base.
// One-shot entries yield false once their moment has passed. Recurring entries with
// no valid weekday bits run every day.
func NextRun(entry domain.ScheduleEntry, base time.Time) (time.Time, bool) {
	if entry.OneShot() {
		when := entry.Date.At(entry.Time, base.Location())
		if when.Before(base) {
			return time.Time{}, false
		}
		return when, true
	}

	var allowed [7]bool
	days := ParseDays(entry.DaysOfWeekMask)
	for _, d := range days {
		allowed[d] = true
	}
	if len(days) == 0 {
		allowed = [7]bool{true, true, true, true, true, true, true}
	}

	// Eight days, not seven: once a single-weekday entry fires, the only remaining slot is
	// the same weekday next week. A seven-day scan would report none and retire the entry.
	for i := 0; i <= 7; i++ {
		when := entry.Time.On(base.AddDate(0, 0, i))
		if allowed[when.Weekday()] && !when.Before(base) {
			return when, true
		}
	}
	return time.Time{}, false
}

// job is a schedule entry with its scheduler-local run state
type job struct {
	domain.ScheduleEntry
	nextRun time.Time
	hasNext bool
	lastRun time.Time
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithPollInterval replaces the one-second poll
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// Scheduler fires announcements for one immutable schedule list.
// A new list means a new Scheduler: run state is never carried across.
type Scheduler struct {
	logger    *zap.Logger
	announcer domain.Announcer
	jobs      []*job
	now       func() time.Time
	interval  time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a scheduler for entries. It does nothing until Start.
func New(logger *zap.Logger, announcer domain.Announcer, entries []domain.ScheduleEntry, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:    logger,
		announcer: announcer,
		now:       time.Now,
		interval:  defaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.jobs = make([]*job, 0, len(entries))
	for _, e := range entries {
		s.jobs = append(s.jobs, &job{ScheduleEntry: e})
	}
	return s
}

// Start launches the poll loop. It returns immediately and is a no-op when already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	now := s.now()
	for _, j := range s.jobs {
		j.nextRun, j.hasNext = NextRun(j.ScheduleEntry, now)
		j.lastRun = time.Time{}
		if j.hasNext {
			s.logger.Debug("Announcement scheduled",
				zap.String("id", string(j.ID)),
				zap.String("title", j.Title),
				zap.Time("nextRun", j.nextRun))
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(loopCtx, s.done)

	s.logger.Info("Scheduler started", zap.Int("entries", len(s.jobs)))
}

// Stop cancels the loop and waits for it to exit, including any announcement in progress.
// Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, s.now())
		}
	}
}

// tick fires every due job. A job that already ran today is skipped but still advanced.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	for _, j := range s.jobs {
		if ctx.Err() != nil {
			return
		}
		if !j.hasNext || j.nextRun.After(now) {
			continue
		}

		if !j.lastRun.IsZero() && sameDay(j.lastRun, now) {
			s.logger.Debug("Announcement already ran today, skipping",
				zap.String("id", string(j.ID)),
				zap.Time("lastRun", j.lastRun))
			j.nextRun, j.hasNext = NextRun(j.ScheduleEntry, now.Add(time.Second))
			continue
		}

		s.logger.Info("Playing scheduled announcement",
			zap.String("id", string(j.ID)),
			zap.String("title", j.Title))

		if err := s.announcer.Announce(ctx, j.TTSContent, j.Speed, j.Pitch); err != nil {
			s.logger.Error("Scheduled announcement failed",
				zap.String("id", string(j.ID)),
				zap.Error(err))
		} else {
			j.lastRun = now
		}
		j.nextRun, j.hasNext = NextRun(j.ScheduleEntry, now.Add(time.Second))
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return ay == by && am == bm && ad == bd
}
