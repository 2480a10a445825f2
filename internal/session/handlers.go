package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/genricoloni/signage/internal/domain"
	"github.com/genricoloni/signage/internal/metrics"
	"github.com/genricoloni/signage/internal/playback"
	"github.com/genricoloni/signage/internal/protocol"
	"github.com/genricoloni/signage/internal/store"
	"go.uber.org/zap"
)

// errIgnored marks a well-formed command that had nothing to do
var errIgnored = errors.New("ignored")

const maxLoggedPayload = 512

// handleMessage decodes and dispatches one inbound message. Nothing here ends the receive loop.
func (s *Session) handleMessage(ctx context.Context, raw []byte) {
	cmd, err := protocol.Decode(raw)
	if err != nil {
		s.logger.Warn("Ignoring unparseable message",
			zap.ByteString("payload", truncate(raw)),
			zap.Error(err))
		metrics.IncCommand("unparseable", metrics.ResultError)
		return
	}

	err = s.dispatch(ctx, cmd)
	switch {
	case err == nil:
		metrics.IncCommand(cmd.Type(), metrics.ResultSuccess)
	case errors.Is(err, errIgnored):
		s.logger.Debug("Command ignored", zap.String("type", cmd.Type()), zap.Error(err))
		metrics.IncCommand(cmd.Type(), metrics.ResultIgnored)
	default:
		s.logger.Warn("Command failed", zap.String("type", cmd.Type()), zap.Error(err))
		metrics.IncCommand(cmd.Type(), metrics.ResultError)
	}
}

func (s *Session) dispatch(ctx context.Context, cmd protocol.Command) error {
	switch c := cmd.(type) {
	case protocol.Rename:
		return s.handleRename(c)
	case protocol.Config:
		return s.handleConfig(ctx, c)
	case protocol.TestBroadcast:
		return s.handleTestBroadcast(ctx, c)
	case protocol.CustomBroadcast:
		return s.handleCustomBroadcast(ctx, c)
	case protocol.Playlist:
		return s.handlePlaylist(ctx, c)
	case protocol.PlayMedia:
		return s.handlePlayMedia(ctx, c)
	case protocol.RefreshSchedules:
		return s.handleRefreshSchedules(ctx)
	default:
		s.logger.Info("Ignoring unknown command", zap.String("type", cmd.Type()))
		return fmt.Errorf("%w: unknown command type %q", errIgnored, cmd.Type())
	}
}

func (s *Session) handleRename(c protocol.Rename) error {
	if c.DeviceID == "" {
		return fmt.Errorf("%w: empty device id", errIgnored)
	}
	if err := s.device.Rename(c.DeviceID); err != nil {
		return fmt.Errorf("rename device: %w", err)
	}
	s.logger.Info("Device renamed", zap.String("deviceID", c.DeviceID))
	return nil
}

// handleConfig reconciles the device against the server's desired state.
// Display and geometry changes apply regardless of the enabled flag.
func (s *Session) handleConfig(ctx context.Context, c protocol.Config) error {
	if c.DeviceID != "" && c.DeviceID != s.device.Snapshot().DeviceID {
		if err := s.handleRename(protocol.Rename{DeviceID: c.DeviceID}); err != nil {
			s.logger.Warn("Failed to apply device id from config", zap.Error(err))
		}
	}

	if c.Resolution != "" || c.Orientation != nil {
		if err := s.display.ApplyDisplaySettings(ctx, c.Resolution, c.Orientation); err != nil {
			s.logger.Warn("Failed to apply display settings", zap.Error(err))
		}
	}
	if c.Geometry != nil {
		if err := s.playback.SetGeometry(ctx, *c.Geometry); err != nil {
			s.logger.Warn("Failed to apply playback geometry", zap.Error(err))
		}
	}

	if c.PlayMode != nil {
		s.playMode = *c.PlayMode
	}
	if c.StreamURL != "" {
		s.streamURL = c.StreamURL
	}

	enabled := s.enabled
	if c.Enabled != nil {
		enabled = *c.Enabled
	}

	if !enabled {
		s.disable(ctx)
		return nil
	}

	s.enabled = true
	s.setStatus(StatusEnabled)

	if err := s.refreshSchedules(ctx); err != nil {
		s.logger.Warn("Schedule refresh failed, keeping current scheduler", zap.Error(err))
	}

	if !s.playMode.Streams() {
		return s.playback.Stop(ctx)
	}
	if s.streamURL == "" {
		return fmt.Errorf("play mode %d requires a stream URL", s.playMode)
	}
	return s.playback.PlayStream(ctx, s.streamURL)
}

func (s *Session) disable(ctx context.Context) {
	s.enabled = false
	s.stopScheduler()
	if err := s.playback.Stop(ctx); err != nil {
		s.logger.Warn("Failed to stop playback", zap.Error(err))
	}
	s.setStatus(StatusDisabled)
}

// handleTestBroadcast plays one schedule's announcement out of band from the scheduler
func (s *Session) handleTestBroadcast(ctx context.Context, c protocol.TestBroadcast) error {
	if c.ScheduleID == "" {
		return fmt.Errorf("%w: empty schedule id", errIgnored)
	}

	entry, err := s.lookupSchedule(ctx, c.ScheduleID)
	if err != nil {
		return err
	}

	s.goBroadcast(ctx, protocol.TypeTestBroadcast, func(ctx context.Context) error {
		return s.announcer.Announce(ctx, entry.TTSContent, entry.Speed, entry.Pitch)
	})
	return nil
}

// lookupSchedule checks the local snapshot first, then asks the server
func (s *Session) lookupSchedule(ctx context.Context, id string) (domain.ScheduleEntry, error) {
	cached, err := s.store.GetSchedule(id)
	if err == nil {
		return *cached, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("Schedule snapshot lookup failed", zap.String("id", id), zap.Error(err))
	}

	entry, err := s.schedules.GetSchedule(ctx, id)
	if err != nil {
		return domain.ScheduleEntry{}, fmt.Errorf("schedule %s: %w", id, err)
	}
	return entry, nil
}

func (s *Session) handleCustomBroadcast(ctx context.Context, c protocol.CustomBroadcast) error {
	if c.AudioURL == "" {
		return fmt.Errorf("%w: empty audio url", errIgnored)
	}
	s.goBroadcast(ctx, protocol.TypeCustomBroadcast, func(ctx context.Context) error {
		return s.announcer.Broadcast(ctx, c.AudioURL, c.Volume)
	})
	return nil
}

func (s *Session) handlePlaylist(ctx context.Context, c protocol.Playlist) error {
	if len(c.Items) > 0 && playback.Equivalent(s.playback.Playlist(), c.Items) {
		return fmt.Errorf("%w: playlist unchanged", errIgnored)
	}
	s.logger.Info("Playlist received", zap.Int("items", len(c.Items)), zap.Int("startIndex", c.StartIndex))
	return s.playback.PlayPlaylist(ctx, c.Items, c.StartIndex)
}

func (s *Session) handlePlayMedia(ctx context.Context, c protocol.PlayMedia) error {
	if c.MediaID == "" || !s.playback.JumpTo(ctx, c.MediaID) {
		return fmt.Errorf("%w: media %q not in the active playlist", errIgnored, c.MediaID)
	}
	return nil
}

func (s *Session) handleRefreshSchedules(ctx context.Context) error {
	if !s.enabled {
		return fmt.Errorf("%w: device disabled", errIgnored)
	}
	return s.refreshSchedules(ctx)
}

// refreshSchedules fetches the schedule list, snapshots it and restarts the scheduler.
// On a fetch error the running scheduler is left alone.
func (s *Session) refreshSchedules(ctx context.Context) error {
	entries, err := s.schedules.ListSchedules(ctx)
	if err != nil {
		if s.playMode.SchedulerSuppressed() {
			s.stopScheduler()
		}
		return fmt.Errorf("fetch schedules: %w", err)
	}
	s.logger.Info("Schedules fetched", zap.Int("count", len(entries)))

	if err := s.store.SaveSchedules(entries, s.now()); err != nil {
		s.logger.Warn("Failed to save schedule snapshot", zap.Error(err))
	}

	s.stopScheduler()
	if s.playMode.SchedulerSuppressed() {
		s.logger.Info("Local scheduler suppressed by play mode", zap.Int("playMode", int(s.playMode)))
		return nil
	}
	s.sched = s.newScheduler(entries)
	s.sched.Start(ctx)
	return nil
}

// stopScheduler stops and joins the active scheduler, if any
func (s *Session) stopScheduler() {
	if s.sched == nil {
		return
	}
	s.sched.Stop()
	s.sched = nil
}

func (s *Session) goBroadcast(ctx context.Context, kind string, fn func(ctx context.Context) error) {
	s.broadcasts.Add(1)
	go func() {
		defer s.broadcasts.Done()
		if err := fn(ctx); err != nil {
			s.logger.Warn("Broadcast failed", zap.String("type", kind), zap.Error(err))
			return
		}
		s.logger.Info("Broadcast finished", zap.String("type", kind))
	}()
}

func truncate(raw []byte) []byte {
	if len(raw) <= maxLoggedPayload {
		return raw
	}
	return raw[:maxLoggedPayload]
}
