package announce

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/genricoloni/signage/internal/domain"
	"github.com/genricoloni/signage/internal/metrics"
	"go.uber.org/zap"
)

// ErrEmptyText is returned when there is nothing to speak
var ErrEmptyText = errors.New("announcement text is empty")

// Announcer speaks TTS announcements and plays ad-hoc audio broadcasts.
// Both block until playback ends; cancelling ctx stops the audio.
type Announcer struct {
	logger   *zap.Logger
	synth    domain.Synthesizer
	audio    domain.AudioPlayer
	resolver domain.MediaResolver
	volume   domain.VolumeController
	tempDir  string
}

// New creates an announcer
func New(
	logger *zap.Logger,
	synth domain.Synthesizer,
	audio domain.AudioPlayer,
	resolver domain.MediaResolver,
	volume domain.VolumeController,
) *Announcer {
	return &Announcer{
		logger:   logger,
		synth:    synth,
		audio:    audio,
		resolver: resolver,
		volume:   volume,
	}
}

// Announce synthesizes text and plays it. The synthesized audio lives in a temp
// file that is removed once playback ends.
func (a *Announcer) Announce(ctx context.Context, text string, speed, pitch float64) error {
	if strings.TrimSpace(text) == "" {
		metrics.IncAnnouncement(metrics.ResultSkipped)
		return ErrEmptyText
	}

	start := time.Now()
	audio, err := a.synth.Synthesize(ctx, text, speed, pitch)
	if err != nil {
		metrics.IncAnnouncement(metrics.ResultError)
		return fmt.Errorf("failed to synthesize announcement: %w", err)
	}

	path, err := a.writeTemp(audio)
	if err != nil {
		metrics.IncAnnouncement(metrics.ResultError)
		return err
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.logger.Warn("Failed to remove announcement audio", zap.String("path", path), zap.Error(err))
		}
	}()

	if err := a.audio.PlayFile(ctx, path); err != nil {
		metrics.IncAnnouncement(metrics.ResultError)
		return fmt.Errorf("failed to play announcement: %w", err)
	}

	metrics.IncAnnouncement(metrics.ResultSuccess)
	a.logger.Info("Announcement played",
		zap.Int("chars", len([]rune(text))),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// Broadcast plays the audio at url once, setting the system volume first when volume is non-nil
func (a *Announcer) Broadcast(ctx context.Context, url string, volume *int) error {
	if url == "" {
		return fmt.Errorf("broadcast audio url is empty")
	}

	path, err := a.resolver.Resolve(ctx, url, func(p domain.DownloadProgress) {
		if p.Err == nil && p.Total > 0 && p.Done == p.Total {
			a.logger.Debug("Broadcast audio downloaded", zap.Int64("bytes", p.Done))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to fetch broadcast audio: %w", err)
	}

	if volume != nil {
		if err := a.volume.SetSystemVolume(ctx, *volume); err != nil {
			// Play anyway at the current level
			a.logger.Warn("Failed to set system volume", zap.Int("volume", *volume), zap.Error(err))
		}
	}

	if err := a.audio.PlayFile(ctx, path); err != nil {
		return fmt.Errorf("failed to play broadcast audio: %w", err)
	}

	a.logger.Info("Custom broadcast played", zap.String("url", url))
	return nil
}

func (a *Announcer) writeTemp(audio []byte) (string, error) {
	f, err := os.CreateTemp(a.tempDir, "signage-tts-*.mp3")
	if err != nil {
		return "", fmt.Errorf("failed to create temp audio file: %w", err)
	}
	if _, err := f.Write(audio); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write temp audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write temp audio file: %w", err)
	}
	return f.Name(), nil
}
