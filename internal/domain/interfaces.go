package domain

import (
	"context"
	"time"
)

// MediaPlayer is the embedded video player capability.
// Implementations own the on-screen window; the playback controller owns what plays in it.
type MediaPlayer interface {
	// Open shows the player window at the given geometry (full-screen when unsized)
	Open(ctx context.Context, g Geometry) error

	// Play starts rendering the local file or URL at path, replacing whatever was playing
	Play(ctx context.Context, path string) error

	// Stop halts the current media without closing the window
	Stop(ctx context.Context) error

	// SetVolume sets the player's own output volume (0-100)
	SetVolume(ctx context.Context, level int) error

	// Close stops playback and tears the window down
	Close(ctx context.Context) error

	// EndOfMedia emits once each time the current media plays to its end
	EndOfMedia() <-chan struct{}
}

// DisplayApplier changes the physical display mode
type DisplayApplier interface {
	// ApplyDisplaySettings sets resolution ("WxH", empty to keep) and orientation
	// (raw server value, nil to keep)
	ApplyDisplaySettings(ctx context.Context, resolution string, orientation *int) error
}

// VolumeController sets the operating system output volume
type VolumeController interface {
	SetSystemVolume(ctx context.Context, level int) error
}

// AudioPlayer plays a local audio file and blocks until playback finishes
type AudioPlayer interface {
	PlayFile(ctx context.Context, path string) error
}

// Synthesizer turns text into MP3 audio
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, speed, pitch float64) ([]byte, error)
}

// ScheduleSource provides the broadcast schedule from the control server
type ScheduleSource interface {
	ListSchedules(ctx context.Context) ([]ScheduleEntry, error)
	GetSchedule(ctx context.Context, id string) (ScheduleEntry, error)
}

// DownloadProgress is reported while a remote media file is being cached
type DownloadProgress struct {
	Done    int64
	Total   int64   // 0 when the server sent no Content-Length
	Rate    float64 // bytes per second
	Elapsed time.Duration
	Err     error // set on the final report of a failed download
}

// ProgressFunc receives download progress reports
type ProgressFunc func(DownloadProgress)

// MediaResolver maps a media URL to a fully-written local path
type MediaResolver interface {
	Resolve(ctx context.Context, url string, progress ProgressFunc) (string, error)
}

// ImagePreparer letterboxes an image file to exact pixel dimensions
type ImagePreparer interface {
	Fit(ctx context.Context, path string, width, height int) (string, error)
}

// Announcer speaks a text announcement
type Announcer interface {
	Announce(ctx context.Context, text string, speed, pitch float64) error
}

// Config defines the interface for application configuration
type Config interface {
	// GetDeviceConfigPath returns the path of the device identity file
	GetDeviceConfigPath() string

	// GetCacheDir returns the media cache directory
	GetCacheDir() string

	// GetStorePath returns the path of the local schedule snapshot database
	GetStorePath() string

	// GetTTSURL returns the text-to-speech endpoint
	GetTTSURL() string

	// GetTTSLanguage returns the language code sent with TTS requests
	GetTTSLanguage() string

	// GetMetricsAddr returns the listen address for /metrics, empty when disabled
	GetMetricsAddr() string

	// GetPlayerBinary returns the media player executable
	GetPlayerBinary() string
}
