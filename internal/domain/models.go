package domain

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"
)

// ConnectionState is the lifecycle phase of the control connection
type ConnectionState int

const (
	// StateDisconnected means no control connection is open
	StateDisconnected ConnectionState = iota
	// StateConnecting means a dial is in progress
	StateConnecting
	// StateConnected means the handshake succeeded and commands are being received
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// PlayMode is the server-assigned playback policy
type PlayMode int

const (
	// PlayModeOff keeps the screen idle
	PlayModeOff PlayMode = 0
	// PlayModeStream plays the configured stream alongside the announcement scheduler
	PlayModeStream PlayMode = 1
	// PlayModeStreamOnly plays the stream and suppresses the local scheduler
	PlayModeStreamOnly PlayMode = 2
)

// SchedulerSuppressed reports whether the local announcement scheduler must stay off
func (m PlayMode) SchedulerSuppressed() bool {
	return m == PlayModeStreamOnly
}

// Streams reports whether the mode keeps a single stream on screen
func (m PlayMode) Streams() bool {
	return m == PlayModeStream || m == PlayModeStreamOnly
}

// Geometry is the playback window placement. A zero Width or Height means full-screen.
type Geometry struct {
	X      int
	Y      int
	Width  int
	Height int
}

// FullScreen reports whether no explicit size was configured
func (g Geometry) FullScreen() bool {
	return g.Width <= 0 || g.Height <= 0
}

// ScreenResolution holds the display dimensions
type ScreenResolution struct {
	Width  int
	Height int
}

// TimeOfDay is a wall-clock time without a date, encoded as "HH:MM:SS"
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

var timeOfDayLayouts = []string{"15:04:05", "15:04:05.999999", "15:04"}

// ParseTimeOfDay parses "HH:MM[:SS[.ffffff]]"
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeOfDayLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
		}
	}
	return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// On combines the time of day with the calendar date of day in day's location
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, t.Second, 0, day.Location())
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("time of day: %w", err)
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Date is a calendar date, encoded as "YYYY-MM-DD"
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses "YYYY-MM-DD". A trailing time component is ignored.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if len(s) > 10 {
		s = s[:10]
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q", s)
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// At combines the date with a time of day in loc
func (d Date) At(t TimeOfDay, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, t.Hour, t.Minute, t.Second, 0, loc)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ScheduleEntry is one announcement as served by the control server.
// Exactly one of Date (one-shot) or DaysOfWeekMask (recurring) governs when it fires.
type ScheduleEntry struct {
	ID             FlexString `json:"ScheduleID"`
	Title          string     `json:"Title"`
	Time           TimeOfDay  `json:"ScheduledTime"`
	Date           *Date      `json:"ScheduledDate,omitempty"`
	DaysOfWeekMask int        `json:"DaysOfWeekMask"`
	TTSContent     string     `json:"TTSContent"`
	Speed          float64    `json:"Speed"`
	Pitch          float64    `json:"Pitch"`
}

// UnmarshalJSON tolerates an empty ScheduledDate and string-encoded numbers
func (e *ScheduleEntry) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID             FlexString `json:"ScheduleID"`
		Title          string     `json:"Title"`
		Time           TimeOfDay  `json:"ScheduledTime"`
		Date           *string    `json:"ScheduledDate"`
		DaysOfWeekMask FlexInt    `json:"DaysOfWeekMask"`
		TTSContent     string     `json:"TTSContent"`
		Speed          FlexFloat  `json:"Speed"`
		Pitch          FlexFloat  `json:"Pitch"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*e = ScheduleEntry{
		ID:             raw.ID,
		Title:          raw.Title,
		Time:           raw.Time,
		DaysOfWeekMask: raw.DaysOfWeekMask.Value,
		TTSContent:     raw.TTSContent,
		Speed:          raw.Speed.Or(1.0),
		Pitch:          raw.Pitch.Or(1.0),
	}
	if raw.Date != nil && strings.TrimSpace(*raw.Date) != "" {
		d, err := ParseDate(*raw.Date)
		if err != nil {
			return err
		}
		e.Date = &d
	}
	return nil
}

// OneShot reports whether the entry fires on a single calendar date
func (e ScheduleEntry) OneShot() bool {
	return e.Date != nil
}

// MediaKind classifies a playlist item
type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaImage MediaKind = "image"
	MediaAudio MediaKind = "audio"
)

// DefaultImageDuration is how long an image stays on screen when no duration is given
const DefaultImageDuration = 5 * time.Second

var (
	imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true}
	audioExtensions = map[string]bool{".mp3": true, ".wav": true, ".ogg": true, ".m4a": true, ".aac": true, ".flac": true}
)

// InferMediaKind derives the kind from a free-form kind string, falling back to the URL extension
func InferMediaKind(kind, mediaURL string) MediaKind {
	k := strings.ToLower(kind)
	switch {
	case strings.Contains(k, "image"):
		return MediaImage
	case strings.Contains(k, "audio"):
		return MediaAudio
	case strings.Contains(k, "video"):
		return MediaVideo
	}
	u := strings.ToLower(mediaURL)
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	ext := path.Ext(u)
	switch {
	case imageExtensions[ext]:
		return MediaImage
	case audioExtensions[ext]:
		return MediaAudio
	default:
		return MediaVideo
	}
}

// PlaylistItem is one entry of a server-pushed playlist
type PlaylistItem struct {
	ID       string
	MediaID  string
	URL      string
	Kind     MediaKind
	Duration time.Duration
	Volume   *int
}

// UnmarshalJSON accepts the several key spellings the server has used over time
func (p *PlaylistItem) UnmarshalJSON(b []byte) error {
	var raw struct {
		PlaylistItemID FlexString `json:"PlaylistItemID"`
		LowerID        FlexString `json:"id"`
		MediaID        FlexString `json:"MediaID"`
		LowerMediaID   FlexString `json:"media_id"`
		MediaURL       string     `json:"MediaUrl"`
		LowerURL       string     `json:"url"`
		MediaKind      string     `json:"MediaKind"`
		Duration       FlexFloat  `json:"DurationSeconds"`
		LowerDuration  FlexFloat  `json:"duration"`
		Volume         FlexInt    `json:"Volume"`
		LowerVolume    FlexInt    `json:"volume"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = PlaylistItem{
		ID:      firstNonEmpty(string(raw.PlaylistItemID), string(raw.LowerID)),
		MediaID: firstNonEmpty(string(raw.MediaID), string(raw.LowerMediaID)),
		URL:     firstNonEmpty(raw.MediaURL, raw.LowerURL),
	}
	p.Kind = InferMediaKind(raw.MediaKind, p.URL)
	if secs := raw.Duration.Or(raw.LowerDuration.Or(0)); secs > 0 {
		p.Duration = time.Duration(secs * float64(time.Second))
	}
	switch {
	case raw.Volume.Set:
		v := raw.Volume.Value
		p.Volume = &v
	case raw.LowerVolume.Set:
		v := raw.LowerVolume.Value
		p.Volume = &v
	}
	return nil
}

// Key is the identity used for playlist diffing: media id, then item id, then URL
func (p PlaylistItem) Key() string {
	return firstNonEmpty(p.MediaID, p.ID, p.URL)
}

// DisplayDuration is how long an image item stays on screen
func (p PlaylistItem) DisplayDuration() time.Duration {
	if p.Duration > 0 {
		return p.Duration
	}
	return DefaultImageDuration
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
