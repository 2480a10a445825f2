package protocol

import "github.com/genricoloni/signage/internal/domain"

// Command type discriminators
const (
	TypeRename           = "rename"
	TypeConfig           = "config"
	TypeTestBroadcast    = "test-broadcast"
	TypeCustomBroadcast  = "custom-broadcast"
	TypePlaylist         = "playlist"
	TypePlayMedia        = "play-media"
	TypeRefreshSchedules = "refresh-schedules"
)

// Command is one decoded control message. The set of implementations is closed.
type Command interface {
	Type() string
	command()
}

// Rename changes the device identifier
type Rename struct {
	DeviceID string
}

// Config is the server's desired device state. Nil pointers mean the field was absent.
type Config struct {
	Enabled     *bool
	PlayMode    *domain.PlayMode
	DeviceID    string
	Resolution  string
	Orientation *int
	Geometry    *domain.Geometry
	StreamURL   string
}

// TestBroadcast plays a known schedule's announcement once
type TestBroadcast struct {
	ScheduleID string
}

// CustomBroadcast plays an ad-hoc audio file once
type CustomBroadcast struct {
	AudioURL string
	Volume   *int
}

// Playlist replaces the active playlist
type Playlist struct {
	Items      []domain.PlaylistItem
	StartIndex int
}

// PlayMedia jumps the active playlist to one item
type PlayMedia struct {
	MediaID string
}

// RefreshSchedules re-fetches the announcement schedule
type RefreshSchedules struct{}

// Unknown is a well-formed message with an unrecognized type
type Unknown struct {
	Kind string
}

func (Rename) Type() string           { return TypeRename }
func (Config) Type() string           { return TypeConfig }
func (TestBroadcast) Type() string    { return TypeTestBroadcast }
func (CustomBroadcast) Type() string  { return TypeCustomBroadcast }
func (Playlist) Type() string         { return TypePlaylist }
func (PlayMedia) Type() string        { return TypePlayMedia }
func (RefreshSchedules) Type() string { return TypeRefreshSchedules }
func (u Unknown) Type() string        { return u.Kind }

func (Rename) command()           {}
func (Config) command()           {}
func (TestBroadcast) command()    {}
func (CustomBroadcast) command()  {}
func (Playlist) command()         {}
func (PlayMedia) command()        {}
func (RefreshSchedules) command() {}
func (Unknown) command()          {}
