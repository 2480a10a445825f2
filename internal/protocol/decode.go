package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/genricoloni/signage/internal/domain"
	"gopkg.in/yaml.v3"
)

// ErrUnparseable is returned for payloads that are neither JSON nor a literal mapping
var ErrUnparseable = errors.New("unparseable control message")

type envelope struct {
	Type string `json:"type"`
}

type renamePayload struct {
	DeviceID domain.FlexString `json:"device_id"`
}

type configPayload struct {
	IsEnabled        domain.FlexBool   `json:"IsEnabled"`
	Playmode         domain.FlexInt    `json:"Playmode"`
	DeviceIdentifier domain.FlexString `json:"DeviceIdentifier"`
	Resolution       domain.FlexString `json:"Resolution"`
	Orientation      domain.FlexInt    `json:"Orientation"`
	VlcX             domain.FlexInt    `json:"VlcX"`
	VlcY             domain.FlexInt    `json:"VlcY"`
	VlcWidth         domain.FlexInt    `json:"VlcWidth"`
	VlcHeight        domain.FlexInt    `json:"VlcHeight"`
	StreamURL        domain.FlexString `json:"StreamURL"`
}

type testBroadcastPayload struct {
	ScheduleID domain.FlexString `json:"schedule_id"`
}

type customBroadcastPayload struct {
	AudioURL domain.FlexString `json:"audio_url"`
	Volume   domain.FlexInt    `json:"volume"`
}

type playlistPayload struct {
	Items      []domain.PlaylistItem `json:"items"`
	StartIndex domain.FlexInt        `json:"start_index"`
}

type playMediaPayload struct {
	MediaID domain.FlexString `json:"media_id"`
}

// Decode parses one inbound message. Strict JSON is tried first, then a permissive
// literal mapping ({'type': 'config', 'IsEnabled': True, 'StreamURL': None}).
// A well-formed message of unknown type decodes to Unknown.
func Decode(raw []byte) (Command, error) {
	data, err := normalize(raw)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnparseable, err)
	}

	switch env.Type {
	case TypeRename:
		var p renamePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, payloadError(env.Type, err)
		}
		return Rename{DeviceID: strings.TrimSpace(string(p.DeviceID))}, nil

	case TypeConfig:
		var p configPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, payloadError(env.Type, err)
		}
		return p.command(), nil

	case TypeTestBroadcast:
		var p testBroadcastPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, payloadError(env.Type, err)
		}
		return TestBroadcast{ScheduleID: string(p.ScheduleID)}, nil

	case TypeCustomBroadcast:
		var p customBroadcastPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, payloadError(env.Type, err)
		}
		return CustomBroadcast{AudioURL: string(p.AudioURL), Volume: p.Volume.Ptr()}, nil

	case TypePlaylist:
		var p playlistPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, payloadError(env.Type, err)
		}
		return Playlist{Items: p.Items, StartIndex: p.StartIndex.Value}, nil

	case TypePlayMedia:
		var p playMediaPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, payloadError(env.Type, err)
		}
		return PlayMedia{MediaID: string(p.MediaID)}, nil

	case TypeRefreshSchedules:
		return RefreshSchedules{}, nil

	default:
		return Unknown{Kind: env.Type}, nil
	}
}

func (p configPayload) command() Config {
	cfg := Config{
		DeviceID:    strings.TrimSpace(string(p.DeviceIdentifier)),
		Resolution:  strings.TrimSpace(string(p.Resolution)),
		Orientation: p.Orientation.Ptr(),
		StreamURL:   strings.TrimSpace(string(p.StreamURL)),
	}
	if p.IsEnabled.Set {
		v := p.IsEnabled.Value
		cfg.Enabled = &v
	}
	if p.Playmode.Set {
		m := domain.PlayMode(p.Playmode.Value)
		cfg.PlayMode = &m
	}
	if p.VlcX.Set || p.VlcY.Set || p.VlcWidth.Set || p.VlcHeight.Set {
		cfg.Geometry = &domain.Geometry{
			X:      p.VlcX.Value,
			Y:      p.VlcY.Value,
			Width:  p.VlcWidth.Value,
			Height: p.VlcHeight.Value,
		}
	}
	return cfg
}

func payloadError(kind string, err error) error {
	return fmt.Errorf("%w: invalid %s payload: %w", ErrUnparseable, kind, err)
}

// normalize returns a JSON object for raw, converting a literal mapping when needed
func normalize(raw []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrUnparseable)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err == nil {
		return trimmed, nil
	}

	var literal any
	if err := yaml.Unmarshal(trimmed, &literal); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnparseable, err)
	}
	literal = dropNone(literal)
	if _, ok := literal.(map[string]any); !ok {
		return nil, fmt.Errorf("%w: not a mapping", ErrUnparseable)
	}

	data, err := json.Marshal(literal)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnparseable, err)
	}
	return data, nil
}

// dropNone turns literal None values into nulls and stringifies non-string keys
func dropNone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = dropNone(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = dropNone(val)
		}
		return out
	case []any:
		for i := range t {
			t[i] = dropNone(t[i])
		}
		return t
	case string:
		if t == "None" {
			return nil
		}
		return t
	default:
		return t
	}
}
