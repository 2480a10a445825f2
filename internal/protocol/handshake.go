package protocol

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Greeting is the first message sent after the control connection opens
func Greeting(mac string) []byte {
	data, _ := json.Marshal(struct {
		Hello string `json:"hello"`
		MAC   string `json:"mac"`
	}{Hello: "world", MAC: mac})
	return data
}

// ControlURL derives the websocket endpoint from the configured HTTP host
func ControlURL(host, apiKey, deviceID, mac string) (string, error) {
	host = strings.TrimSpace(host)
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}

	u, err := url.Parse(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", host, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid host %q: missing hostname", host)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported host scheme %q", u.Scheme)
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := url.Values{}
	q.Set("api_key", apiKey)
	q.Set("device_id", deviceID)
	q.Set("mac", mac)
	u.RawQuery = q.Encode()
	u.Fragment = ""

	return u.String(), nil
}
