//go:build !linux

package player

import "fmt"

// MPRIS control needs a session bus, which only Linux desktops provide
func connectSessionBus() (DBusClient, error) {
	return nil, fmt.Errorf("MPRIS playback is only supported on Linux systems")
}
