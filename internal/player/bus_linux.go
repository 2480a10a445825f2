//go:build linux

package player

func connectSessionBus() (DBusClient, error) {
	return NewStdDBusClient()
}
