package player

import (
	"context"

	"github.com/godbus/dbus/v5"
)

// DBusClient defines the subset of D-Bus operations the player needs.
//
//go:generate mockgen -destination=mocks/dbus_client_mock.go -package=mocks github.com/genricoloni/signage/internal/player DBusClient
type DBusClient interface {
	// Close closes the D-Bus connection
	Close() error

	// AddMatchSignal adds a signal match rule
	AddMatchSignal(options ...dbus.MatchOption) error

	// Signal registers a channel to receive D-Bus signals
	Signal(ch chan<- *dbus.Signal)

	// ListNames returns all names on the bus
	ListNames() ([]string, error)

	// GetNameOwner returns the unique name that owns the given well-known name
	GetNameOwner(name string) (string, error)

	// SetProperty writes a property on a D-Bus object
	SetProperty(dest, path, prop string, value dbus.Variant) error

	// Call invokes method on the object at path owned by dest
	Call(ctx context.Context, dest, path, method string, args ...any) error
}

// StdDBusClient is the real implementation using godbus
type StdDBusClient struct {
	conn *dbus.Conn
}

// NewStdDBusClient connects to the session bus on a private connection,
// so closing it never affects other users of the shared bus
func NewStdDBusClient() (*StdDBusClient, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, err
	}
	return &StdDBusClient{conn: conn}, nil
}

// Close closes the private D-Bus connection
func (c *StdDBusClient) Close() error {
	return c.conn.Close()
}

// AddMatchSignal adds a signal match rule
func (c *StdDBusClient) AddMatchSignal(options ...dbus.MatchOption) error {
	return c.conn.AddMatchSignal(options...)
}

// Signal registers a channel to receive D-Bus signals
func (c *StdDBusClient) Signal(ch chan<- *dbus.Signal) {
	c.conn.Signal(ch)
}

// ListNames returns all names on the bus
func (c *StdDBusClient) ListNames() ([]string, error) {
	var names []string
	err := c.conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names)
	return names, err
}

// GetNameOwner returns the unique name that owns the given well-known name
func (c *StdDBusClient) GetNameOwner(name string) (string, error) {
	var owner string
	err := c.conn.BusObject().Call("org.freedesktop.DBus.GetNameOwner", 0, name).Store(&owner)
	return owner, err
}

// SetProperty writes a property on the object at path owned by dest
func (c *StdDBusClient) SetProperty(dest, path, prop string, value dbus.Variant) error {
	return c.conn.Object(dest, dbus.ObjectPath(path)).SetProperty(prop, value)
}

// Call invokes method on the object at path owned by dest and waits for the reply
func (c *StdDBusClient) Call(ctx context.Context, dest, path, method string, args ...any) error {
	return c.conn.Object(dest, dbus.ObjectPath(path)).CallWithContext(ctx, method, 0, args...).Err
}
