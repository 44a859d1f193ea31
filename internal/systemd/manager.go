package systemd

import (
	"context"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Manager queries unit state over D-Bus.
type Manager struct {
	conn *dbus.Conn
	unit string
}

// NewManager connects to the system bus, falling back to the user bus for
// relays started with systemd --user.
func NewManager(ctx context.Context, unit string) (*Manager, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		var userErr error
		conn, userErr = dbus.NewUserConnectionContext(ctx)
		if userErr != nil {
			return nil, err
		}
	}
	return &Manager{conn: conn, unit: unit}, nil
}

// Unit returns the managed unit name.
func (m *Manager) Unit() string {
	return m.unit
}

// ServiceStatus returns the ActiveState and SubState of the relay unit.
func (m *Manager) ServiceStatus(ctx context.Context) (active, sub string, err error) {
	props, err := m.conn.GetUnitPropertiesContext(ctx, m.unit)
	if err != nil {
		return "", "", err
	}
	active, _ = props["ActiveState"].(string)
	sub, _ = props["SubState"].(string)
	return active, sub, nil
}

// Close releases the D-Bus connection.
func (m *Manager) Close() {
	if m.conn != nil {
		m.conn.Close()
	}
}
