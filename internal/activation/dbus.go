package activation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/models"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/rs/zerolog"
)

const (
	applicationIface = "org.freedesktop.Application"
	statusIface      = AppID

	// ToggleAction is the application action a launcher or shortcut daemon
	// can invoke through ActivateAction
	ToggleAction = "Toggle"
)

// DBusTransport claims AppID on the session bus and serves
// org.freedesktop.Application, so desktop shortcuts can activate the daemon
// without the CLI
type DBusTransport struct {
	connect func() (*dbus.Conn, error)
	timeout time.Duration
	log     zerolog.Logger
}

// NewDBusTransport creates a transport on the session bus
func NewDBusTransport(log zerolog.Logger) *DBusTransport {
	return &DBusTransport{
		connect: func() (*dbus.Conn, error) { return dbus.ConnectSessionBus() },
		timeout: 5 * time.Second,
		log:     log,
	}
}

func (t *DBusTransport) Name() string { return "dbus" }

// Claim requests AppID without queueing. A name already owned maps to
// ErrAlreadyClaimed; the bus drops ownership when this process exits.
func (t *DBusTransport) Claim(ctx context.Context, h Handler) (Claim, error) {
	conn, err := t.connect()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}

	reply, err := conn.RequestName(AppID, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("request name %s: %w", AppID, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, ErrAlreadyClaimed
	}

	app := &dbusApp{handler: h, timeout: t.timeout, log: t.log}
	path := dbus.ObjectPath(ObjectPath)
	if err := app.export(conn, path); err != nil {
		conn.Close()
		return nil, err
	}

	t.log.Info().Str("name", AppID).Msg("claimed session bus name")
	return &dbusClaim{conn: conn}, nil
}

// Forward invokes the Toggle action on the daemon owning AppID
func (t *DBusTransport) Forward(ctx context.Context) error {
	conn, err := t.connect()
	if err != nil {
		return fmt.Errorf("connect session bus: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	obj := conn.Object(AppID, dbus.ObjectPath(ObjectPath))
	call := obj.CallWithContext(ctx, applicationIface+".ActivateAction", 0,
		ToggleAction, []dbus.Variant{}, map[string]dbus.Variant{})
	if call.Err != nil {
		return fmt.Errorf("activate action %s: %w", ToggleAction, call.Err)
	}
	return nil
}

// QueryStatus reads the daemon's status through the Status method
func (t *DBusTransport) QueryStatus(ctx context.Context) (*models.Status, error) {
	conn, err := t.connect()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var raw string
	obj := conn.Object(AppID, dbus.ObjectPath(ObjectPath))
	if err := obj.CallWithContext(ctx, statusIface+".Status", 0).Store(&raw); err != nil {
		return nil, fmt.Errorf("status call: %w", err)
	}

	var status models.Status
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &status, nil
}

type dbusClaim struct {
	conn *dbus.Conn
}

func (c *dbusClaim) Close() error {
	if _, err := c.conn.ReleaseName(AppID); err != nil {
		c.conn.Close()
		return fmt.Errorf("release name: %w", err)
	}
	return c.conn.Close()
}

// dbusApp is the exported object. godbus calls its methods from its own
// goroutine; Handler implementations must hand off to the event loop.
type dbusApp struct {
	handler Handler
	timeout time.Duration
	log     zerolog.Logger
}

// statusObject carries the Status method on its own interface
type statusObject struct {
	app *dbusApp
}

func (a *dbusApp) export(conn *dbus.Conn, path dbus.ObjectPath) error {
	if err := conn.Export(a, path, applicationIface); err != nil {
		return fmt.Errorf("export %s: %w", applicationIface, err)
	}
	status := &statusObject{app: a}
	if err := conn.Export(status, path, statusIface); err != nil {
		return fmt.Errorf("export %s: %w", statusIface, err)
	}

	node := &introspect.Node{
		Name: string(path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{Name: applicationIface, Methods: introspect.Methods(a)},
			{Name: statusIface, Methods: introspect.Methods(status)},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), path, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export introspection: %w", err)
	}
	return nil
}

// Activate is org.freedesktop.Application.Activate; it toggles
func (a *dbusApp) Activate(platformData map[string]dbus.Variant) *dbus.Error {
	a.log.Debug().Msg("dbus activate")
	a.handler.Toggle()
	return nil
}

// Open is part of org.freedesktop.Application; files are not supported
func (a *dbusApp) Open(uris []string, platformData map[string]dbus.Variant) *dbus.Error {
	return dbus.MakeFailedError(fmt.Errorf("opening files is not supported"))
}

// ActivateAction dispatches named actions. Only Toggle exists.
func (a *dbusApp) ActivateAction(action string, params []dbus.Variant, platformData map[string]dbus.Variant) *dbus.Error {
	a.log.Debug().Str("action", action).Msg("dbus activate action")
	if action != ToggleAction {
		return dbus.MakeFailedError(fmt.Errorf("unknown action %q", action))
	}
	a.handler.Toggle()
	return nil
}

// Status returns the daemon status as JSON
func (s *statusObject) Status() (string, *dbus.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.app.timeout)
	defer cancel()

	status, err := s.app.handler.Status(ctx)
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}
	data, err := json.Marshal(status)
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}
	return string(data), nil
}
