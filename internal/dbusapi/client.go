package dbusapi

import (
	"context"
	"errors"

	"github.com/godbus/dbus/v5"
)

// ProfileResult is the answer to SetProfile.
type ProfileResult struct {
	Applied []string
	Skipped []string
	Failed  []string
}

// Client talks to a running daemon.
type Client struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

// Dial connects to the daemon on the named bus.
func Dial(bus string) (*Client, error) {
	conn, err := Connect(bus)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// NewClient wraps an existing connection.
func NewClient(conn *dbus.Conn) *Client {
	return &Client{conn: conn, obj: conn.Object(BusName, ObjectPath)}
}

// Close closes the connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	if errors.Is(err, dbus.ErrClosed) {
		return nil
	}
	return err
}

func (c *Client) call(ctx context.Context, method string, out []interface{}, args ...interface{}) error {
	call := c.obj.CallWithContext(ctx, Interface+"."+method, 0, args...)
	if call.Err != nil {
		return fromDBusError(call.Err)
	}
	if len(out) == 0 {
		return nil
	}
	return call.Store(out...)
}

func (c *Client) Profile(ctx context.Context) (string, error) {
	var name string
	err := c.call(ctx, "GetProfile", []interface{}{&name})
	return name, err
}

func (c *Client) SetProfile(ctx context.Context, name string) (ProfileResult, error) {
	var res ProfileResult
	err := c.call(ctx, "SetProfile", []interface{}{&res.Applied, &res.Skipped, &res.Failed}, name)
	return res, err
}

func (c *Client) Graphics(ctx context.Context) (string, error) {
	var mode string
	err := c.call(ctx, "GetGraphics", []interface{}{&mode})
	return mode, err
}

// SetGraphics returns the outcome string ("reboot-required" or "no-op").
func (c *Client) SetGraphics(ctx context.Context, mode string) (string, error) {
	var outcome string
	err := c.call(ctx, "SetGraphics", []interface{}{&outcome}, mode)
	return outcome, err
}

func (c *Client) Switchable(ctx context.Context) (bool, error) {
	var switchable bool
	err := c.call(ctx, "GetSwitchable", []interface{}{&switchable})
	return switchable, err
}

func (c *Client) GraphicsPower(ctx context.Context) (string, error) {
	var power string
	err := c.call(ctx, "GetGraphicsPower", []interface{}{&power})
	return power, err
}

func (c *Client) SetGraphicsPower(ctx context.Context, power string) error {
	return c.call(ctx, "SetGraphicsPower", nil, power)
}

// PendingGraphics returns "" when no switch is pending.
func (c *Client) PendingGraphics(ctx context.Context) (string, error) {
	var mode string
	err := c.call(ctx, "GetPendingGraphics", []interface{}{&mode})
	return mode, err
}
