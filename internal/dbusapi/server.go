// Package dbusapi exposes the dispatcher on the D-Bus system bus and provides
// the matching client.
package dbusapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/skobkin/gfxpower/internal/auth"
	"github.com/skobkin/gfxpower/internal/events"
	"github.com/skobkin/gfxpower/internal/graphics"
	"github.com/skobkin/gfxpower/internal/hotplug"
	"github.com/skobkin/gfxpower/internal/profile"
)

// Bus coordinates.
const (
	BusName    = "org.skobkin.GfxPower"
	ObjectPath = dbus.ObjectPath("/org/skobkin/GfxPower")
	Interface  = "org.skobkin.GfxPower"
)

const (
	signalHotPlugDetect      = Interface + ".HotPlugDetect"
	signalPowerProfileSwitch = Interface + ".PowerProfileSwitch"
)

// Backend is the request handler behind the bus object.
type Backend interface {
	Profile() profile.Profile
	SetProfile(ctx context.Context, caller auth.Caller, name string) (profile.Report, error)
	Graphics() graphics.Mode
	SetGraphics(ctx context.Context, caller auth.Caller, name string) (graphics.Result, error)
	Switchable() bool
	GraphicsPower() (graphics.Power, error)
	SetGraphicsPower(ctx context.Context, caller auth.Caller, name string) error
	PendingGraphics() string
}

// Subscriber provides the events turned into bus signals.
type Subscriber interface {
	Subscribe() (<-chan events.Event, func())
}

type emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

type resolver func(ctx context.Context, sender string) (auth.Caller, error)

// Options configures a Server.
type Options struct {
	// RequestTimeout bounds how long a mutating call waits for its answer.
	RequestTimeout time.Duration
}

// Server owns the bus name and the exported object.
type Server struct {
	conn    *dbus.Conn
	obj     *object
	emitter emitter
	events  Subscriber
	logger  *slog.Logger
}

// Connect opens the named bus ("system" or "session").
func Connect(bus string) (*dbus.Conn, error) {
	switch bus {
	case "", "system":
		return dbus.ConnectSystemBus()
	case "session":
		return dbus.ConnectSessionBus()
	default:
		return nil, fmt.Errorf("unknown bus %q", bus)
	}
}

// NewServer exports backend on conn and claims BusName.
func NewServer(conn *dbus.Conn, backend Backend, subscriber Subscriber, opts Options, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		conn:    conn,
		emitter: conn,
		events:  subscriber,
		logger:  logger,
	}
	s.obj = newObject(backend, s.resolveCaller, opts.RequestTimeout, logger)

	if err := conn.Export(s.obj, ObjectPath, Interface); err != nil {
		return nil, fmt.Errorf("export object: %w", err)
	}
	if err := conn.Export(introspect.Introspectable(introspectXML), ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, fmt.Errorf("export introspection: %w", err)
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, fmt.Errorf("request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return nil, fmt.Errorf("bus name %s already taken", BusName)
	}
	logger.Info("bus name acquired", "name", BusName, "path", ObjectPath)
	return s, nil
}

// resolveCaller asks the bus daemon for the sender's credentials.
func (s *Server) resolveCaller(ctx context.Context, sender string) (auth.Caller, error) {
	caller := auth.Caller{BusName: sender}
	bus := s.conn.BusObject()

	if err := bus.CallWithContext(ctx, "org.freedesktop.DBus.GetConnectionUnixUser", 0, sender).Store(&caller.UID); err != nil {
		return caller, fmt.Errorf("resolve uid of %s: %w", sender, err)
	}
	if err := bus.CallWithContext(ctx, "org.freedesktop.DBus.GetConnectionUnixProcessID", 0, sender).Store(&caller.PID); err != nil {
		s.logger.Debug("caller pid unavailable", "sender", sender, "err", err)
	}
	return caller, nil
}

// Run turns daemon events into bus signals until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if s.events == nil {
		<-ctx.Done()
		return nil
	}
	ch, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			s.emit(ev)
		}
	}
}

func (s *Server) emit(ev events.Event) {
	var err error
	switch ev.Kind {
	case events.KindHotplug:
		hp, ok := ev.Data.(hotplug.Event)
		if !ok {
			return
		}
		err = s.emitter.Emit(ObjectPath, signalHotPlugDetect, hp.Port)
	case events.KindProfileSwitch:
		name, ok := ev.Data.(string)
		if !ok {
			return
		}
		err = s.emitter.Emit(ObjectPath, signalPowerProfileSwitch, name)
	default:
		return
	}
	if err != nil {
		s.logger.Warn("failed to emit signal", "kind", ev.Kind, "err", err)
	}
}

// Close releases the bus name.
func (s *Server) Close() error {
	if s.conn == nil {
		return nil
	}
	_, err := s.conn.ReleaseName(BusName)
	if err != nil && !errors.Is(err, dbus.ErrClosed) {
		return err
	}
	return nil
}
