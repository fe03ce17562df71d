// Package wlr tracks toplevels through the zwlr_foreign_toplevel_manager_v1
// Wayland protocol, spoken directly on the compositor socket.
package wlr

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/toplevel"
	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/toplevel/wayland"
	"github.com/rs/zerolog"
)

const (
	ManagerInterface = "zwlr_foreign_toplevel_manager_v1"
	managerVersion   = 3
	seatVersion      = 1
)

// Opcodes
const (
	managerToplevel = 0
	managerFinished = 1

	handleTitle          = 0
	handleAppID          = 1
	handleOutputEnter    = 2
	handleOutputLeave    = 3
	handleStateEvent     = 4
	handleDone           = 5
	handleClosed         = 6
	handleParent         = 7
	handleSetMinimized   = 2
	handleUnsetMinimized = 3
	handleActivate       = 4
	handleDestroy        = 7

	stateMaximized  = 0
	stateMinimized  = 1
	stateActivated  = 2
	stateFullscreen = 3
)

// ErrUnsupported means the compositor does not advertise the manager global
var ErrUnsupported = errors.New("compositor does not support " + ManagerInterface)

// Backend is a foreign-toplevel-management client
type Backend struct {
	socketPath string
	log        zerolog.Logger

	mu      sync.Mutex
	conn    *wayland.Conn
	seat    uint32
	objects map[toplevel.Handle]uint32
	gen     int
}

// New creates a backend. An empty socketPath resolves WAYLAND_DISPLAY on
// each connect.
func New(socketPath string, log zerolog.Logger) *Backend {
	return &Backend{socketPath: socketPath, log: log}
}

func (b *Backend) Name() string { return "wlr" }

// Run connects and streams events until ctx is done or the connection fails
func (b *Backend) Run(ctx context.Context, sink toplevel.Sink) error {
	conn, err := wayland.Dial(ctx, b.socketPath)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	b.mu.Lock()
	b.gen++
	s := &session{
		b:       b,
		conn:    conn,
		sink:    sink,
		gen:     b.gen,
		handles: make(map[uint32]*handleState),
	}
	b.mu.Unlock()

	err = s.run()

	b.mu.Lock()
	b.conn = nil
	b.seat = 0
	b.objects = nil
	b.mu.Unlock()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Activate unminimizes the toplevel and asks for keyboard focus on the seat
func (b *Backend) Activate(h toplevel.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, err := b.objectLocked(h)
	if err != nil {
		return err
	}
	if b.seat == 0 {
		return fmt.Errorf("no wl_seat to activate %s with", h)
	}
	return b.conn.Write(
		wayland.NewMessage(id, handleUnsetMinimized).Bytes(),
		wayland.NewMessage(id, handleActivate).Uint(b.seat).Bytes(),
	)
}

// Minimize asks the compositor to minimize the toplevel
func (b *Backend) Minimize(h toplevel.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, err := b.objectLocked(h)
	if err != nil {
		return err
	}
	return b.conn.Write(wayland.NewMessage(id, handleSetMinimized).Bytes())
}

func (b *Backend) objectLocked(h toplevel.Handle) (uint32, error) {
	if b.conn == nil {
		return 0, toplevel.ErrNotConnected
	}
	id, ok := b.objects[h]
	if !ok {
		return 0, fmt.Errorf("%w: %s", toplevel.ErrStaleHandle, h)
	}
	return id, nil
}

type handleState struct {
	handle    toplevel.Handle
	appID     string
	title     string
	minimized bool
	activated bool
	announced bool
}

func (h *handleState) record() toplevel.Record {
	return toplevel.Record{
		Handle:    h.handle,
		AppID:     h.appID,
		Title:     h.title,
		Minimized: h.minimized,
		Activated: h.activated,
	}
}

// session is one connection. Only the Run goroutine touches it.
type session struct {
	b    *Backend
	conn *wayland.Conn
	sink toplevel.Sink
	gen  int

	manager uint32
	seat    uint32

	handles  map[uint32]*handleState
	order    []uint32
	synced   bool
	finished bool
	failErr  error
}

func (s *session) run() error {
	// First roundtrip collects globals, the second collects the toplevels
	// announced on bind
	if err := s.conn.Write(s.conn.GetRegistry(), s.conn.Sync(s.bindGlobals)); err != nil {
		return err
	}

	for !s.finished {
		m, ok, err := s.conn.Next()
		if err != nil {
			return err
		}
		if ok {
			s.dispatch(m)
		}
	}
	if s.failErr != nil {
		return s.failErr
	}
	return errors.New(ManagerInterface + " finished")
}

func (s *session) bindGlobals() {
	mgr, ok := s.conn.Global(ManagerInterface)
	if !ok {
		s.fail(ErrUnsupported)
		return
	}

	manager, version, bind := s.conn.Bind(mgr, managerVersion)
	s.manager = manager
	msgs := [][]byte{bind}
	if seat, ok := s.conn.Global(wayland.SeatInterface); ok {
		var seatBind []byte
		s.seat, _, seatBind = s.conn.Bind(seat, seatVersion)
		msgs = append(msgs, seatBind)
	} else {
		s.b.log.Warn().Msg("compositor has no wl_seat; activation will fail")
	}
	msgs = append(msgs, s.conn.Sync(s.initialSync))

	if err := s.conn.Write(msgs...); err != nil {
		s.fail(err)
		return
	}

	s.b.mu.Lock()
	s.b.conn = s.conn
	s.b.seat = s.seat
	s.b.objects = make(map[toplevel.Handle]uint32)
	s.b.mu.Unlock()

	s.b.log.Debug().Uint32("version", version).Msg("bound toplevel manager")
}

// initialSync emits the snapshot of everything announced on bind
func (s *session) initialSync() {
	var records []toplevel.Record
	for _, id := range s.order {
		if h, ok := s.handles[id]; ok && h.announced {
			records = append(records, h.record())
		}
	}
	s.order = nil
	s.synced = true
	s.b.log.Debug().Int("toplevels", len(records)).Msg("initial toplevel sync")
	s.sink(toplevel.SyncedEvent(records))
}

// fail ends the session with err
func (s *session) fail(err error) {
	s.failErr = err
	s.finished = true
}

func (s *session) dispatch(m wayland.Message) {
	d := wayland.NewDecoder(m)

	switch {
	case m.Sender == s.manager && s.manager != 0:
		switch m.Opcode {
		case managerToplevel:
			id := d.Uint()
			if d.Err() != nil {
				s.fail(fmt.Errorf("manager toplevel: %w", d.Err()))
				return
			}
			s.addHandle(id)
		case managerFinished:
			s.finished = true
		}

	case m.Sender == s.seat && s.seat != 0:
		// capabilities and name are not needed

	default:
		if h, ok := s.handles[m.Sender]; ok {
			s.handleEvent(m.Sender, h, m.Opcode, d)
			return
		}
		s.b.log.Debug().Uint32("object", m.Sender).Uint16("opcode", m.Opcode).Msg("event for unknown object")
	}
}

func (s *session) addHandle(id uint32) {
	h := &handleState{handle: toplevel.Handle(fmt.Sprintf("wlr-%d-%d", s.gen, id))}
	s.handles[id] = h
	if !s.synced {
		s.order = append(s.order, id)
	}

	s.b.mu.Lock()
	if s.b.objects != nil {
		s.b.objects[h.handle] = id
	}
	s.b.mu.Unlock()
}

func (s *session) handleEvent(id uint32, h *handleState, opcode uint16, d *wayland.Decoder) {
	switch opcode {
	case handleTitle:
		h.title = d.String()
	case handleAppID:
		h.appID = d.String()
	case handleStateEvent:
		h.minimized, h.activated = false, false
		for _, st := range wayland.Uints(d.Array()) {
			switch st {
			case stateMinimized:
				h.minimized = true
			case stateActivated:
				h.activated = true
			}
		}
	case handleDone:
		s.done(h)
	case handleClosed:
		s.closed(id, h)
	case handleOutputEnter, handleOutputLeave, handleParent:
	}

	if d.Err() != nil {
		// drop the malformed event and keep the connection
		s.b.log.Warn().Err(d.Err()).Str("handle", string(h.handle)).Uint16("opcode", opcode).Msg("malformed toplevel event")
	}
}

// done applies the double-buffered state
func (s *session) done(h *handleState) {
	if !h.announced {
		h.announced = true
		if s.synced {
			s.sink(toplevel.DiscoveredEvent(h.record()))
		}
		return
	}
	if s.synced {
		s.sink(toplevel.RefreshedEvent(h.record()))
	}
}

func (s *session) closed(id uint32, h *handleState) {
	delete(s.handles, id)

	s.b.mu.Lock()
	delete(s.b.objects, h.handle)
	s.b.mu.Unlock()

	if h.announced && s.synced {
		s.sink(toplevel.Event{Kind: toplevel.Closed, Handle: h.handle})
	}
	if err := s.conn.Write(wayland.NewMessage(id, handleDestroy).Bytes()); err != nil {
		s.b.log.Debug().Err(err).Msg("failed to destroy toplevel handle")
	}
}
