// Package cosmic tracks toplevels on cosmic-comp. Windows are listed through
// ext_foreign_toplevel_list_v1, their state comes from zcosmic_toplevel_info_v1
// and zcosmic_toplevel_manager_v1 focuses or minimizes them.
package cosmic

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
	ListInterface    = "ext_foreign_toplevel_list_v1"
	InfoInterface    = "zcosmic_toplevel_info_v1"
	ManagerInterface = "zcosmic_toplevel_manager_v1"

	listVersion    = 1
	infoVersion    = 2
	managerVersion = 1
	seatVersion    = 1

	// get_cosmic_toplevel appeared in version 2
	minInfoVersion = 2
)

// Opcodes
const (
	listToplevel = 0
	listFinished = 1

	extClosed     = 0
	extDone       = 1
	extTitle      = 2
	extAppID      = 3
	extIdentifier = 4
	extDestroy    = 0

	infoFinished          = 1
	infoDone              = 2
	infoGetCosmicToplevel = 1

	cosmicDone    = 1
	cosmicState   = 8
	cosmicDestroy = 0

	managerCapabilities  = 0
	managerActivate      = 2
	managerSetMinimized  = 5
	managerUnsetMinimize = 6

	stateMinimized = 1
	stateActivated = 2

	capabilityActivate = 2
	capabilityMinimize = 4
)

// ErrUnsupported means a required COSMIC global is missing
var ErrUnsupported = errors.New("compositor does not support the cosmic toplevel protocols")

// Supported reports whether globals carry everything the backend binds
func Supported(globals []wayland.Global) bool {
	var list, info, manager bool
	for _, g := range globals {
		switch g.Interface {
		case ListInterface:
			list = true
		case InfoInterface:
			info = g.Version >= minInfoVersion
		case ManagerInterface:
			manager = true
		}
	}
	return list && info && manager
}

// Backend is a cosmic-comp toplevel client
type Backend struct {
	socketPath string
	log        zerolog.Logger

	mu      sync.Mutex
	conn    *wayland.Conn
	manager uint32
	seat    uint32
	objects map[toplevel.Handle]uint32
	gen     int
}

// New creates a backend. An empty socketPath resolves WAYLAND_DISPLAY on
// each connect.
func New(socketPath string, log zerolog.Logger) *Backend {
	return &Backend{socketPath: socketPath, log: log}
}

func (b *Backend) Name() string { return "cosmic" }

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
		windows: make(map[uint32]*window),
		cosmic:  make(map[uint32]*window),
	}
	b.mu.Unlock()

	err = s.run()

	b.mu.Lock()
	b.conn = nil
	b.manager = 0
	b.seat = 0
	b.objects = nil
	b.mu.Unlock()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Activate unminimizes the toplevel and focuses it on the seat
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
		wayland.NewMessage(b.manager, managerUnsetMinimize).Uint(id).Bytes(),
		wayland.NewMessage(b.manager, managerActivate).Uint(id).Uint(b.seat).Bytes(),
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
	return b.conn.Write(wayland.NewMessage(b.manager, managerSetMinimized).Uint(id).Bytes())
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

// window pairs an ext handle with its cosmic extension object
type window struct {
	handle    toplevel.Handle
	ext       uint32
	cosmic    uint32
	appID     string
	title     string
	minimized bool
	activated bool
	announced bool
	// dirty marks cosmic state not yet reported
	dirty bool
}

func (w *window) record() toplevel.Record {
	return toplevel.Record{
		Handle:    w.handle,
		AppID:     w.appID,
		Title:     w.title,
		Minimized: w.minimized,
		Activated: w.activated,
	}
}

// session is one connection. Only the Run goroutine touches it.
type session struct {
	b    *Backend
	conn *wayland.Conn
	sink toplevel.Sink
	gen  int

	list    uint32
	info    uint32
	manager uint32
	seat    uint32

	windows  map[uint32]*window // by ext id
	cosmic   map[uint32]*window // by cosmic id
	order    []uint32
	synced   bool
	finished bool
	failErr  error
}

func (s *session) run() error {
	// Roundtrips: globals, then the toplevels listed on bind, then the
	// cosmic state of each
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
	return errors.New(ListInterface + " finished")
}

func (s *session) bindGlobals() {
	if !Supported(s.conn.Globals()) {
		s.fail(ErrUnsupported)
		return
	}
	list, _ := s.conn.Global(ListInterface)
	info, _ := s.conn.Global(InfoInterface)
	mgr, _ := s.conn.Global(ManagerInterface)

	var msgs [][]byte
	bind := func(g wayland.Global, version uint32) uint32 {
		id, _, msg := s.conn.Bind(g, version)
		msgs = append(msgs, msg)
		return id
	}
	s.info = bind(info, infoVersion)
	s.manager = bind(mgr, managerVersion)
	if seat, ok := s.conn.Global(wayland.SeatInterface); ok {
		s.seat = bind(seat, seatVersion)
	} else {
		s.b.log.Warn().Msg("compositor has no wl_seat; activation will fail")
	}
	// the list goes last so info exists before any toplevel is announced
	s.list = bind(list, listVersion)
	msgs = append(msgs, s.conn.Sync(s.listed))

	if err := s.conn.Write(msgs...); err != nil {
		s.fail(err)
		return
	}

	s.b.mu.Lock()
	s.b.conn = s.conn
	s.b.manager = s.manager
	s.b.seat = s.seat
	s.b.objects = make(map[toplevel.Handle]uint32)
	s.b.mu.Unlock()

	s.b.log.Debug().Uint32("info_version", min(info.Version, infoVersion)).Msg("bound cosmic toplevel info")
}

// listed runs once the initial toplevels are known. Their cosmic objects
// were requested as they arrived, so one more roundtrip collects the state.
func (s *session) listed() {
	if err := s.conn.Write(s.conn.Sync(s.initialSync)); err != nil {
		s.fail(err)
	}
}

// initialSync emits the snapshot of everything listed on bind
func (s *session) initialSync() {
	var records []toplevel.Record
	for _, id := range s.order {
		if w, ok := s.windows[id]; ok && w.announced {
			w.dirty = false
			records = append(records, w.record())
		}
	}
	s.order = nil
	s.synced = true
	s.b.log.Debug().Int("toplevels", len(records)).Msg("initial toplevel sync")
	s.sink(toplevel.SyncedEvent(records))
}

func (s *session) fail(err error) {
	s.failErr = err
	s.finished = true
}

func (s *session) dispatch(m wayland.Message) {
	d := wayland.NewDecoder(m)

	switch {
	case m.Sender == s.list:
		switch m.Opcode {
		case listToplevel:
			id := d.Uint()
			if d.Err() != nil {
				s.fail(fmt.Errorf("list toplevel: %w", d.Err()))
				return
			}
			s.addWindow(id)
		case listFinished:
			s.finished = true
		}

	case m.Sender == s.info:
		switch m.Opcode {
		case infoDone:
			s.flush()
		case infoFinished:
			s.finished = true
		}

	case m.Sender == s.manager:
		if m.Opcode == managerCapabilities {
			s.capabilities(wayland.Uints(d.Array()))
		}

	case s.seat != 0 && m.Sender == s.seat:
		// capabilities and name are not needed

	default:
		if w, ok := s.windows[m.Sender]; ok {
			s.extEvent(w, m.Opcode, d)
		} else if w, ok := s.cosmic[m.Sender]; ok {
			s.cosmicEvent(w, m.Opcode, d)
		} else {
			s.b.log.Debug().Uint32("object", m.Sender).Uint16("opcode", m.Opcode).Msg("event for unknown object")
			return
		}
	}

	if d.Err() != nil {
		// drop the malformed event and keep the connection
		s.b.log.Warn().Err(d.Err()).Uint32("object", m.Sender).Uint16("opcode", m.Opcode).Msg("malformed toplevel event")
	}
}

func (s *session) capabilities(caps []uint32) {
	var activate, minimize bool
	for _, c := range caps {
		switch c {
		case capabilityActivate:
			activate = true
		case capabilityMinimize:
			minimize = true
		}
	}
	if !activate || !minimize {
		s.b.log.Warn().Bool("activate", activate).Bool("minimize", minimize).Msg("toplevel manager lacks capabilities")
	}
}

func (s *session) addWindow(ext uint32) {
	w := &window{
		handle: toplevel.Handle(fmt.Sprintf("cosmic-%d-%d", s.gen, ext)),
		ext:    ext,
		cosmic: s.conn.NewID(),
	}
	s.windows[ext] = w
	s.cosmic[w.cosmic] = w
	if !s.synced {
		s.order = append(s.order, ext)
	}

	req := wayland.NewMessage(s.info, infoGetCosmicToplevel).Uint(w.cosmic).Uint(ext).Bytes()
	if err := s.conn.Write(req); err != nil {
		s.fail(err)
		return
	}

	s.b.mu.Lock()
	if s.b.objects != nil {
		s.b.objects[w.handle] = w.cosmic
	}
	s.b.mu.Unlock()
}

func (s *session) extEvent(w *window, opcode uint16, d *wayland.Decoder) {
	switch opcode {
	case extTitle:
		w.title = d.String()
	case extAppID:
		w.appID = d.String()
	case extIdentifier:
	case extDone:
		s.done(w)
	case extClosed:
		s.closed(w)
	}
}

func (s *session) cosmicEvent(w *window, opcode uint16, d *wayland.Decoder) {
	switch opcode {
	case cosmicState:
		raw := d.Array()
		if d.Err() != nil {
			return
		}
		minimized, activated := false, false
		for _, st := range wayland.Uints(raw) {
			switch st {
			case stateMinimized:
				minimized = true
			case stateActivated:
				activated = true
			}
		}
		if minimized != w.minimized || activated != w.activated {
			w.minimized, w.activated = minimized, activated
			w.dirty = true
		}
	case cosmicDone:
		// older compositors still send the per-handle done
		if w.dirty && w.announced {
			s.done(w)
		}
	}
}

// flush reports state batched until zcosmic_toplevel_info_v1.done
func (s *session) flush() {
	for _, w := range s.windows {
		if w.dirty && w.announced {
			s.done(w)
		}
	}
}

func (s *session) done(w *window) {
	w.dirty = false
	if !w.announced {
		w.announced = true
		if s.synced {
			s.sink(toplevel.DiscoveredEvent(w.record()))
		}
		return
	}
	if s.synced {
		s.sink(toplevel.RefreshedEvent(w.record()))
	}
}

func (s *session) closed(w *window) {
	delete(s.windows, w.ext)
	delete(s.cosmic, w.cosmic)

	s.b.mu.Lock()
	delete(s.b.objects, w.handle)
	s.b.mu.Unlock()

	if w.announced && s.synced {
		s.sink(toplevel.Event{Kind: toplevel.Closed, Handle: w.handle})
	}
	err := s.conn.Write(
		wayland.NewMessage(w.cosmic, cosmicDestroy).Bytes(),
		wayland.NewMessage(w.ext, extDestroy).Bytes(),
	)
	if err != nil {
		s.b.log.Debug().Err(err).Msg("failed to destroy toplevel handles")
	}
}
