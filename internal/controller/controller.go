// Package controller is the visibility state machine for the managed terminal.
//
// The controller is driven by three inputs: toggle requests, toplevel events
// (already applied to the registry) and process exits. It is not safe for
// concurrent use; the daemon calls it from a single event loop.
package controller

import (
	"time"

	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/launcher"
	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/models"
	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/toplevel"
	"github.com/rs/zerolog"
)

// Spawner starts terminal processes
type Spawner interface {
	Spawn(id launcher.Identity) (*launcher.Process, error)
}

// Windows is the controller's view of the toplevel registry
type Windows interface {
	FindByMarker(marker string) (toplevel.Handle, bool)
	Records() []toplevel.Record
	Live(h toplevel.Handle) bool
	Lookup(h toplevel.Handle) (toplevel.Record, bool)
	RequestActivate(h toplevel.Handle) error
	RequestMinimize(h toplevel.Handle) error
}

// DefaultWindowTimeout is how long a spawned terminal may stay windowless
// before a toggle replaces it
const DefaultWindowTimeout = 15 * time.Second

// Options configures a Controller
type Options struct {
	Spawner Spawner
	Windows Windows
	// Identity returns the terminal to spawn, read from the latest config
	Identity func() launcher.Identity
	// Terminate stops a process; defaults to launcher.Terminate
	Terminate func(pid int) error
	// WindowTimeout defaults to DefaultWindowTimeout; negative disables it
	WindowTimeout time.Duration
	// Now defaults to time.Now
	Now    func() time.Time
	Logger zerolog.Logger
}

// Controller owns the managed process and the visibility state
type Controller struct {
	state  State
	proc   *launcher.Process
	marker string
	handle toplevel.Handle
	// foreign holds windows that already carried the marker when the
	// terminal was spawned. They belong to someone else and are never bound.
	foreign       map[toplevel.Handle]bool
	awaitingSince time.Time

	spawner       Spawner
	windows       Windows
	identity      func() launcher.Identity
	terminate     func(pid int) error
	windowTimeout time.Duration
	now           func() time.Time
	log           zerolog.Logger
}

// New creates a controller in the NotStarted state
func New(opts Options) *Controller {
	terminate := opts.Terminate
	if terminate == nil {
		terminate = launcher.Terminate
	}
	timeout := opts.WindowTimeout
	if timeout == 0 {
		timeout = DefaultWindowTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		state:         NotStarted,
		spawner:       opts.Spawner,
		windows:       opts.Windows,
		identity:      opts.Identity,
		terminate:     terminate,
		windowTimeout: timeout,
		now:           now,
		log:           opts.Logger,
	}
}

// State returns the current state
func (c *Controller) State() State {
	return c.state
}

// Handle returns the tracked window handle, empty if none is bound
func (c *Controller) Handle() toplevel.Handle {
	return c.handle
}

// Marker returns the marker of the tracked terminal
func (c *Controller) Marker() string {
	return c.marker
}

// Process returns the tracked process, nil if none
func (c *Controller) Process() *launcher.Process {
	return c.proc
}

// Toggle handles one toggle request
func (c *Controller) Toggle() {
	switch c.state {
	case NotStarted:
		c.spawn()

	case AwaitingWindow:
		if c.windowTimeout > 0 && c.now().Sub(c.awaitingSince) >= c.windowTimeout {
			c.replaceWindowless()
			return
		}
		c.log.Debug().Str("marker", c.marker).Msg("toggle ignored: still waiting for window")

	case Hidden:
		h, ok := c.resolve()
		if !ok {
			c.lostWindow()
			return
		}
		c.log.Info().Str("handle", string(h)).Msg("toggle: showing terminal")
		c.activate(h)
		c.setState(Visible)

	case Visible:
		h, ok := c.resolve()
		if !ok {
			c.lostWindow()
			return
		}
		c.log.Info().Str("handle", string(h)).Msg("toggle: hiding terminal")
		if err := c.windows.RequestMinimize(h); err != nil {
			c.log.Warn().Err(err).Msg("minimize request failed")
		}
		c.setState(Hidden)
	}
}

func (c *Controller) spawn() {
	id := c.identity()
	proc, err := c.spawner.Spawn(id)
	if err != nil {
		c.log.Error().Err(err).Str("binary", id.Binary).Msg("failed to spawn terminal")
		return
	}

	c.proc = proc
	c.marker = id.Marker
	c.handle = ""
	c.foreign = nil
	for _, rec := range c.windows.Records() {
		if rec.AppID == c.marker {
			if c.foreign == nil {
				c.foreign = make(map[toplevel.Handle]bool)
			}
			c.foreign[rec.Handle] = true
		}
	}
	if len(c.foreign) > 0 {
		c.log.Debug().Int("windows", len(c.foreign)).Str("marker", c.marker).Msg("ignoring windows that predate the spawn")
	}
	c.log.Info().
		Int("pid", proc.PID).
		Str("marker", c.marker).
		Msg("toggle: terminal spawned, waiting for window")
	c.setState(AwaitingWindow)
}

// resolve re-validates the tracked handle, re-resolving by marker if the
// compositor recreated the window
func (c *Controller) resolve() (toplevel.Handle, bool) {
	if c.handle != "" && c.windows.Live(c.handle) {
		return c.handle, true
	}
	h, ok := c.find()
	if !ok {
		return "", false
	}
	if h != c.handle {
		c.log.Info().Str("old", string(c.handle)).Str("new", string(h)).Msg("re-resolved terminal window")
	}
	c.handle = h
	return h, true
}

// find returns the first live window with the marker that is ours to bind
func (c *Controller) find() (toplevel.Handle, bool) {
	if len(c.foreign) == 0 {
		return c.windows.FindByMarker(c.marker)
	}
	for _, rec := range c.windows.Records() {
		if rec.AppID == c.marker && !c.foreign[rec.Handle] {
			return rec.Handle, true
		}
	}
	return "", false
}

// replaceWindowless stops a terminal that never produced a window and
// spawns a fresh one. Its exit notification is ignored as stale.
func (c *Controller) replaceWindowless() {
	c.log.Warn().
		Int("pid", c.proc.PID).
		Str("marker", c.marker).
		Dur("waited", c.now().Sub(c.awaitingSince)).
		Msg("no terminal window appeared, restarting terminal")
	if err := c.terminate(c.proc.PID); err != nil {
		c.log.Warn().Err(err).Int("pid", c.proc.PID).Msg("failed to terminate terminal")
	}
	c.reset()
	c.spawn()
}

// lostWindow handles a toggle while the process lives but no window matches
func (c *Controller) lostWindow() {
	c.log.Warn().
		Str("marker", c.marker).
		Str("handle", string(c.handle)).
		Msg("tracked window is gone, waiting for it to reappear")
	c.handle = ""
	c.setState(AwaitingWindow)
}

// activate requests unminimize + focus. Focus is best-effort; the protocol
// cannot confirm it.
func (c *Controller) activate(h toplevel.Handle) {
	if err := c.windows.RequestActivate(h); err != nil {
		c.log.Warn().Err(err).Msg("activate request failed")
	}
}

// HandleEvent reacts to a toplevel event that the registry has already applied
func (c *Controller) HandleEvent(ev toplevel.Event) {
	if !c.state.HasProcess() {
		return
	}

	switch ev.Kind {
	case toplevel.Discovered:
		c.onDiscovered(ev.Handle, ev.AppID)

	case toplevel.Refreshed:
		if ev.Handle != c.handle {
			c.onDiscovered(ev.Handle, ev.AppID)
			return
		}
		if ev.AppID != c.marker {
			// The tracked window changed identity; look for another match
			c.handle = ""
			c.rebind()
			return
		}
		c.syncState(ev.Minimized, ev.Activated)

	case toplevel.StateChanged:
		if ev.Handle == c.handle {
			c.syncState(ev.Minimized, ev.Activated)
		}

	case toplevel.Closed:
		if ev.Handle == c.handle {
			c.onClosed()
			return
		}
		delete(c.foreign, ev.Handle)

	case toplevel.Synced:
		c.rebind()
	}
}

func (c *Controller) onDiscovered(h toplevel.Handle, appID string) {
	if appID != c.marker || c.foreign[h] {
		return
	}

	switch c.state {
	case AwaitingWindow:
		c.handle = h
		c.log.Info().Str("handle", string(h)).Str("marker", c.marker).Msg("terminal window found")
		c.activate(h)
		c.setState(Visible)

	case Hidden:
		if h != c.handle {
			c.log.Info().Str("old", string(c.handle)).Str("new", string(h)).Msg("terminal window recreated")
			c.handle = h
		}

	case Visible:
		// Keep a live binding; only replace a dead one
		if c.handle == "" || !c.windows.Live(c.handle) {
			c.handle = h
		}
	}
}

// rebind re-checks the binding after a full snapshot
func (c *Controller) rebind() {
	if c.handle != "" && c.windows.Live(c.handle) {
		if rec, ok := c.windows.Lookup(c.handle); ok && rec.AppID == c.marker {
			c.syncState(rec.Minimized, rec.Activated)
			return
		}
	}

	h, ok := c.find()
	if !ok {
		c.handle = ""
		return
	}

	if c.state == AwaitingWindow {
		c.onDiscovered(h, c.marker)
		return
	}
	c.handle = h
	if rec, ok := c.windows.Lookup(h); ok {
		c.syncState(rec.Minimized, rec.Activated)
	}
}

// syncState follows changes the user made outside the toggle, e.g. minimizing
// the terminal from a taskbar
func (c *Controller) syncState(minimized, activated bool) {
	if c.state != Hidden && c.state != Visible {
		return
	}
	switch {
	case minimized && c.state == Visible:
		c.log.Debug().Msg("terminal minimized by compositor")
		c.setState(Hidden)
	case activated && !minimized && c.state == Hidden:
		c.log.Debug().Msg("terminal activated by compositor")
		c.setState(Visible)
	}
}

// onClosed: the compositor closed the tracked window. The process is asked to
// exit and its later exit notification is ignored as stale.
func (c *Controller) onClosed() {
	c.log.Info().Str("handle", string(c.handle)).Msg("terminal window closed by compositor")
	if c.proc != nil {
		if err := c.terminate(c.proc.PID); err != nil {
			c.log.Warn().Err(err).Int("pid", c.proc.PID).Msg("failed to terminate terminal")
		}
	}
	c.reset()
}

// HandleExit reacts to a process exit notification
func (c *Controller) HandleExit(exit launcher.Exit) {
	if c.proc == nil || c.proc.PID != exit.PID {
		c.log.Debug().Int("pid", exit.PID).Msg("ignoring exit of untracked process")
		return
	}

	ev := c.log.Info().Int("pid", exit.PID).Dur("lifetime", exit.At.Sub(c.proc.SpawnedAt))
	if exit.Err != nil {
		ev = ev.AnErr("exit", exit.Err)
	}
	ev.Msg("terminal process exited")
	c.reset()
}

// Shutdown stops the tracked terminal when the daemon exits
func (c *Controller) Shutdown() {
	if c.proc == nil {
		return
	}
	if err := c.terminate(c.proc.PID); err != nil {
		c.log.Warn().Err(err).Int("pid", c.proc.PID).Msg("failed to terminate terminal on shutdown")
	}
	c.reset()
}

func (c *Controller) reset() {
	c.proc = nil
	c.handle = ""
	c.marker = ""
	c.foreign = nil
	c.setState(NotStarted)
}

func (c *Controller) setState(s State) {
	if s == c.state {
		return
	}
	c.log.Debug().Str("from", c.state.String()).Str("to", s.String()).Msg("state transition")
	c.state = s
	if s == AwaitingWindow {
		c.awaitingSince = c.now()
	}
}

// Status fills the controller part of a status snapshot
func (c *Controller) Status() models.Status {
	st := models.Status{
		State:  c.state.String(),
		Marker: c.marker,
		Handle: string(c.handle),
	}
	if c.proc != nil {
		st.PID = c.proc.PID
		spawned := c.proc.SpawnedAt
		st.SpawnedAt = &spawned
		st.Terminal = c.proc.Identity.Binary
	}
	if c.handle != "" {
		if rec, ok := c.windows.Lookup(c.handle); ok {
			st.Title = rec.Title
		}
	}
	return st
}
