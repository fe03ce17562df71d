// Package daemon runs the event loop that feeds toggle requests, toplevel
// events and process exits into the visibility controller.
//
// Every source posts into one channel and a single goroutine drains it, so
// events are handled strictly in arrival order and the controller and
// registry need no locks.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/config"
	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/controller"
	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/launcher"
	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/logging"
	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/models"
	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/toplevel"
	"github.com/rs/zerolog"
)

const (
	// DefaultRetryDelay is the wait before reconnecting a failed backend
	DefaultRetryDelay = 2 * time.Second

	queueSize = 64
)

// ErrStopped is returned to status callers once the loop has exited
var ErrStopped = errors.New("daemon stopped")

// Options configures a Daemon
type Options struct {
	// Config is the startup configuration
	Config *config.Config
	// ConfigPath, when set, is re-read before each spawn and watched for
	// changes
	ConfigPath string
	Backend    toplevel.Backend
	// Spawner defaults to a launcher.Launcher reporting exits to the loop
	Spawner controller.Spawner
	// Terminate defaults to launcher.Terminate
	Terminate  func(pid int) error
	RetryDelay time.Duration
	Logger     zerolog.Logger
}

type (
	toggleMsg   struct{}
	statusMsg   struct{ reply chan models.Status }
	toplevelMsg struct{ ev toplevel.Event }
	exitMsg     struct{ exit launcher.Exit }
	configMsg   struct{ cfg *config.Config }
	backendMsg  struct{ err error }
)

// Daemon owns the event loop. Toggle and Status are safe to call from any
// goroutine; everything else runs on the loop.
type Daemon struct {
	cfg        *config.Config
	configPath string
	backend    toplevel.Backend
	registry   *toplevel.Registry
	ctrl       *controller.Controller
	retryDelay time.Duration
	log        zerolog.Logger

	events    chan interface{}
	done      chan struct{}
	connected bool
}

// New wires a daemon. Run starts it.
func New(opts Options) (*Daemon, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("daemon: no compositor backend")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	d := &Daemon{
		cfg:        cfg,
		configPath: opts.ConfigPath,
		backend:    opts.Backend,
		retryDelay: opts.RetryDelay,
		log:        opts.Logger,
		events:     make(chan interface{}, queueSize),
		done:       make(chan struct{}),
	}
	if d.retryDelay <= 0 {
		d.retryDelay = DefaultRetryDelay
	}

	spawner := opts.Spawner
	if spawner == nil {
		spawner = launcher.New(func(exit launcher.Exit) {
			d.post(exitMsg{exit})
		}, d.log.With().Str("component", "launcher").Logger())
	}

	d.registry = toplevel.NewRegistry(opts.Backend)
	d.ctrl = controller.New(controller.Options{
		Spawner:   spawner,
		Windows:   d.registry,
		Identity:  d.identity,
		Terminate: opts.Terminate,
		Logger:    d.log.With().Str("component", "controller").Logger(),
	})
	return d, nil
}

// Toggle queues a toggle request
func (d *Daemon) Toggle() {
	d.post(toggleMsg{})
}

// HandleExit queues a process exit reported by a custom Spawner
func (d *Daemon) HandleExit(exit launcher.Exit) {
	d.post(exitMsg{exit})
}

// Status asks the loop for a snapshot
func (d *Daemon) Status(ctx context.Context) (models.Status, error) {
	reply := make(chan models.Status, 1)
	select {
	case d.events <- statusMsg{reply}:
	case <-d.done:
		return models.Status{}, ErrStopped
	case <-ctx.Done():
		return models.Status{}, ctx.Err()
	}

	select {
	case st := <-reply:
		return st, nil
	case <-d.done:
		return models.Status{}, ErrStopped
	case <-ctx.Done():
		return models.Status{}, ctx.Err()
	}
}

// post delivers msg to the loop, dropping it once the loop has exited
func (d *Daemon) post(msg interface{}) {
	select {
	case d.events <- msg:
	case <-d.done:
	}
}

// Run processes events until ctx is done. The managed terminal is stopped on
// return.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	backendDone := make(chan struct{})
	go func() {
		defer close(backendDone)
		d.runBackend(ctx)
	}()

	if d.configPath != "" {
		if w := d.watchConfig(); w != nil {
			defer w.Stop()
		}
	}

	d.log.Info().Str("backend", d.backend.Name()).Str("terminal", d.cfg.Terminal.Command).Msg("daemon started")

	for {
		select {
		case <-ctx.Done():
			d.ctrl.Shutdown()
			// Unblock producers before waiting for the backend to stop
			close(d.done)
			<-backendDone
			d.log.Info().Msg("daemon stopped")
			return nil
		case msg := <-d.events:
			d.dispatch(msg)
		}
	}
}

func (d *Daemon) dispatch(msg interface{}) {
	switch m := msg.(type) {
	case toggleMsg:
		d.ctrl.Toggle()

	case toplevelMsg:
		if err := d.registry.Apply(m.ev); err != nil {
			d.log.Warn().Err(err).Msg("dropped toplevel event")
			return
		}
		if m.ev.Kind == toplevel.Synced && !d.connected {
			d.connected = true
			d.log.Info().Int("toplevels", d.registry.Len()).Msg("compositor connected")
		}
		d.ctrl.HandleEvent(m.ev)

	case exitMsg:
		d.ctrl.HandleExit(m.exit)

	case statusMsg:
		m.reply <- d.status()

	case configMsg:
		d.applyConfig(m.cfg)

	case backendMsg:
		d.connected = false
		d.registry.Clear()
		d.log.Warn().Err(m.err).Dur("retry", d.retryDelay).Msg("compositor connection lost")
	}
}

// runBackend keeps the backend connected until ctx is done
func (d *Daemon) runBackend(ctx context.Context) {
	sink := func(ev toplevel.Event) { d.post(toplevelMsg{ev}) }
	for {
		err := d.backend.Run(ctx, sink)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("backend stopped")
		}
		d.post(backendMsg{err})

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.retryDelay):
		}
	}
}

func (d *Daemon) status() models.Status {
	st := d.ctrl.Status()
	st.Backend = d.backend.Name()
	st.Connected = d.connected

	tracked := d.ctrl.Handle()
	for _, r := range d.registry.Records() {
		st.Toplevels = append(st.Toplevels, models.Toplevel{
			Handle:    string(r.Handle),
			AppID:     r.AppID,
			Title:     r.Title,
			Minimized: r.Minimized,
			Activated: r.Activated,
			Tracked:   r.Handle == tracked,
		})
	}
	return st
}

// identity re-reads the config file so terminal edits apply to the next
// spawn. A broken file keeps the last good config.
func (d *Daemon) identity() launcher.Identity {
	if d.configPath != "" {
		cfg, err := config.LoadConfig(d.configPath)
		if err != nil {
			d.log.Warn().Err(err).Str("path", d.configPath).Msg("config reload failed, using last good config")
		} else {
			d.cfg = cfg
		}
	}
	return launcher.IdentityFor(d.cfg.Terminal.Command, d.cfg.Terminal.Args)
}

func (d *Daemon) applyConfig(cfg *config.Config) {
	prev := d.cfg
	d.cfg = cfg
	if err := logging.SetLevel(cfg.Logging.Level); err != nil {
		d.log.Warn().Err(err).Msg("invalid log level")
	}
	if prev.Compositor.Backend != cfg.Compositor.Backend || prev.IPC != cfg.IPC {
		d.log.Warn().Msg("compositor and ipc settings apply after restart")
	}
	d.log.Info().Str("terminal", cfg.Terminal.Command).Msg("config reloaded")
}

func (d *Daemon) watchConfig() *config.Watcher {
	w, err := config.NewWatcher(d.configPath, func() {
		cfg, err := config.LoadConfig(d.configPath)
		if err != nil {
			d.log.Warn().Err(err).Msg("ignoring invalid config change")
			return
		}
		d.post(configMsg{cfg})
	}, func(err error) {
		d.log.Debug().Err(err).Msg("config watcher error")
	})
	if err != nil {
		d.log.Warn().Err(err).Msg("config watcher unavailable")
		return nil
	}
	if err := w.Start(); err != nil {
		w.Stop()
		d.log.Debug().Err(err).Str("path", d.configPath).Msg("not watching config")
		return nil
	}
	return w
}
