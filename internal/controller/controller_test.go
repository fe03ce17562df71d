package controller

import (
	"errors"
	"testing"
	"time"

	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/launcher"
	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/toplevel"
	"github.com/rs/zerolog"
)

type fakeSpawner struct {
	spawned []launcher.Identity
	nextPID int
	err     error
}

func (f *fakeSpawner) Spawn(id launcher.Identity) (*launcher.Process, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.nextPID++
	f.spawned = append(f.spawned, id)
	return &launcher.Process{PID: 1000 + f.nextPID, SpawnedAt: time.Now(), Identity: id}, nil
}

type recorder struct {
	activated []toplevel.Handle
	minimized []toplevel.Handle
}

func (r *recorder) Activate(h toplevel.Handle) error {
	r.activated = append(r.activated, h)
	return nil
}

func (r *recorder) Minimize(h toplevel.Handle) error {
	r.minimized = append(r.minimized, h)
	return nil
}

type harness struct {
	c          *Controller
	reg        *toplevel.Registry
	req        *recorder
	spawner    *fakeSpawner
	terminated []int
}

func newHarness(t *testing.T, binary string) *harness {
	t.Helper()
	h := &harness{req: &recorder{}, spawner: &fakeSpawner{}}
	h.reg = toplevel.NewRegistry(h.req)
	h.c = New(Options{
		Spawner:  h.spawner,
		Windows:  h.reg,
		Identity: func() launcher.Identity { return launcher.IdentityFor(binary, nil) },
		Terminate: func(pid int) error {
			h.terminated = append(h.terminated, pid)
			return nil
		},
		Logger: zerolog.Nop(),
	})
	return h
}

// event applies ev to the registry and then to the controller, the way the
// daemon loop does
func (h *harness) event(t *testing.T, ev toplevel.Event) {
	t.Helper()
	if err := h.reg.Apply(ev); err != nil {
		t.Fatalf("Apply(%s) error: %v", ev.Kind, err)
	}
	h.c.HandleEvent(ev)
}

func (h *harness) discover(t *testing.T, handle toplevel.Handle, appID string) {
	t.Helper()
	h.event(t, toplevel.DiscoveredEvent(toplevel.Record{Handle: handle, AppID: appID}))
}

func (h *harness) exit(pid int) {
	h.c.HandleExit(launcher.Exit{PID: pid, At: time.Now()})
}

func assertState(t *testing.T, c *Controller, want State) {
	t.Helper()
	if got := c.State(); got != want {
		t.Fatalf("state = %s, want %s", got, want)
	}
}

func TestScenario_AlacrittyActivatesOnce(t *testing.T) {
	h := newHarness(t, "alacritty")

	h.c.Toggle()
	assertState(t, h.c, AwaitingWindow)

	if len(h.spawner.spawned) != 1 {
		t.Fatalf("spawned %d processes, want 1", len(h.spawner.spawned))
	}
	argv := h.spawner.spawned[0].Argv()
	if len(argv) != 2 || argv[0] != "--class" || argv[1] != launcher.DefaultMarker {
		t.Errorf("argv = %v, want [--class %s]", argv, launcher.DefaultMarker)
	}

	h.discover(t, "other", "firefox")
	assertState(t, h.c, AwaitingWindow)

	h.discover(t, "term", launcher.DefaultMarker)
	assertState(t, h.c, Visible)

	if len(h.req.activated) != 1 || h.req.activated[0] != "term" {
		t.Errorf("activate requests = %v, want exactly [term]", h.req.activated)
	}
	if h.c.Handle() != "term" {
		t.Errorf("Handle = %q, want term", h.c.Handle())
	}
}

func TestToggle_IdempotentWhileAwaiting(t *testing.T) {
	h := newHarness(t, "alacritty")
	h.c.Toggle()
	h.c.Toggle()
	h.c.Toggle()

	assertState(t, h.c, AwaitingWindow)
	if len(h.spawner.spawned) != 1 {
		t.Errorf("spawned %d processes, want 1", len(h.spawner.spawned))
	}
	if len(h.req.activated)+len(h.req.minimized) != 0 {
		t.Error("no requests may be issued before the window exists")
	}
}

func TestToggle_RoundTripKeepsHandle(t *testing.T) {
	h := newHarness(t, "alacritty")
	h.c.Toggle()
	h.discover(t, "term", launcher.DefaultMarker)

	h.c.Toggle()
	assertState(t, h.c, Hidden)
	h.c.Toggle()
	assertState(t, h.c, Visible)
	h.c.Toggle()
	assertState(t, h.c, Hidden)

	if h.c.Handle() != "term" {
		t.Errorf("Handle = %q, want term", h.c.Handle())
	}
	wantMin := []toplevel.Handle{"term", "term"}
	if len(h.req.minimized) != len(wantMin) {
		t.Errorf("minimize requests = %v, want %v", h.req.minimized, wantMin)
	}
	// one on discovery, one on the show toggle
	if len(h.req.activated) != 2 {
		t.Errorf("activate requests = %v, want 2", h.req.activated)
	}
	if len(h.spawner.spawned) != 1 {
		t.Error("round trip must not respawn")
	}
}

func TestExit_SelfHealsBeforeWindow(t *testing.T) {
	h := newHarness(t, "alacritty")
	h.c.Toggle()
	pid := h.c.Process().PID

	h.exit(pid)
	assertState(t, h.c, NotStarted)
	if h.c.Process() != nil {
		t.Error("process handle should be dropped")
	}

	h.c.Toggle()
	assertState(t, h.c, AwaitingWindow)
	if len(h.spawner.spawned) != 2 {
		t.Errorf("spawned %d, want 2", len(h.spawner.spawned))
	}
}

func TestExit_ResetsFromAnyState(t *testing.T) {
	for _, target := range []State{AwaitingWindow, Hidden, Visible} {
		t.Run(target.String(), func(t *testing.T) {
			h := newHarness(t, "alacritty")
			h.c.Toggle()
			if target != AwaitingWindow {
				h.discover(t, "term", launcher.DefaultMarker)
			}
			if target == Hidden {
				h.c.Toggle()
			}
			assertState(t, h.c, target)

			h.exit(h.c.Process().PID)
			assertState(t, h.c, NotStarted)
			if h.c.Handle() != "" {
				t.Error("handle should be cleared")
			}
		})
	}
}

func TestExit_StalePIDIgnored(t *testing.T) {
	h := newHarness(t, "alacritty")
	h.c.Toggle()
	h.discover(t, "term", launcher.DefaultMarker)

	h.exit(h.c.Process().PID + 42)
	assertState(t, h.c, Visible)
}

func TestSpawnError_StaysNotStarted(t *testing.T) {
	h := newHarness(t, "alacritty")
	h.spawner.err = &launcher.SpawnError{Kind: launcher.ExecutableNotFound, Binary: "alacritty", Err: errors.New("missing")}

	h.c.Toggle()
	assertState(t, h.c, NotStarted)

	h.spawner.err = nil
	h.c.Toggle()
	assertState(t, h.c, AwaitingWindow)
}

func TestDiscovery_IgnoredWhenNotStarted(t *testing.T) {
	h := newHarness(t, "alacritty")
	h.discover(t, "term", launcher.DefaultMarker)
	assertState(t, h.c, NotStarted)
	if len(h.req.activated) != 0 {
		t.Error("no activation without a tracked process")
	}
}

func TestHidden_RecreatedWindowRebinds(t *testing.T) {
	h := newHarness(t, "alacritty")
	h.c.Toggle()
	h.discover(t, "term-1", launcher.DefaultMarker)
	h.c.Toggle()
	assertState(t, h.c, Hidden)

	// The compositor recreated the window under a new handle
	h.discover(t, "term-2", launcher.DefaultMarker)
	assertState(t, h.c, Hidden)
	if h.c.Handle() != "term-2" {
		t.Errorf("Handle = %q, want term-2", h.c.Handle())
	}

	h.c.Toggle()
	assertState(t, h.c, Visible)
	if last := h.req.activated[len(h.req.activated)-1]; last != "term-2" {
		t.Errorf("activated %q, want term-2", last)
	}
}

func TestToggle_RevalidatesDeadHandle(t *testing.T) {
	h := newHarness(t, "alacritty")
	h.c.Toggle()
	h.discover(t, "term-1", launcher.DefaultMarker)
	h.discover(t, "term-2", launcher.DefaultMarker)

	// term-1 vanished from a snapshot without a close event
	h.event(t, toplevel.SyncedEvent([]toplevel.Record{{Handle: "term-2", AppID: launcher.DefaultMarker, Activated: true}}))
	if h.c.Handle() != "term-2" {
		t.Fatalf("Handle after sync = %q, want term-2", h.c.Handle())
	}

	h.c.Toggle()
	assertState(t, h.c, Hidden)
	if len(h.req.minimized) != 1 || h.req.minimized[0] != "term-2" {
		t.Errorf("minimize requests = %v, want [term-2]", h.req.minimized)
	}
}

func TestToggle_LostWindowWaits(t *testing.T) {
	h := newHarness(t, "alacritty")
	h.c.Toggle()
	h.discover(t, "term", launcher.DefaultMarker)
	h.event(t, toplevel.SyncedEvent(nil))

	h.c.Toggle()
	assertState(t, h.c, AwaitingWindow)
	if len(h.req.minimized) != 0 {
		t.Error("must not minimize a window that is gone")
	}
	if len(h.spawner.spawned) != 1 {
		t.Error("process is still alive; must not respawn")
	}

	h.discover(t, "term-new", launcher.DefaultMarker)
	assertState(t, h.c, Visible)
}

func TestClosed_TerminatesProcess(t *testing.T) {
	h := newHarness(t, "alacritty")
	h.c.Toggle()
	pid := h.c.Process().PID
	h.discover(t, "term", launcher.DefaultMarker)

	h.event(t, toplevel.Event{Kind: toplevel.Closed, Handle: "term"})
	assertState(t, h.c, NotStarted)
	if len(h.terminated) != 1 || h.terminated[0] != pid {
		t.Errorf("terminated = %v, want [%d]", h.terminated, pid)
	}

	// The exit that follows is stale
	h.exit(pid)
	assertState(t, h.c, NotStarted)
}

func TestClosed_OtherWindowIgnored(t *testing.T) {
	h := newHarness(t, "alacritty")
	h.c.Toggle()
	h.discover(t, "term", launcher.DefaultMarker)
	h.discover(t, "other", "firefox")

	h.event(t, toplevel.Event{Kind: toplevel.Closed, Handle: "other"})
	assertState(t, h.c, Visible)
	if len(h.terminated) != 0 {
		t.Error("closing an unrelated window must not terminate the terminal")
	}
}

func TestStateChanged_FollowsCompositor(t *testing.T) {
	h := newHarness(t, "alacritty")
	h.c.Toggle()
	h.discover(t, "term", launcher.DefaultMarker)

	// minimized from the taskbar
	h.event(t, toplevel.Event{Kind: toplevel.StateChanged, Handle: "term", Minimized: true})
	assertState(t, h.c, Hidden)

	h.c.Toggle()
	assertState(t, h.c, Visible)

	// focus moving away alone does not hide
	h.event(t, toplevel.Event{Kind: toplevel.StateChanged, Handle: "term"})
	assertState(t, h.c, Visible)

	h.c.Toggle()
	assertState(t, h.c, Hidden)

	// restored by clicking it
	h.event(t, toplevel.Event{Kind: toplevel.StateChanged, Handle: "term", Activated: true})
	assertState(t, h.c, Visible)
}

func TestSynced_BindsWhileAwaiting(t *testing.T) {
	h := newHarness(t, "alacritty")
	h.c.Toggle()

	h.event(t, toplevel.SyncedEvent([]toplevel.Record{
		{Handle: "a", AppID: "firefox"},
		{Handle: "b", AppID: launcher.DefaultMarker},
	}))
	assertState(t, h.c, Visible)
	if h.c.Handle() != "b" {
		t.Errorf("Handle = %q, want b", h.c.Handle())
	}
	if len(h.req.activated) != 1 {
		t.Errorf("activate requests = %v, want 1", h.req.activated)
	}
}

func TestShutdown_TerminatesTerminal(t *testing.T) {
	h := newHarness(t, "alacritty")
	h.c.Shutdown()
	if len(h.terminated) != 0 {
		t.Error("nothing to terminate when NotStarted")
	}

	h.c.Toggle()
	pid := h.c.Process().PID
	h.c.Shutdown()
	assertState(t, h.c, NotStarted)
	if len(h.terminated) != 1 || h.terminated[0] != pid {
		t.Errorf("terminated = %v, want [%d]", h.terminated, pid)
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t, "alacritty")
	st := h.c.Status()
	if st.State != "NotStarted" || st.PID != 0 || st.SpawnedAt != nil {
		t.Errorf("idle status = %+v", st)
	}

	h.c.Toggle()
	h.event(t, toplevel.DiscoveredEvent(toplevel.Record{Handle: "term", AppID: launcher.DefaultMarker, Title: "~"}))

	st = h.c.Status()
	if st.State != "Visible" || st.Handle != "term" || st.Title != "~" {
		t.Errorf("status = %+v", st)
	}
	if st.Terminal != "alacritty" || st.Marker != launcher.DefaultMarker || st.SpawnedAt == nil {
		t.Errorf("status process fields = %+v", st)
	}
}

func TestIdentity_ReadPerSpawn(t *testing.T) {
	h := newHarness(t, "alacritty")
	binary := "alacritty"
	h.c.identity = func() launcher.Identity { return launcher.IdentityFor(binary, nil) }

	h.c.Toggle()
	h.exit(h.c.Process().PID)

	binary = "foot"
	h.c.Toggle()

	if len(h.spawner.spawned) != 2 {
		t.Fatalf("spawned %d, want 2", len(h.spawner.spawned))
	}
	if got := h.spawner.spawned[1].Binary; got != "foot" {
		t.Errorf("second spawn binary = %q, want foot", got)
	}
	if got := h.spawner.spawned[1].Strategy; got != launcher.AppIDFlag {
		t.Errorf("second spawn strategy = %s, want AppIDFlag", got)
	}
}

func TestAwaiting_IgnoresWindowsThatPredateSpawn(t *testing.T) {
	h := newHarness(t, "ghostty")
	marker := launcher.IdentityFor("ghostty", nil).Marker

	// The user already has a ghostty window with the shared app-id
	h.discover(t, "users-ghostty", marker)

	h.c.Toggle()
	assertState(t, h.c, AwaitingWindow)

	h.event(t, toplevel.RefreshedEvent(toplevel.Record{Handle: "users-ghostty", AppID: marker, Title: "vim"}))
	assertState(t, h.c, AwaitingWindow)

	h.event(t, toplevel.SyncedEvent([]toplevel.Record{{Handle: "users-ghostty", AppID: marker, Activated: true}}))
	assertState(t, h.c, AwaitingWindow)
	if len(h.req.activated) != 0 {
		t.Fatalf("activate requests = %v, want none for a pre-existing window", h.req.activated)
	}

	h.discover(t, "quake", marker)
	assertState(t, h.c, Visible)
	if h.c.Handle() != "quake" {
		t.Errorf("Handle = %q, want quake", h.c.Handle())
	}
	if len(h.req.activated) != 1 || h.req.activated[0] != "quake" {
		t.Errorf("activate requests = %v, want [quake]", h.req.activated)
	}
}

func TestToggle_ReResolveSkipsPreexistingWindow(t *testing.T) {
	h := newHarness(t, "ghostty")
	marker := launcher.IdentityFor("ghostty", nil).Marker
	h.discover(t, "users-ghostty", marker)

	h.c.Toggle()
	h.discover(t, "quake", marker)
	h.event(t, toplevel.Event{Kind: toplevel.Closed, Handle: "quake"})
	h.terminated = nil

	// Closing the tracked window resets; spawn again and lose the window
	h.c.Toggle()
	h.discover(t, "quake-2", marker)
	h.event(t, toplevel.SyncedEvent([]toplevel.Record{{Handle: "users-ghostty", AppID: marker}}))

	h.c.Toggle()
	assertState(t, h.c, AwaitingWindow)
	for _, a := range h.req.activated {
		if a == "users-ghostty" {
			t.Fatalf("activated the user's window: %v", h.req.activated)
		}
	}
}

func TestToggle_ReplacesWindowlessTerminal(t *testing.T) {
	h := newHarness(t, "alacritty")
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h.c.now = func() time.Time { return clock }

	h.c.Toggle()
	first := h.c.Process().PID

	clock = clock.Add(DefaultWindowTimeout / 2)
	h.c.Toggle()
	if len(h.spawner.spawned) != 1 || len(h.terminated) != 0 {
		t.Fatalf("toggle inside the window timeout must be ignored (spawned %d, terminated %v)",
			len(h.spawner.spawned), h.terminated)
	}

	clock = clock.Add(DefaultWindowTimeout)
	h.c.Toggle()
	assertState(t, h.c, AwaitingWindow)
	if len(h.terminated) != 1 || h.terminated[0] != first {
		t.Errorf("terminated = %v, want [%d]", h.terminated, first)
	}
	if len(h.spawner.spawned) != 2 {
		t.Fatalf("spawned %d, want a replacement", len(h.spawner.spawned))
	}

	// The replaced process's exit is stale
	second := h.c.Process().PID
	h.exit(first)
	assertState(t, h.c, AwaitingWindow)
	if h.c.Process().PID != second {
		t.Errorf("PID = %d, want %d", h.c.Process().PID, second)
	}
}

func TestToggle_WindowTimeoutDisabled(t *testing.T) {
	h := newHarness(t, "alacritty")
	clock := time.Now()
	h.c.now = func() time.Time { return clock }
	h.c.windowTimeout = -1

	h.c.Toggle()
	clock = clock.Add(time.Hour)
	h.c.Toggle()
	if len(h.spawner.spawned) != 1 || len(h.terminated) != 0 {
		t.Errorf("disabled timeout must never replace the terminal")
	}
}
