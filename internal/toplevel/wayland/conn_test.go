package wayland_test

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/toplevel/wayland"
	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/toplevel/wayland/waylandtest"
)

func TestListGlobals(t *testing.T) {
	srv := waylandtest.NewServer(t)

	type result struct {
		globals []wayland.Global
		err     error
	}
	done := make(chan result, 1)
	go func() {
		gs, err := wayland.ListGlobals(context.Background(), srv.Path)
		done <- result{gs, err}
	}()

	srv.Accept()
	srv.Registry(
		wayland.Global{Name: 1, Interface: "wl_compositor", Version: 6},
		wayland.Global{Name: 2, Interface: wayland.SeatInterface, Version: 8},
	)

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("ListGlobals error: %v", res.err)
		}
		sort.Slice(res.globals, func(i, j int) bool { return res.globals[i].Name < res.globals[j].Name })
		if len(res.globals) != 2 || res.globals[1] != (wayland.Global{Name: 2, Interface: wayland.SeatInterface, Version: 8}) {
			t.Errorf("globals = %+v", res.globals)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ListGlobals did not return")
	}
}

func TestListGlobals_Cancelled(t *testing.T) {
	srv := waylandtest.NewServer(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := wayland.ListGlobals(ctx, srv.Path)
		done <- err
	}()

	// the server never answers the sync
	srv.Accept()
	srv.Expect(wayland.DisplayID, wayland.DisplayGetRegistry)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ListGlobals ignored cancellation")
	}
}

func TestListGlobals_DialFailure(t *testing.T) {
	if _, err := wayland.ListGlobals(context.Background(), filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected dial error")
	}
}

func TestConn_GlobalRemove(t *testing.T) {
	srv := waylandtest.NewServer(t)
	ready := make(chan *wayland.Conn, 1)
	go func() {
		c, err := wayland.Dial(context.Background(), srv.Path)
		if err != nil {
			t.Error(err)
			close(ready)
			return
		}
		ready <- c
	}()
	srv.Accept()
	c := <-ready
	if c == nil {
		t.FailNow()
	}
	defer c.Close()

	synced := 0
	if err := c.Write(c.GetRegistry(), c.Sync(func() { synced++ })); err != nil {
		t.Fatal(err)
	}
	registry := srv.Registry(wayland.Global{Name: 7, Interface: "zcosmic_toplevel_info_v1", Version: 3})
	srv.Send(wayland.NewMessage(registry, wayland.RegistryGlobalRemove).Uint(7))
	srv.Send(wayland.NewMessage(42, 0).Uint(1))

	// Everything up to the event for object 42 is consumed internally
	for {
		m, ok, err := c.Next()
		if err != nil {
			t.Fatalf("Next error: %v", err)
		}
		if ok {
			if m.Sender != 42 {
				t.Errorf("returned event from %d, want 42", m.Sender)
			}
			break
		}
	}
	if synced != 1 {
		t.Errorf("sync callback ran %d times, want 1", synced)
	}
	if _, ok := c.Global("zcosmic_toplevel_info_v1"); ok {
		t.Error("removed global still listed")
	}
}

func TestConn_ProtocolError(t *testing.T) {
	srv := waylandtest.NewServer(t)
	ready := make(chan *wayland.Conn, 1)
	go func() {
		c, _ := wayland.Dial(context.Background(), srv.Path)
		ready <- c
	}()
	srv.Accept()
	c := <-ready
	if c == nil {
		t.Fatal("dial failed")
	}
	defer c.Close()

	srv.Send(wayland.NewMessage(wayland.DisplayID, wayland.DisplayError).Uint(5).Uint(1).String("invalid object"))
	if _, _, err := c.Next(); err == nil {
		t.Error("expected protocol error")
	}
}
