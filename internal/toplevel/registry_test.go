package toplevel

import (
	"errors"
	"testing"
)

type fakeRequester struct {
	activated []Handle
	minimized []Handle
	err       error
}

func (f *fakeRequester) Activate(h Handle) error {
	f.activated = append(f.activated, h)
	return f.err
}

func (f *fakeRequester) Minimize(h Handle) error {
	f.minimized = append(f.minimized, h)
	return f.err
}

func discover(t *testing.T, r *Registry, h Handle, appID string) {
	t.Helper()
	if err := r.Apply(DiscoveredEvent(Record{Handle: h, AppID: appID, Title: string(h)})); err != nil {
		t.Fatalf("Apply(discovered %s) error: %v", h, err)
	}
}

func TestFindByMarker_ExactMatch(t *testing.T) {
	r := NewRegistry(&fakeRequester{})
	discover(t, r, "h-foobar", "foobar")
	discover(t, r, "h-foo", "foo")
	discover(t, r, "h-Foo", "Foo")

	h, ok := r.FindByMarker("foo")
	if !ok {
		t.Fatal("expected to find foo")
	}
	if h != "h-foo" {
		t.Errorf("FindByMarker(foo) = %q, want h-foo", h)
	}

	if _, ok := r.FindByMarker("fo"); ok {
		t.Error("prefix must not match")
	}
	if _, ok := r.FindByMarker("oobar"); ok {
		t.Error("suffix must not match")
	}
	if _, ok := r.FindByMarker(""); ok {
		t.Error("empty marker must not match")
	}
}

func TestFindByMarker_DiscoveryOrder(t *testing.T) {
	r := NewRegistry(&fakeRequester{})
	discover(t, r, "b", "term")
	discover(t, r, "a", "term")

	h, _ := r.FindByMarker("term")
	if h != "b" {
		t.Errorf("FindByMarker = %q, want first discovered %q", h, "b")
	}

	if err := r.Apply(Event{Kind: Closed, Handle: "b"}); err != nil {
		t.Fatal(err)
	}
	h, _ = r.FindByMarker("term")
	if h != "a" {
		t.Errorf("FindByMarker after close = %q, want %q", h, "a")
	}
}

func TestApply_StateAndTitle(t *testing.T) {
	r := NewRegistry(&fakeRequester{})
	discover(t, r, "h1", "quake")

	if err := r.Apply(Event{Kind: StateChanged, Handle: "h1", Minimized: true}); err != nil {
		t.Fatalf("StateChanged error: %v", err)
	}
	if err := r.Apply(Event{Kind: TitleChanged, Handle: "h1", Title: "vim"}); err != nil {
		t.Fatalf("TitleChanged error: %v", err)
	}

	rec, ok := r.Lookup("h1")
	if !ok {
		t.Fatal("h1 should be live")
	}
	if !rec.Minimized || rec.Activated {
		t.Errorf("state = (min %v, act %v), want (true, false)", rec.Minimized, rec.Activated)
	}
	if rec.Title != "vim" {
		t.Errorf("Title = %q, want vim", rec.Title)
	}
	if rec.AppID != "quake" {
		t.Errorf("AppID = %q, title change must not touch app-id", rec.AppID)
	}
}

func TestApply_RefreshedSupersedesWholesale(t *testing.T) {
	r := NewRegistry(&fakeRequester{})
	if err := r.Apply(DiscoveredEvent(Record{Handle: "h1", AppID: "old", Title: "a", Minimized: true})); err != nil {
		t.Fatal(err)
	}

	if err := r.Apply(RefreshedEvent(Record{Handle: "h1", AppID: "new", Activated: true})); err != nil {
		t.Fatal(err)
	}

	rec, _ := r.Lookup("h1")
	want := Record{Handle: "h1", AppID: "new", Activated: true}
	if rec != want {
		t.Errorf("record = %+v, want %+v", rec, want)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestApply_Closed(t *testing.T) {
	r := NewRegistry(&fakeRequester{})
	discover(t, r, "h1", "quake")

	if err := r.Apply(Event{Kind: Closed, Handle: "h1"}); err != nil {
		t.Fatal(err)
	}
	if r.Live("h1") {
		t.Error("h1 should be removed")
	}
	if _, ok := r.FindByMarker("quake"); ok {
		t.Error("closed window must not be found")
	}
}

func TestApply_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
	}{
		{"missing handle", Event{Kind: Discovered, AppID: "x"}},
		{"state for unknown", Event{Kind: StateChanged, Handle: "ghost"}},
		{"title for unknown", Event{Kind: TitleChanged, Handle: "ghost", Title: "t"}},
		{"close unknown", Event{Kind: Closed, Handle: "ghost"}},
		{"bad kind", Event{Kind: EventKind(99), Handle: "h"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(&fakeRequester{})
			err := r.Apply(tt.ev)
			var perr *ProtocolError
			if !errors.As(err, &perr) {
				t.Fatalf("expected ProtocolError, got %v", err)
			}
			if r.Len() != 0 {
				t.Error("dropped event must not change the registry")
			}
		})
	}
}

func TestApply_SyncedReconciles(t *testing.T) {
	r := NewRegistry(&fakeRequester{})
	discover(t, r, "keep", "a")
	discover(t, r, "gone", "b")

	err := r.Apply(SyncedEvent([]Record{
		{Handle: "keep", AppID: "a", Title: "updated"},
		{Handle: "fresh", AppID: "c"},
		{Handle: "", AppID: "ignored"},
	}))
	if err != nil {
		t.Fatal(err)
	}

	if r.Live("gone") {
		t.Error("handle missing from snapshot should be dropped")
	}
	if !r.Live("fresh") {
		t.Error("new handle from snapshot should be added")
	}
	rec, _ := r.Lookup("keep")
	if rec.Title != "updated" {
		t.Errorf("Title = %q, want updated", rec.Title)
	}

	records := r.Records()
	if len(records) != 2 || records[0].Handle != "keep" || records[1].Handle != "fresh" {
		t.Errorf("Records() = %+v, want [keep fresh]", records)
	}

	// Empty snapshot clears everything
	if err := r.Apply(SyncedEvent(nil)); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d after empty sync, want 0", r.Len())
	}
}

func TestRequests_RevalidateHandle(t *testing.T) {
	req := &fakeRequester{}
	r := NewRegistry(req)
	discover(t, r, "h1", "quake")

	if err := r.RequestActivate("h1"); err != nil {
		t.Fatalf("RequestActivate error: %v", err)
	}
	if err := r.RequestMinimize("h1"); err != nil {
		t.Fatalf("RequestMinimize error: %v", err)
	}
	if len(req.activated) != 1 || len(req.minimized) != 1 {
		t.Errorf("requests = (%v, %v), want one each", req.activated, req.minimized)
	}

	if err := r.RequestActivate("stale"); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("RequestActivate(stale) = %v, want ErrStaleHandle", err)
	}
	if err := r.RequestMinimize("stale"); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("RequestMinimize(stale) = %v, want ErrStaleHandle", err)
	}
	if len(req.activated) != 1 || len(req.minimized) != 1 {
		t.Error("stale handles must not reach the compositor")
	}

	req.err = ErrNotConnected
	if err := r.RequestActivate("h1"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("RequestActivate = %v, want wrapped ErrNotConnected", err)
	}
}

func TestClear(t *testing.T) {
	r := NewRegistry(&fakeRequester{})
	discover(t, r, "h1", "a")
	r.Clear()
	if r.Len() != 0 || r.Live("h1") {
		t.Error("Clear should drop all records")
	}
}
